// Package audit keeps a Postgres trail of applied entitlement changes.
// Writes are best-effort: the synchronizer logs audit failures and moves
// on, so the store must never be load-bearing for correctness.
package audit

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/open-rails/paykit/entitlements"
)

// Store appends entitlement changes to the billing schema.
type Store struct {
	pg     *pgxpool.Pool
	schema string
}

func NewStore(pg *pgxpool.Pool, schema string) *Store {
	s := strings.TrimSpace(schema)
	if s == "" {
		s = "billing"
	}
	return &Store{pg: pg, schema: s}
}

func (s *Store) changesTable() string { return s.schema + ".entitlement_changes" }

// RecordChange appends one applied grant or revoke.
func (s *Store) RecordChange(ctx context.Context, ch entitlements.Change) error {
	if s.pg == nil {
		return nil
	}
	_, err := s.pg.Exec(ctx,
		`INSERT INTO `+s.changesTable()+` (id, user_id, watermark, from_tier, to_tier, applied_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.New(), ch.UserID, ch.Watermark, string(ch.FromTier), string(ch.ToTier), ch.AppliedAt.UTC(),
	)
	return err
}

// RecentByUser returns the newest changes for one user, newest first.
func (s *Store) RecentByUser(ctx context.Context, userID string, limit int) ([]entitlements.Change, error) {
	if s.pg == nil || userID == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pg.Query(ctx,
		`SELECT user_id, watermark, from_tier, to_tier, applied_at FROM `+s.changesTable()+`
		 WHERE user_id = $1 ORDER BY applied_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []entitlements.Change
	for rows.Next() {
		var ch entitlements.Change
		var from, to string
		var appliedAt time.Time
		if err := rows.Scan(&ch.UserID, &ch.Watermark, &from, &to, &appliedAt); err != nil {
			return nil, err
		}
		ch.FromTier = entitlements.Tier(from)
		ch.ToTier = entitlements.Tier(to)
		ch.AppliedAt = appliedAt
		out = append(out, ch)
	}
	return out, rows.Err()
}
