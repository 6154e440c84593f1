package entitlements

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrConflict is returned by a ClaimsStore when a write is rejected due
// to a concurrent modification of the same identity record.
var ErrConflict = errors.New("entitlements: claims write conflict")

// ClaimsStore is the remote system of record for a user's entitlement
// attributes. Implementations must return the zero Record (with UserID
// set) for identities that have no entitlement yet.
type ClaimsStore interface {
	ReadRecord(ctx context.Context, userID string) (Record, error)
	WriteRecord(ctx context.Context, rec Record) error
}

// Auditor receives applied changes after a successful claims write.
// Implementations should be best-effort; errors are logged, not surfaced.
type Auditor interface {
	RecordChange(ctx context.Context, ch Change) error
}

// Change describes one applied grant or revoke.
type Change struct {
	UserID    string
	Watermark string
	FromTier  Tier
	ToTier    Tier
	AppliedAt time.Time
}

// Grant is a request to apply a completed purchase to a user record.
type Grant struct {
	UserID    string
	EventID   string
	Tier      Tier
	AITokens  int64
	Storage   int64
	ExpiresAt time.Time
}

// Synchronizer is the sole writer of entitlement records. It serializes
// concurrent grant/revoke requests per user id so the webhook path and
// the expiration sweep never interleave a read-modify-write.
type Synchronizer struct {
	store ClaimsStore
	audit Auditor
	log   logrus.FieldLogger
	locks *keyedMutex
}

// NewSynchronizer wires a synchronizer over the given claims store.
// The auditor may be nil.
func NewSynchronizer(store ClaimsStore, audit Auditor, log logrus.FieldLogger) *Synchronizer {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Synchronizer{store: store, audit: audit, log: log, locks: newKeyedMutex()}
}

// Grant applies a completed-checkout event to the user's record. Replays
// of an already-applied event id succeed without writing. A grant whose
// expiration precedes the current one keeps the current expiration while
// still applying tier, quotas, and the new watermark.
func (s *Synchronizer) Grant(ctx context.Context, g Grant) error {
	if g.UserID == "" || g.EventID == "" {
		return fmt.Errorf("entitlements: grant requires user id and event id")
	}
	if g.AITokens < 0 || g.Storage < 0 {
		return fmt.Errorf("entitlements: grant quotas must be non-negative")
	}

	s.locks.Lock(g.UserID)
	defer s.locks.Unlock(g.UserID)

	cur, err := s.store.ReadRecord(ctx, g.UserID)
	if err != nil {
		return fmt.Errorf("entitlements: read record for grant: %w", err)
	}
	if cur.LastEventID == g.EventID {
		s.log.WithFields(logrus.Fields{"user_id": g.UserID, "event_id": g.EventID}).
			Info("grant replay ignored")
		return nil
	}

	next := grantRecord(cur, g)
	if err := s.write(ctx, next, g.EventID, func(latest Record) Record {
		return grantRecord(latest, g)
	}); err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{
		"user_id":  g.UserID,
		"event_id": g.EventID,
		"tier":     g.Tier,
		"expires":  next.ExpiresAt.Format(time.RFC3339),
	}).Info("entitlement granted")
	s.recordChange(ctx, Change{UserID: g.UserID, Watermark: g.EventID, FromTier: cur.Tier, ToTier: g.Tier, AppliedAt: time.Now()})
	return nil
}

// Revoke clears the user's entitlement. Revoking an already-cleared
// record succeeds without writing. The watermark distinguishes a sweep
// revocation from a payment-event grant.
func (s *Synchronizer) Revoke(ctx context.Context, userID, watermark string) error {
	if userID == "" || watermark == "" {
		return fmt.Errorf("entitlements: revoke requires user id and watermark")
	}

	s.locks.Lock(userID)
	defer s.locks.Unlock(userID)

	cur, err := s.store.ReadRecord(ctx, userID)
	if err != nil {
		return fmt.Errorf("entitlements: read record for revoke: %w", err)
	}
	if !cur.Granted() {
		return nil
	}

	if err := s.write(ctx, cur.revoked(watermark), watermark, func(latest Record) Record {
		return latest.revoked(watermark)
	}); err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{"user_id": userID, "watermark": watermark}).
		Info("entitlement revoked")
	s.recordChange(ctx, Change{UserID: userID, Watermark: watermark, FromTier: cur.Tier, ToTier: TierNone, AppliedAt: time.Now()})
	return nil
}

// write persists rec, retrying once if the store rejects the write with
// a conflict. The retry rebuilds the record from a fresh read so state
// applied by the conflicting writer is not rolled back. A replayed
// watermark seen on the re-read turns the retry into a no-op.
func (s *Synchronizer) write(ctx context.Context, rec Record, watermark string, rebuild func(Record) Record) error {
	err := s.store.WriteRecord(ctx, rec)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrConflict) {
		return fmt.Errorf("entitlements: write record: %w", err)
	}

	s.log.WithField("user_id", rec.UserID).Warn("claims write conflict, retrying once")
	cur, rerr := s.store.ReadRecord(ctx, rec.UserID)
	if rerr != nil {
		return fmt.Errorf("entitlements: re-read after conflict: %w", rerr)
	}
	if cur.LastEventID == watermark {
		return nil
	}
	if err := s.store.WriteRecord(ctx, rebuild(cur)); err != nil {
		return fmt.Errorf("entitlements: write record after conflict retry: %w", err)
	}
	return nil
}

// grantRecord builds the post-grant record from the current one. The
// expiration only ever moves forward: a grant carrying an earlier
// expiration than cur keeps cur's while still applying tier, quotas,
// and the watermark.
func grantRecord(cur Record, g Grant) Record {
	exp := g.ExpiresAt
	if cur.ExpiresAt != nil && exp.Before(*cur.ExpiresAt) {
		exp = *cur.ExpiresAt
	}
	return Record{
		UserID:      g.UserID,
		Tier:        g.Tier,
		AITokens:    g.AITokens,
		Storage:     g.Storage,
		ExpiresAt:   &exp,
		LastEventID: g.EventID,
	}
}

func (s *Synchronizer) recordChange(ctx context.Context, ch Change) {
	if s.audit == nil {
		return
	}
	if err := s.audit.RecordChange(ctx, ch); err != nil {
		s.log.WithError(err).WithField("user_id", ch.UserID).Warn("audit write failed")
	}
}
