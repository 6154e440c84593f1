package memorystore

import (
	"context"
	"fmt"
	"sync"

	"github.com/open-rails/paykit/entitlements"
)

// ClaimsStore is an in-memory claims store for local development and
// tests. Unknown user ids read as fresh records, matching how an
// identity record without entitlement attributes behaves.
type ClaimsStore struct {
	mu   sync.Mutex
	recs map[string]entitlements.Record
}

func NewClaimsStore() *ClaimsStore {
	return &ClaimsStore{recs: make(map[string]entitlements.Record)}
}

func (s *ClaimsStore) ReadRecord(ctx context.Context, userID string) (entitlements.Record, error) {
	_ = ctx
	if userID == "" {
		return entitlements.Record{}, fmt.Errorf("memorystore: empty user id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.recs[userID]; ok {
		return rec, nil
	}
	return entitlements.Record{UserID: userID}, nil
}

func (s *ClaimsStore) WriteRecord(ctx context.Context, rec entitlements.Record) error {
	_ = ctx
	if rec.UserID == "" {
		return fmt.Errorf("memorystore: record missing user id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs[rec.UserID] = rec
	return nil
}

func (s *ClaimsStore) ListRecords(ctx context.Context) ([]entitlements.Record, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]entitlements.Record, 0, len(s.recs))
	for _, rec := range s.recs {
		out = append(out, rec)
	}
	return out, nil
}

// Seed installs a record directly, bypassing the synchronizer.
func (s *ClaimsStore) Seed(rec entitlements.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs[rec.UserID] = rec
}
