// Package sweep revokes expired entitlements on a fixed period. The
// sweep is read-mostly and tolerant of partial failure: a record that
// fails to revoke stays expired and is retried on the next run.
package sweep

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/open-rails/paykit/entitlements"
)

// ClaimsLister enumerates every known entitlement record.
type ClaimsLister interface {
	ListRecords(ctx context.Context) ([]entitlements.Record, error)
}

// Revoker clears one user's entitlement through the synchronizer.
type Revoker interface {
	Revoke(ctx context.Context, userID, watermark string) error
}

// Sweeper owns the periodic scan. Start it at service init and Stop it
// at shutdown; it never runs two scans concurrently (cron job wrapper
// skips if the previous run still holds).
type Sweeper struct {
	lister   ClaimsLister
	revoker  Revoker
	interval time.Duration
	timeout  time.Duration
	log      logrus.FieldLogger
	cron     *cron.Cron
	now      func() time.Time
}

// New builds a sweeper. interval defaults to 24h, timeout bounds each
// external call and defaults to 10s.
func New(lister ClaimsLister, revoker Revoker, interval, timeout time.Duration, log logrus.FieldLogger) *Sweeper {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Sweeper{
		lister:   lister,
		revoker:  revoker,
		interval: interval,
		timeout:  timeout,
		log:      log,
		now:      time.Now,
	}
}

// Start schedules the periodic scan.
func (s *Sweeper) Start() error {
	if s.cron != nil {
		return fmt.Errorf("sweep: already started")
	}
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	spec := fmt.Sprintf("@every %s", s.interval)
	if _, err := c.AddFunc(spec, func() {
		if _, _, err := s.RunOnce(context.Background()); err != nil {
			s.log.WithError(err).Error("expiration sweep failed")
		}
	}); err != nil {
		return fmt.Errorf("sweep: schedule %q: %w", spec, err)
	}
	c.Start()
	s.cron = c
	s.log.WithField("interval", s.interval).Info("expiration sweep scheduled")
	return nil
}

// Stop halts scheduling and waits for an in-flight run to finish, or
// for ctx to expire.
func (s *Sweeper) Stop(ctx context.Context) error {
	if s.cron == nil {
		return nil
	}
	done := s.cron.Stop()
	s.cron = nil
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce performs one scan: every record whose expiration is in the
// past is revoked with a synthetic sweep watermark. Per-record failures
// are logged and skipped. Returns revoked and failed counts.
func (s *Sweeper) RunOnce(ctx context.Context) (revoked, failed int, err error) {
	lctx, cancel := context.WithTimeout(ctx, s.timeout)
	records, err := s.lister.ListRecords(lctx)
	cancel()
	if err != nil {
		return 0, 0, fmt.Errorf("sweep: list records: %w", err)
	}

	now := s.now()
	watermark := "sweep:" + now.UTC().Format(time.RFC3339)
	for _, rec := range records {
		if !rec.Expired(now) {
			continue
		}
		rctx, cancel := context.WithTimeout(ctx, s.timeout)
		rerr := s.revoker.Revoke(rctx, rec.UserID, watermark)
		cancel()
		if rerr != nil {
			failed++
			s.log.WithError(rerr).WithField("user_id", rec.UserID).Warn("sweep revoke failed")
			continue
		}
		revoked++
		s.log.WithField("user_id", rec.UserID).Info("expired entitlement revoked")
	}
	s.log.WithFields(logrus.Fields{"scanned": len(records), "revoked": revoked, "failed": failed}).
		Info("expiration sweep completed")
	return revoked, failed, nil
}
