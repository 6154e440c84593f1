package webhook

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	stripewebhook "github.com/stripe/stripe-go/v82/webhook"

	"github.com/open-rails/paykit/core"
	"github.com/open-rails/paykit/entitlements"
)

const testSecret = "whsec_test_secret"

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// signedHeader produces a Stripe-Signature header that verifies against
// testSecret for the given payload.
func signedHeader(payload []byte, at time.Time) string {
	return signedWith(payload, testSecret, at)
}

func signedWith(payload []byte, secret string, at time.Time) string {
	signed := stripewebhook.GenerateTestSignedPayload(&stripewebhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: at,
		Scheme:    "v1",
	})
	return signed.Header
}

type captureSync struct {
	mu      sync.Mutex
	grants  []entitlements.Grant
	revokes [][2]string // userID, watermark
	fail    error
}

func (s *captureSync) Grant(ctx context.Context, g entitlements.Grant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.grants = append(s.grants, g)
	return nil
}

func (s *captureSync) Revoke(ctx context.Context, userID, watermark string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.revokes = append(s.revokes, [2]string{userID, watermark})
	return nil
}

type fakeCache struct {
	seen   map[string]bool
	marked []string
	err    error
}

func (c *fakeCache) Seen(ctx context.Context, eventID string) (bool, error) {
	if c.err != nil {
		return false, c.err
	}
	return c.seen[eventID], nil
}

func (c *fakeCache) MarkSeen(ctx context.Context, eventID string) error {
	if c.err != nil {
		return c.err
	}
	c.marked = append(c.marked, eventID)
	return nil
}

func checkoutPayload(eventID string) []byte {
	return []byte(`{
		"id": "` + eventID + `",
		"type": "checkout.session.completed",
		"data": {"object": {
			"id": "cs_test_1",
			"metadata": {"user_id": "u1", "tier": "basic", "ai_tokens": "10", "storage": "50"}
		}}
	}`)
}

func subscriptionDeletedPayload(eventID, userID string) []byte {
	meta := ""
	if userID != "" {
		meta = `"user_id": "` + userID + `"`
	}
	return []byte(`{
		"id": "` + eventID + `",
		"type": "customer.subscription.deleted",
		"data": {"object": {"id": "sub_1", "metadata": {` + meta + `}}}
	}`)
}

func TestProcessRejectsBadSignature(t *testing.T) {
	sync := &captureSync{}
	p := NewProcessor(Config{SigningSecret: testSecret, Synchronizer: sync, Log: discardLogger()})
	payload := checkoutPayload("evt_1")

	cases := map[string]string{
		"empty header":    "",
		"garbage header":  "t=notatime,v1=zz",
		"wrong secret":    signedWith(payload, "whsec_other", time.Now()),
		"stale timestamp": signedHeader(payload, time.Now().Add(-time.Hour)),
	}
	for name, header := range cases {
		err := p.Process(context.Background(), payload, header)
		if !errors.Is(err, core.ErrInvalidSignature) {
			t.Errorf("%s: got %v, want ErrInvalidSignature", name, err)
		}
	}
	if len(sync.grants) != 0 {
		t.Errorf("rejected deliveries must not reach the synchronizer: %v", sync.grants)
	}
}

func TestProcessGrant(t *testing.T) {
	sync := &captureSync{}
	cache := &fakeCache{seen: map[string]bool{}}
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	p := NewProcessor(Config{
		SigningSecret: testSecret,
		RenewalWindow: 365 * 24 * time.Hour,
		Synchronizer:  sync,
		Cache:         cache,
		Log:           discardLogger(),
		Now:           func() time.Time { return now },
	})

	payload := checkoutPayload("evt_1")
	if err := p.Process(context.Background(), payload, signedHeader(payload, time.Now())); err != nil {
		t.Fatalf("process: %v", err)
	}

	if len(sync.grants) != 1 {
		t.Fatalf("expected one grant, got %d", len(sync.grants))
	}
	g := sync.grants[0]
	if g.UserID != "u1" || g.EventID != "evt_1" || g.Tier != entitlements.TierBasic ||
		g.AITokens != 10 || g.Storage != 50 {
		t.Errorf("unexpected grant: %+v", g)
	}
	if !g.ExpiresAt.Equal(now.Add(365 * 24 * time.Hour)) {
		t.Errorf("expiration not set from renewal window: %v", g.ExpiresAt)
	}
	if len(cache.marked) != 1 || cache.marked[0] != "evt_1" {
		t.Errorf("event not marked seen: %v", cache.marked)
	}
}

func TestProcessRevoke(t *testing.T) {
	sync := &captureSync{}
	p := NewProcessor(Config{SigningSecret: testSecret, Synchronizer: sync, Log: discardLogger()})

	payload := subscriptionDeletedPayload("evt_9", "u7")
	if err := p.Process(context.Background(), payload, signedHeader(payload, time.Now())); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(sync.revokes) != 1 || sync.revokes[0] != [2]string{"u7", "evt_9"} {
		t.Errorf("unexpected revokes: %v", sync.revokes)
	}
}

func TestProcessDuplicateShortCircuits(t *testing.T) {
	sync := &captureSync{}
	cache := &fakeCache{seen: map[string]bool{"evt_1": true}}
	p := NewProcessor(Config{SigningSecret: testSecret, Synchronizer: sync, Cache: cache, Log: discardLogger()})

	payload := checkoutPayload("evt_1")
	if err := p.Process(context.Background(), payload, signedHeader(payload, time.Now())); err != nil {
		t.Fatalf("duplicate should ack cleanly: %v", err)
	}
	if len(sync.grants) != 0 {
		t.Errorf("duplicate reached the synchronizer")
	}
}

func TestProcessCacheFailureFallsThrough(t *testing.T) {
	sync := &captureSync{}
	cache := &fakeCache{err: errors.New("redis down")}
	p := NewProcessor(Config{SigningSecret: testSecret, Synchronizer: sync, Cache: cache, Log: discardLogger()})

	payload := checkoutPayload("evt_1")
	if err := p.Process(context.Background(), payload, signedHeader(payload, time.Now())); err != nil {
		t.Fatalf("cache outage must not reject the event: %v", err)
	}
	if len(sync.grants) != 1 {
		t.Errorf("grant should land via the watermark path")
	}
}

func TestProcessIgnoresUnrelatedTypes(t *testing.T) {
	sync := &captureSync{}
	cache := &fakeCache{seen: map[string]bool{}}
	p := NewProcessor(Config{SigningSecret: testSecret, Synchronizer: sync, Cache: cache, Log: discardLogger()})

	payload := []byte(`{"id": "evt_2", "type": "invoice.paid", "data": {"object": {}}}`)
	if err := p.Process(context.Background(), payload, signedHeader(payload, time.Now())); err != nil {
		t.Fatalf("unrelated type should ack: %v", err)
	}
	if len(sync.grants) != 0 || len(sync.revokes) != 0 {
		t.Errorf("unrelated type dispatched")
	}
	if len(cache.marked) != 0 {
		t.Errorf("ignored events should not be cached: %v", cache.marked)
	}
}

func TestProcessMalformedMetadata(t *testing.T) {
	sync := &captureSync{}
	p := NewProcessor(Config{SigningSecret: testSecret, Synchronizer: sync, Log: discardLogger()})

	payloads := [][]byte{
		[]byte(`{"id": "evt_3", "type": "checkout.session.completed", "data": {"object": {"metadata": {"tier": "basic", "ai_tokens": "10", "storage": "50"}}}}`),
		[]byte(`{"id": "evt_4", "type": "checkout.session.completed", "data": {"object": {"metadata": {"user_id": "u1", "tier": "platinum", "ai_tokens": "10", "storage": "50"}}}}`),
		[]byte(`{"id": "evt_5", "type": "checkout.session.completed", "data": {"object": {"metadata": {"user_id": "u1", "tier": "basic", "ai_tokens": "lots", "storage": "50"}}}}`),
		subscriptionDeletedPayload("evt_6", ""),
	}
	for _, payload := range payloads {
		err := p.Process(context.Background(), payload, signedHeader(payload, time.Now()))
		if !errors.Is(err, core.ErrMalformedPayload) {
			t.Errorf("payload %s: got %v, want ErrMalformedPayload", payload, err)
		}
	}
	if len(sync.grants) != 0 || len(sync.revokes) != 0 {
		t.Errorf("malformed payload reached the synchronizer")
	}
}

func TestProcessSynchronizerFailureSurfaces(t *testing.T) {
	sync := &captureSync{fail: errors.New("store down")}
	cache := &fakeCache{seen: map[string]bool{}}
	p := NewProcessor(Config{SigningSecret: testSecret, Synchronizer: sync, Cache: cache, Log: discardLogger()})

	payload := checkoutPayload("evt_1")
	if err := p.Process(context.Background(), payload, signedHeader(payload, time.Now())); err == nil {
		t.Fatalf("store failure must surface for redelivery")
	}
	if len(cache.marked) != 0 {
		t.Errorf("failed event must not be marked seen: %v", cache.marked)
	}
}

type captureContacts struct {
	email, locale string
	err           error
}

func (c captureContacts) LookupContact(ctx context.Context, userID string) (string, string, error) {
	return c.email, c.locale, c.err
}

type captureNotifier struct {
	sent []string
	err  error
}

func (n *captureNotifier) Send(ctx context.Context, recipient, subject, body string) error {
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, recipient+"|"+subject+"|"+body)
	return nil
}

func TestProcessGrantNotifies(t *testing.T) {
	sync := &captureSync{}
	notifier := &captureNotifier{}
	p := NewProcessor(Config{
		SigningSecret: testSecret,
		Synchronizer:  sync,
		Contacts:      captureContacts{email: "u1@example.com", locale: "en"},
		Notifier:      notifier,
		Log:           discardLogger(),
	})

	payload := checkoutPayload("evt_1")
	if err := p.Process(context.Background(), payload, signedHeader(payload, time.Now())); err != nil {
		t.Fatalf("process: %v", err)
	}
	want := "u1@example.com|Subscription Successful|Thank you for subscribing!"
	if len(notifier.sent) != 1 || notifier.sent[0] != want {
		t.Errorf("notification mismatch: %v", notifier.sent)
	}
}

func TestProcessNotificationFailureIsNotFatal(t *testing.T) {
	sync := &captureSync{}
	p := NewProcessor(Config{
		SigningSecret: testSecret,
		Synchronizer:  sync,
		Contacts:      captureContacts{err: errors.New("lookup failed")},
		Notifier:      &captureNotifier{err: errors.New("smtp down")},
		Log:           discardLogger(),
	})

	payload := checkoutPayload("evt_1")
	if err := p.Process(context.Background(), payload, signedHeader(payload, time.Now())); err != nil {
		t.Fatalf("notification problems must not fail the delivery: %v", err)
	}
	if len(sync.grants) != 1 {
		t.Errorf("grant should still land")
	}
}
