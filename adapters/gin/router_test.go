package authgin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	stripewebhook "github.com/stripe/stripe-go/v82/webhook"

	"github.com/open-rails/paykit/billing"
	"github.com/open-rails/paykit/core"
	"github.com/open-rails/paykit/entitlements"
	oidckit "github.com/open-rails/paykit/oidc"
	memorylimiter "github.com/open-rails/paykit/ratelimit/memory"
	memorystore "github.com/open-rails/paykit/storage/memory"
	paytesting "github.com/open-rails/paykit/testing"
	"github.com/open-rails/paykit/webhook"
)

const testSecret = "whsec_router_test"

func init() { gin.SetMode(gin.TestMode) }

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type fakeResolver struct {
	userID string
	err    error
}

func (f fakeResolver) ResolveIdentity(ctx context.Context, accessToken string) (string, error) {
	return f.userID, f.err
}

type fakeOpener struct{ sessionID string }

func (f fakeOpener) CreateSession(ctx context.Context, req billing.SessionRequest) (string, error) {
	return f.sessionID, nil
}

type captureSync struct {
	grants  int
	revokes int
}

func (s *captureSync) Grant(ctx context.Context, g entitlements.Grant) error {
	s.grants++
	return nil
}

func (s *captureSync) Revoke(ctx context.Context, userID, watermark string) error {
	s.revokes++
	return nil
}

func testService(resolver core.IdentityResolver) *core.Service {
	catalog := billing.NewCatalog(map[string]string{"basic": "price_b", "advanced": "price_a", "pro": "price_p"})
	return core.NewService(catalog, fakeOpener{sessionID: "cs_test_1"}, resolver, time.Second, discardLogger())
}

func testEngine(deps Deps) *gin.Engine {
	r := gin.New()
	RegisterAPI(r, deps)
	return r
}

func signedHeader(payload []byte, secret string) string {
	signed := stripewebhook.GenerateTestSignedPayload(&stripewebhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})
	return signed.Header
}

func TestSubscriptionOptionsGET(t *testing.T) {
	r := testEngine(Deps{Service: testService(fakeResolver{userID: "u1"})})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/subscription-options", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	var opts []billing.Option
	if err := json.Unmarshal(rr.Body.Bytes(), &opts); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(opts) != 3 || opts[0].Name != "Basic" {
		t.Errorf("unexpected catalog: %+v", opts)
	}
}

func postJSON(r *gin.Engine, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func TestCheckoutSessionPOST(t *testing.T) {
	r := testEngine(Deps{Service: testService(fakeResolver{userID: "u1"})})

	rr := postJSON(r, "/create-checkout-session",
		`{"access_token": "tok", "tier": "basic", "ai_tokens": 10, "storage": 50}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	var resp struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil || resp.ID != "cs_test_1" {
		t.Errorf("response: %s", rr.Body.String())
	}
}

func TestCheckoutSessionPOSTRejectsBadRequests(t *testing.T) {
	r := testEngine(Deps{Service: testService(fakeResolver{userID: "u1"})})

	cases := map[string]string{
		"not json":        `{`,
		"missing quotas":  `{"access_token": "tok", "tier": "basic"}`,
		"missing token":   `{"tier": "basic", "ai_tokens": 10, "storage": 50}`,
		"unknown tier":    `{"access_token": "tok", "tier": "platinum", "ai_tokens": 10, "storage": 50}`,
		"negative quotas": `{"access_token": "tok", "tier": "basic", "ai_tokens": -1, "storage": 50}`,
	}
	for name, body := range cases {
		if rr := postJSON(r, "/create-checkout-session", body); rr.Code != http.StatusBadRequest {
			t.Errorf("%s: status=%d body=%s", name, rr.Code, rr.Body.String())
		}
	}
}

func TestCheckoutSessionPOSTUnauthorized(t *testing.T) {
	r := testEngine(Deps{Service: testService(fakeResolver{err: core.ErrUnauthorized})})

	rr := postJSON(r, "/create-checkout-session",
		`{"access_token": "bad", "tier": "basic", "ai_tokens": 10, "storage": 50}`)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("status=%d body=%s", rr.Code, rr.Body.String())
	}
}

func TestCheckoutSessionPOSTRateLimited(t *testing.T) {
	limiter := memorylimiter.New(map[string]memorylimiter.Limit{
		"checkout": {Limit: 1, Window: time.Minute},
	})
	r := testEngine(Deps{Service: testService(fakeResolver{userID: "u1"}), Limiter: limiter})

	body := `{"access_token": "tok", "tier": "basic", "ai_tokens": 10, "storage": 50}`
	if rr := postJSON(r, "/create-checkout-session", body); rr.Code != http.StatusOK {
		t.Fatalf("first request: status=%d", rr.Code)
	}
	if rr := postJSON(r, "/create-checkout-session", body); rr.Code != http.StatusTooManyRequests {
		t.Errorf("second request: status=%d, want 429", rr.Code)
	}
}

func TestWebhookPOSTRejectsBadSignature(t *testing.T) {
	sync := &captureSync{}
	processor := webhook.NewProcessor(webhook.Config{
		SigningSecret: testSecret,
		Synchronizer:  sync,
		Log:           discardLogger(),
	})
	r := testEngine(Deps{Service: testService(fakeResolver{userID: "u1"}), Processor: processor})

	payload := []byte(`{"id": "evt_1", "type": "checkout.session.completed", "data": {"object": {"metadata": {"user_id": "u1", "tier": "basic", "ai_tokens": "10", "storage": "50"}}}}`)
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", signedHeader(payload, "whsec_wrong"))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status=%d, want 400", rr.Code)
	}
	if sync.grants != 0 {
		t.Errorf("unverified delivery reached the synchronizer")
	}
}

func TestWebhookPOSTGrant(t *testing.T) {
	sync := &captureSync{}
	processor := webhook.NewProcessor(webhook.Config{
		SigningSecret: testSecret,
		Synchronizer:  sync,
		Log:           discardLogger(),
	})
	r := testEngine(Deps{Service: testService(fakeResolver{userID: "u1"}), Processor: processor})

	payload := []byte(`{"id": "evt_1", "type": "checkout.session.completed", "data": {"object": {"metadata": {"user_id": "u1", "tier": "basic", "ai_tokens": "10", "storage": "50"}}}}`)
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", signedHeader(payload, testSecret))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	if sync.grants != 1 {
		t.Errorf("grant not applied")
	}
}

func TestWebhookPOSTStoreFailureIsRetryable(t *testing.T) {
	processor := webhook.NewProcessor(webhook.Config{
		SigningSecret: testSecret,
		Synchronizer:  failingSync{},
		Log:           discardLogger(),
	})
	r := testEngine(Deps{Service: testService(fakeResolver{userID: "u1"}), Processor: processor})

	payload := []byte(`{"id": "evt_1", "type": "checkout.session.completed", "data": {"object": {"metadata": {"user_id": "u1", "tier": "basic", "ai_tokens": "10", "storage": "50"}}}}`)
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", signedHeader(payload, testSecret))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Errorf("status=%d, want 500 so the provider redelivers", rr.Code)
	}
}

type failingSync struct{}

func (failingSync) Grant(ctx context.Context, g entitlements.Grant) error {
	return errors.New("store down")
}

func (failingSync) Revoke(ctx context.Context, userID, watermark string) error {
	return errors.New("store down")
}

func TestMyEntitlementGET(t *testing.T) {
	realm := paytesting.NewTestRealm()
	defer realm.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	verifier, err := oidckit.NewTokenVerifier(ctx, realm.URL(), 0)
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}

	store := memorystore.NewClaimsStore()
	exp := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)
	store.Seed(entitlements.Record{
		UserID: "user-123", Tier: entitlements.TierPro, AITokens: 30, Storage: 150, ExpiresAt: &exp,
	})
	r := testEngine(Deps{
		Service:  testService(fakeResolver{userID: "u1"}),
		Verifier: verifier,
		Records:  store,
	})

	req := httptest.NewRequest(http.MethodGet, "/me/entitlement", nil)
	req.Header.Set("Authorization", "Bearer "+realm.CreateToken("user-123"))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	var rec entitlements.Record
	if err := json.Unmarshal(rr.Body.Bytes(), &rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.UserID != "user-123" || rec.Tier != entitlements.TierPro {
		t.Errorf("record: %+v", rec)
	}

	// No token and bad token are both unauthorized.
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/me/entitlement", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("missing token: status=%d", rr.Code)
	}
	req = httptest.NewRequest(http.MethodGet, "/me/entitlement", nil)
	req.Header.Set("Authorization", "Bearer not.a.token")
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("garbage token: status=%d", rr.Code)
	}
}

func TestMyEntitlementRouteRequiresVerifier(t *testing.T) {
	r := testEngine(Deps{Service: testService(fakeResolver{userID: "u1"})})
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/me/entitlement", nil))
	if rr.Code != http.StatusNotFound {
		t.Errorf("route mounted without verifier: status=%d", rr.Code)
	}
}
