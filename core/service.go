package core

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/open-rails/paykit/billing"
	"github.com/open-rails/paykit/entitlements"
)

// IdentityResolver exchanges a caller's access token for a stable user
// id at the identity provider.
type IdentityResolver interface {
	ResolveIdentity(ctx context.Context, accessToken string) (string, error)
}

// SessionOpener opens a payment-provider checkout session.
type SessionOpener interface {
	CreateSession(ctx context.Context, req billing.SessionRequest) (string, error)
}

// Service coordinates the checkout flow: request validation, identity
// resolution, and session creation. It owns no local mutable state.
type Service struct {
	catalog    *billing.Catalog
	sessions   SessionOpener
	identities IdentityResolver
	timeout    time.Duration
	log        logrus.FieldLogger
}

// NewService wires the checkout flow. timeout bounds each external call;
// zero means 10 seconds.
func NewService(catalog *billing.Catalog, sessions SessionOpener, identities IdentityResolver, timeout time.Duration, log logrus.FieldLogger) *Service {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{catalog: catalog, sessions: sessions, identities: identities, timeout: timeout, log: log}
}

// SubscriptionOptions returns the static catalog.
func (s *Service) SubscriptionOptions() []billing.Option {
	return s.catalog.Options()
}

// CheckoutRequest is the client's purchase request.
type CheckoutRequest struct {
	AccessToken string
	Tier        string
	AITokens    int64
	Storage     int64
}

// CreateCheckoutSession validates the request, resolves the caller's
// identity, and opens a checkout session. Returns the opaque session id.
func (s *Service) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (string, error) {
	if req.AccessToken == "" || req.Tier == "" {
		return "", fmt.Errorf("%w: all fields are required", ErrInvalidRequest)
	}
	if req.AITokens < 0 || req.Storage < 0 {
		return "", fmt.Errorf("%w: quotas must be non-negative", ErrInvalidRequest)
	}
	tier, ok := entitlements.ParseTier(req.Tier)
	if !ok || tier == entitlements.TierNone {
		return "", fmt.Errorf("%w: unknown tier %q", ErrInvalidRequest, req.Tier)
	}
	if _, ok := s.catalog.PriceFor(tier); !ok {
		return "", fmt.Errorf("%w: no pricing for tier %q", ErrInvalidRequest, req.Tier)
	}

	rctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	userID, err := s.identities.ResolveIdentity(rctx, req.AccessToken)
	if err != nil {
		return "", err
	}

	sctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	sessionID, err := s.sessions.CreateSession(sctx, billing.SessionRequest{
		UserID:   userID,
		Tier:     tier,
		AITokens: req.AITokens,
		Storage:  req.Storage,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	s.log.WithFields(logrus.Fields{"user_id": userID, "tier": tier}).
		Info("checkout session created")
	return sessionID, nil
}
