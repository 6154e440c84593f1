// Package webhook ingests provider-signed payment events and drives
// entitlement updates. Delivery is at-least-once; the processor is safe
// against duplicates and never persists raw events beyond the seen-event
// cache and the record watermark.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	stripe "github.com/stripe/stripe-go/v82"
	stripewebhook "github.com/stripe/stripe-go/v82/webhook"

	"github.com/open-rails/paykit/core"
	"github.com/open-rails/paykit/entitlements"
	"github.com/open-rails/paykit/lang"
)

// Synchronizer is the single writer of entitlement records.
type Synchronizer interface {
	Grant(ctx context.Context, g entitlements.Grant) error
	Revoke(ctx context.Context, userID, watermark string) error
}

// EventCache short-circuits replays of recently applied event ids.
type EventCache interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	MarkSeen(ctx context.Context, eventID string) error
}

// ContactLookup resolves a user id to a notification address.
type ContactLookup interface {
	LookupContact(ctx context.Context, userID string) (email, locale string, err error)
}

// Notifier delivers the post-grant confirmation message.
type Notifier interface {
	Send(ctx context.Context, recipient, subject, body string) error
}

// Config wires a Processor. SigningSecret is required; Cache, Contacts,
// and Notifier are optional.
type Config struct {
	SigningSecret string
	Tolerance     time.Duration // signature timestamp tolerance, default 5m
	RenewalWindow time.Duration // expiration window per grant, default 365 days
	Timeout       time.Duration // bound per external call, default 10s
	Synchronizer  Synchronizer
	Cache         EventCache
	Contacts      ContactLookup
	Notifier      Notifier
	Log           logrus.FieldLogger
	Now           func() time.Time // test hook
}

// Processor is the webhook state machine: verify, parse, filter,
// dispatch, acknowledge.
type Processor struct {
	cfg Config
	log logrus.FieldLogger
	now func() time.Time
}

func NewProcessor(cfg Config) *Processor {
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = 5 * time.Minute
	}
	if cfg.RenewalWindow <= 0 {
		cfg.RenewalWindow = 365 * 24 * time.Hour
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	log := cfg.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Processor{cfg: cfg, log: log, now: now}
}

// Process handles one inbound delivery. Errors wrapping
// core.ErrInvalidSignature or core.ErrMalformedPayload are permanent
// rejections; any other error is retryable via provider redelivery.
func (p *Processor) Process(ctx context.Context, payload []byte, sigHeader string) error {
	event, err := stripewebhook.ConstructEventWithOptions(payload, sigHeader, p.cfg.SigningSecret, stripewebhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
		Tolerance:                p.cfg.Tolerance,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrInvalidSignature, err)
	}

	if p.cfg.Cache != nil {
		seen, err := p.cfg.Cache.Seen(ctx, event.ID)
		if err != nil {
			p.log.WithError(err).Warn("event cache unavailable, falling through to watermark")
		} else if seen {
			p.log.WithField("event_id", event.ID).Info("duplicate event acknowledged from cache")
			return nil
		}
	}

	switch event.Type {
	case "checkout.session.completed":
		if err := p.applyGrant(ctx, &event); err != nil {
			return err
		}
	case "customer.subscription.deleted":
		if err := p.applyRevoke(ctx, &event); err != nil {
			return err
		}
	default:
		p.log.WithField("type", event.Type).Debug("event type ignored")
		return nil
	}

	if p.cfg.Cache != nil {
		if err := p.cfg.Cache.MarkSeen(ctx, event.ID); err != nil {
			p.log.WithError(err).Warn("event cache mark failed")
		}
	}
	return nil
}

func (p *Processor) applyGrant(ctx context.Context, event *stripe.Event) error {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return fmt.Errorf("%w: decode checkout session: %v", core.ErrMalformedPayload, err)
	}
	grant, err := grantFromMetadata(sess.Metadata)
	if err != nil {
		return err
	}
	grant.EventID = event.ID
	grant.ExpiresAt = p.now().Add(p.cfg.RenewalWindow)

	sctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()
	if err := p.cfg.Synchronizer.Grant(sctx, grant); err != nil {
		return fmt.Errorf("webhook: apply grant %s: %w", event.ID, err)
	}

	p.notifyGranted(ctx, grant.UserID)
	return nil
}

func (p *Processor) applyRevoke(ctx context.Context, event *stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return fmt.Errorf("%w: decode subscription: %v", core.ErrMalformedPayload, err)
	}
	userID := sub.Metadata["user_id"]
	if userID == "" {
		return fmt.Errorf("%w: subscription event missing user_id metadata", core.ErrMalformedPayload)
	}

	sctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()
	if err := p.cfg.Synchronizer.Revoke(sctx, userID, event.ID); err != nil {
		return fmt.Errorf("webhook: apply revoke %s: %w", event.ID, err)
	}
	return nil
}

// grantFromMetadata extracts the self-describing grant from the checkout
// session metadata written at session creation.
func grantFromMetadata(meta map[string]string) (entitlements.Grant, error) {
	userID := meta["user_id"]
	rawTier := meta["tier"]
	if userID == "" || rawTier == "" {
		return entitlements.Grant{}, fmt.Errorf("%w: checkout session missing user_id or tier metadata", core.ErrMalformedPayload)
	}
	tier, ok := entitlements.ParseTier(rawTier)
	if !ok || tier == entitlements.TierNone {
		return entitlements.Grant{}, fmt.Errorf("%w: unknown tier %q in metadata", core.ErrMalformedPayload, rawTier)
	}
	aiTokens, err := strconv.ParseInt(meta["ai_tokens"], 10, 64)
	if err != nil || aiTokens < 0 {
		return entitlements.Grant{}, fmt.Errorf("%w: bad ai_tokens metadata %q", core.ErrMalformedPayload, meta["ai_tokens"])
	}
	storage, err := strconv.ParseInt(meta["storage"], 10, 64)
	if err != nil || storage < 0 {
		return entitlements.Grant{}, fmt.Errorf("%w: bad storage metadata %q", core.ErrMalformedPayload, meta["storage"])
	}
	return entitlements.Grant{UserID: userID, Tier: tier, AITokens: aiTokens, Storage: storage}, nil
}

// notifyGranted sends the subscription confirmation. Failures here are
// logged only: the claims write already succeeded and the provider will
// not redeliver for a notification problem.
func (p *Processor) notifyGranted(ctx context.Context, userID string) {
	if p.cfg.Notifier == nil || p.cfg.Contacts == nil {
		return
	}
	nctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()
	email, locale, err := p.cfg.Contacts.LookupContact(nctx, userID)
	if err != nil || email == "" {
		p.log.WithError(err).WithField("user_id", userID).Warn("could not resolve notification address")
		return
	}
	if locale != "" {
		nctx = lang.WithLanguage(nctx, locale)
	}
	if err := p.cfg.Notifier.Send(nctx, email, "Subscription Successful", "Thank you for subscribing!"); err != nil {
		p.log.WithError(err).WithField("user_id", userID).Warn("confirmation notification failed")
	}
}
