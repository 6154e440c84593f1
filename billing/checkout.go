package billing

import (
	"context"
	"fmt"
	"strconv"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"

	"github.com/open-rails/paykit/entitlements"
)

// SessionRequest carries everything needed to open a checkout session.
// The metadata written to the session makes the later webhook event
// self-describing, so applying it needs no additional lookup.
type SessionRequest struct {
	UserID   string
	Tier     entitlements.Tier
	AITokens int64
	Storage  int64
}

// CheckoutClient opens subscription checkout sessions with Stripe.
type CheckoutClient struct {
	catalog    *Catalog
	successURL string
	cancelURL  string
}

// NewCheckoutClient configures the Stripe API key process-wide and
// returns a client bound to the given catalog and redirect URLs.
func NewCheckoutClient(apiKey string, catalog *Catalog, successURL, cancelURL string) *CheckoutClient {
	stripe.Key = apiKey
	return &CheckoutClient{catalog: catalog, successURL: successURL, cancelURL: cancelURL}
}

// CreateSession opens a card-based subscription checkout session and
// returns its opaque id. No local state is touched.
func (c *CheckoutClient) CreateSession(ctx context.Context, req SessionRequest) (string, error) {
	priceID, ok := c.catalog.PriceFor(req.Tier)
	if !ok {
		return "", fmt.Errorf("billing: no price configured for tier %q", req.Tier)
	}

	params := &stripe.CheckoutSessionParams{
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(priceID), Quantity: stripe.Int64(1)},
		},
		Mode:       stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL: stripe.String(c.successURL),
		CancelURL:  stripe.String(c.cancelURL),
	}
	params.Context = ctx
	params.AddMetadata("user_id", req.UserID)
	params.AddMetadata("tier", string(req.Tier))
	params.AddMetadata("ai_tokens", strconv.FormatInt(req.AITokens, 10))
	params.AddMetadata("storage", strconv.FormatInt(req.Storage, 10))

	sess, err := session.New(params)
	if err != nil {
		return "", fmt.Errorf("billing: create checkout session: %w", err)
	}
	return sess.ID, nil
}
