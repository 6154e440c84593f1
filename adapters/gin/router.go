// Package authgin registers the service's HTTP surface on a gin engine.
package authgin

import (
	"github.com/gin-gonic/gin"

	"github.com/open-rails/paykit/adapters/gin/handlers"
	"github.com/open-rails/paykit/adapters/ginutil"
	core "github.com/open-rails/paykit/core"
	"github.com/open-rails/paykit/webhook"
)

// Deps carries everything the HTTP surface needs. Verifier, Records, and
// Limiter are optional; missing ones disable the endpoints (or the gate)
// that depend on them.
type Deps struct {
	Service   *core.Service
	Processor *webhook.Processor
	Verifier  handlers.TokenVerifier
	Records   handlers.RecordReader
	Limiter   ginutil.RateLimiter
}

// RegisterAPI mounts the public routes on r.
func RegisterAPI(r *gin.Engine, deps Deps) {
	r.GET("/subscription-options", handlers.HandleSubscriptionOptionsGET(deps.Service))
	r.POST("/create-checkout-session", handlers.HandleCheckoutSessionPOST(deps.Service, deps.Limiter))
	r.POST("/webhook", handlers.HandleWebhookPOST(deps.Processor))
	if deps.Verifier != nil && deps.Records != nil {
		r.GET("/me/entitlement", handlers.HandleMyEntitlementGET(deps.Verifier, deps.Records))
	}
}
