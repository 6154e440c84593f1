package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/open-rails/paykit/adapters/ginutil"
	"github.com/open-rails/paykit/webhook"
)

// maxWebhookBody bounds the raw payload we are willing to verify.
const maxWebhookBody = 1 << 20

func HandleWebhookPOST(p *webhook.Processor) gin.HandlerFunc {
	return func(c *gin.Context) {
		payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
		if err != nil {
			ginutil.BadRequest(c, "unreadable_payload")
			return
		}
		sig := c.GetHeader("Stripe-Signature")

		if err := p.Process(c.Request.Context(), payload, sig); err != nil {
			// 4xx rejections are permanent; anything else returns 500 so
			// the provider's redelivery effects the retry.
			ginutil.RespondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"received": true})
	}
}
