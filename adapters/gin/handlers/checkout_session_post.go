package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/open-rails/paykit/adapters/ginutil"
	core "github.com/open-rails/paykit/core"
)

func HandleCheckoutSessionPOST(svc *core.Service, rl ginutil.RateLimiter) gin.HandlerFunc {
	type checkoutReq struct {
		AccessToken string `json:"access_token"`
		Tier        string `json:"tier"`
		AITokens    *int64 `json:"ai_tokens"`
		Storage     *int64 `json:"storage"`
	}
	return func(c *gin.Context) {
		if !ginutil.Allow(c, rl, ginutil.RLCheckout, c.ClientIP()) {
			ginutil.TooMany(c)
			return
		}
		var req checkoutReq
		if err := c.ShouldBindJSON(&req); err != nil {
			ginutil.BadRequest(c, "invalid_request")
			return
		}
		// Quotas must be present, not merely zero.
		if req.AITokens == nil || req.Storage == nil {
			ginutil.BadRequest(c, "invalid_request")
			return
		}

		sessionID, err := svc.CreateCheckoutSession(c.Request.Context(), core.CheckoutRequest{
			AccessToken: req.AccessToken,
			Tier:        req.Tier,
			AITokens:    *req.AITokens,
			Storage:     *req.Storage,
		})
		if err != nil {
			ginutil.RespondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": sessionID})
	}
}
