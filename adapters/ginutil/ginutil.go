// Package ginutil holds the small shared surface between the gin router
// and its handlers: rate limiting, error mapping, and JSON responders.
package ginutil

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/open-rails/paykit/core"
)

// Rate limit bucket names.
const (
	RLCheckout = "checkout"
)

// RateLimiter gates a named bucket per caller key.
type RateLimiter interface {
	Allow(ctx context.Context, bucket, key string) (bool, error)
}

// Allow applies the limiter for the request, failing open if the
// limiter itself errors (a broken limiter must not take checkout down).
func Allow(c *gin.Context, rl RateLimiter, bucket, key string) bool {
	if rl == nil {
		return true
	}
	ok, err := rl.Allow(c.Request.Context(), bucket, key)
	if err != nil {
		return true
	}
	return ok
}

func BadRequest(c *gin.Context, code string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": code})
}

func Unauthorized(c *gin.Context, code string) {
	c.JSON(http.StatusUnauthorized, gin.H{"error": code})
}

func TooMany(c *gin.Context) {
	c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate_limited"})
}

func Internal(c *gin.Context) {
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
}

// RespondError maps the service error taxonomy onto HTTP statuses.
// Anything outside the 4xx taxonomy is a retryable 500.
func RespondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, core.ErrInvalidRequest):
		BadRequest(c, "invalid_request")
	case errors.Is(err, core.ErrUnauthorized):
		Unauthorized(c, "invalid_access_token")
	case errors.Is(err, core.ErrInvalidSignature):
		BadRequest(c, "invalid_signature")
	case errors.Is(err, core.ErrMalformedPayload):
		BadRequest(c, "malformed_payload")
	default:
		Internal(c)
	}
}
