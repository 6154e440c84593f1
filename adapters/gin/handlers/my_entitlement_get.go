package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/open-rails/paykit/adapters/ginutil"
	"github.com/open-rails/paykit/entitlements"
)

// TokenVerifier validates a bearer token offline and returns its subject.
type TokenVerifier interface {
	Verify(ctx context.Context, raw string) (string, error)
}

// RecordReader reads one user's current entitlement record.
type RecordReader interface {
	ReadRecord(ctx context.Context, userID string) (entitlements.Record, error)
}

func HandleMyEntitlementGET(verifier TokenVerifier, records RecordReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if raw == "" || raw == c.GetHeader("Authorization") {
			ginutil.Unauthorized(c, "missing_bearer_token")
			return
		}
		userID, err := verifier.Verify(c.Request.Context(), raw)
		if err != nil {
			ginutil.Unauthorized(c, "invalid_token")
			return
		}
		rec, err := records.ReadRecord(c.Request.Context(), userID)
		if err != nil {
			ginutil.Internal(c)
			return
		}
		c.JSON(http.StatusOK, rec)
	}
}
