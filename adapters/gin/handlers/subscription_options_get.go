package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	core "github.com/open-rails/paykit/core"
)

func HandleSubscriptionOptionsGET(svc *core.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, svc.SubscriptionOptions())
	}
}
