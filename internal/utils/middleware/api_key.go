package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/paygate/server/internal/model"
)

// APIKeyHeader carries the operator API key.
const APIKeyHeader = "X-API-Key"

// OperatorAuth guards operator routes with a static set of API keys, read from
// X-API-Key or an Authorization bearer token. An empty key set rejects every request.
func OperatorAuth(keys []string) gin.HandlerFunc {
	accepted := make([][]byte, 0, len(keys))
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			accepted = append(accepted, []byte(k))
		}
	}

	return func(c *gin.Context) {
		provided := extractAPIKey(c)
		if provided == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, model.ErrorResponse{
				Code:    "unauthorized",
				Message: "missing API key",
			})
			return
		}

		for _, k := range accepted {
			if subtle.ConstantTimeCompare(k, []byte(provided)) == 1 {
				c.Next()
				return
			}
		}

		c.AbortWithStatusJSON(http.StatusUnauthorized, model.ErrorResponse{
			Code:    "unauthorized",
			Message: "invalid API key",
		})
	}
}

func extractAPIKey(c *gin.Context) string {
	if key := c.GetHeader(APIKeyHeader); key != "" {
		return key
	}
	auth := c.GetHeader("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "Bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
