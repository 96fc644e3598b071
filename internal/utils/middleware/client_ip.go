package middleware

import (
	"net"
	"strings"

	"github.com/gin-gonic/gin"
)

// ClientIPKey is the context key for the resolved client IP.
const ClientIPKey = "client_ip"

// ClientIP resolves the caller address once per request. When trustForwarded
// is set, the first X-Forwarded-For entry wins over the socket address.
func ClientIP(trustForwarded bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(ClientIPKey, resolveClientIP(c, trustForwarded))
		c.Next()
	}
}

// GetClientIP returns the address stored by ClientIP, or the socket address.
func GetClientIP(c *gin.Context) string {
	if ip := c.GetString(ClientIPKey); ip != "" {
		return ip
	}
	return c.RemoteIP()
}

func resolveClientIP(c *gin.Context, trustForwarded bool) string {
	if trustForwarded {
		if xff := c.GetHeader("X-Forwarded-For"); xff != "" {
			first := strings.TrimSpace(strings.Split(xff, ",")[0])
			if net.ParseIP(first) != nil {
				return first
			}
		}
	}
	return c.RemoteIP()
}
