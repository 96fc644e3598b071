package inbound

import "github.com/gin-gonic/gin"

// WebhookHttpPort defines HTTP handler interface for outbound subscription management.
type WebhookHttpPort interface {
	// CreateSubscription handles POST /webhooks
	CreateSubscription(c *gin.Context)

	// ListSubscriptions handles GET /webhooks
	ListSubscriptions(c *gin.Context)

	// GetSubscription handles GET /webhooks/:id
	GetSubscription(c *gin.Context)

	// UpdateSubscription handles PUT /webhooks/:id
	UpdateSubscription(c *gin.Context)

	// DeleteSubscription handles DELETE /webhooks/:id
	DeleteSubscription(c *gin.Context)

	// ListDeliveries handles GET /webhooks/:id/deliveries
	ListDeliveries(c *gin.Context)

	// GetStats handles GET /webhooks/stats
	GetStats(c *gin.Context)
}
