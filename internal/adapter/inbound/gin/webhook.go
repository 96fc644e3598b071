package gin

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/paygate/server/internal/domain/webhook"
	"github.com/paygate/server/internal/model"
	"github.com/paygate/server/internal/port/inbound"
)

// webhookAdapter implements inbound.WebhookHttpPort.
type webhookAdapter struct {
	domain webhook.WebhookDomain
}

// NewWebhookAdapter creates a new subscription management HTTP adapter.
func NewWebhookAdapter(domain webhook.WebhookDomain) inbound.WebhookHttpPort {
	return &webhookAdapter{domain: domain}
}

// RegisterWebhookRoutes registers subscription routes.
func RegisterWebhookRoutes(r *gin.RouterGroup, adapter inbound.WebhookHttpPort) {
	webhooks := r.Group("/webhooks")
	{
		webhooks.POST("", adapter.CreateSubscription)
		webhooks.GET("", adapter.ListSubscriptions)
		webhooks.GET("/stats", adapter.GetStats)
		webhooks.GET("/:id", adapter.GetSubscription)
		webhooks.PUT("/:id", adapter.UpdateSubscription)
		webhooks.DELETE("/:id", adapter.DeleteSubscription)
		webhooks.GET("/:id/deliveries", adapter.ListDeliveries)
	}
}

func (a *webhookAdapter) CreateSubscription(c *gin.Context) {
	var req model.CreateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_input", err.Error())
		return
	}

	sub, err := a.domain.CreateSubscription(c.Request.Context(), &req)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, sub)
}

func (a *webhookAdapter) ListSubscriptions(c *gin.Context) {
	activeOnly := c.Query("active") == "true"

	subs, err := a.domain.ListSubscriptions(c.Request.Context(), activeOnly)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": subs})
}

func (a *webhookAdapter) GetSubscription(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	sub, err := a.domain.GetSubscription(c.Request.Context(), id)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, sub)
}

func (a *webhookAdapter) UpdateSubscription(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var req model.UpdateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_input", err.Error())
		return
	}

	sub, err := a.domain.UpdateSubscription(c.Request.Context(), id, &req)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, sub)
}

func (a *webhookAdapter) DeleteSubscription(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	if err := a.domain.DeleteSubscription(c.Request.Context(), id); err != nil {
		handleError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (a *webhookAdapter) ListDeliveries(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var filter model.DeliveryFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		badRequest(c, "invalid_input", err.Error())
		return
	}
	filter.SubscriptionID = &id

	deliveries, total, err := a.domain.ListDeliveries(c.Request.Context(), filter)
	if err != nil {
		handleError(c, err)
		return
	}

	filter.DefaultPagination()
	c.JSON(http.StatusOK, model.NewPaginatedResponse(deliveries, total, filter.Page, filter.PageSize))
}

func (a *webhookAdapter) GetStats(c *gin.Context) {
	stats, err := a.domain.GetStats(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

// Compile-time check
var _ inbound.WebhookHttpPort = (*webhookAdapter)(nil)
