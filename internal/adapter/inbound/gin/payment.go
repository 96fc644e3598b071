package gin

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/paygate/server/internal/domain/payment"
	"github.com/paygate/server/internal/model"
	"github.com/paygate/server/internal/port/inbound"
)

// paymentAdapter implements inbound.PaymentHttpPort.
type paymentAdapter struct {
	domain payment.PaymentDomain
}

// NewPaymentAdapter creates a new payment HTTP adapter.
func NewPaymentAdapter(domain payment.PaymentDomain) inbound.PaymentHttpPort {
	return &paymentAdapter{domain: domain}
}

// RegisterPaymentRoutes registers operator payment routes.
func RegisterPaymentRoutes(r *gin.RouterGroup, adapter inbound.PaymentHttpPort, idempotency gin.HandlerFunc) {
	payments := r.Group("/payments")
	{
		payments.POST("", idempotency, adapter.CreatePayment)
		payments.GET("", adapter.ListPayments)
		payments.GET("/:id", adapter.GetPayment)
		payments.POST("/:id/refresh", adapter.RefreshPayment)
	}
}

func (a *paymentAdapter) CreatePayment(c *gin.Context) {
	var req model.CreatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_input", err.Error())
		return
	}
	if !req.Provider.IsValid() {
		badRequest(c, "invalid_provider", "unknown provider")
		return
	}

	resp, err := a.domain.CreatePayment(c.Request.Context(), &req)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (a *paymentAdapter) GetPayment(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	p, err := a.domain.GetPayment(c.Request.Context(), id)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, p)
}

func (a *paymentAdapter) ListPayments(c *gin.Context) {
	var filter model.PaymentFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		badRequest(c, "invalid_input", err.Error())
		return
	}

	payments, total, err := a.domain.ListPayments(c.Request.Context(), filter)
	if err != nil {
		handleError(c, err)
		return
	}

	filter.DefaultPagination()
	c.JSON(http.StatusOK, model.NewPaginatedResponse(payments, total, filter.Page, filter.PageSize))
}

func (a *paymentAdapter) RefreshPayment(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	p, err := a.domain.RefreshPayment(c.Request.Context(), id)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, p)
}

// parseID reads the :id path parameter, writing a 400 when it is not a UUID.
func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid_id", "invalid ID")
		return uuid.Nil, false
	}
	return id, true
}

// Compile-time check
var _ inbound.PaymentHttpPort = (*paymentAdapter)(nil)
