package inbound

import "github.com/gin-gonic/gin"

// PaymentHttpPort defines HTTP handler interface for operator payment operations.
type PaymentHttpPort interface {
	// CreatePayment handles POST /payments
	// Originates an order with the selected processor.
	CreatePayment(c *gin.Context)

	// GetPayment handles GET /payments/:id
	GetPayment(c *gin.Context)

	// ListPayments handles GET /payments
	ListPayments(c *gin.Context)

	// RefreshPayment handles POST /payments/:id/refresh
	// Polls the processor and settles when the order was paid.
	RefreshPayment(c *gin.Context)
}
