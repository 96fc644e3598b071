package gin

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/paygate/server/internal/domain/payment"
	"github.com/paygate/server/internal/domain/reconciliation"
	"github.com/paygate/server/internal/domain/settlement"
	"github.com/paygate/server/internal/domain/webhook"
	"github.com/paygate/server/internal/model"
)

// handleError maps domain errors to operator API responses.
func handleError(c *gin.Context, err error) {
	var statusCode int
	var errorCode string
	var message string

	switch {
	case errors.Is(err, payment.ErrPaymentNotFound), errors.Is(err, settlement.ErrPaymentNotFound):
		statusCode = http.StatusNotFound
		errorCode = "payment_not_found"
		message = "Payment not found"

	case errors.Is(err, payment.ErrProviderNotAvailable), errors.Is(err, reconciliation.ErrProviderUnavailable):
		statusCode = http.StatusBadRequest
		errorCode = "provider_not_available"
		message = "Payment provider not available"

	case errors.Is(err, payment.ErrInvalidAmount):
		statusCode = http.StatusBadRequest
		errorCode = "invalid_amount"
		message = "Amount must be positive"

	case errors.Is(err, payment.ErrAmountOutOfRange):
		statusCode = http.StatusBadRequest
		errorCode = "amount_out_of_range"
		message = err.Error()

	case errors.Is(err, payment.ErrUpstreamFailed), errors.Is(err, reconciliation.ErrUpstreamFailed):
		statusCode = http.StatusBadGateway
		errorCode = "upstream_error"
		message = "Payment provider request failed"

	case errors.Is(err, settlement.ErrAmountMismatch):
		statusCode = http.StatusConflict
		errorCode = "amount_mismatch"
		message = "Upstream amount differs, payment held for review"

	case errors.Is(err, settlement.ErrPaymentNotSettleable):
		statusCode = http.StatusConflict
		errorCode = "payment_closed"
		message = "Payment is in a terminal state"

	case errors.Is(err, webhook.ErrSubscriptionNotFound):
		statusCode = http.StatusNotFound
		errorCode = "subscription_not_found"
		message = "Webhook subscription not found"

	case errors.Is(err, webhook.ErrInvalidURL):
		statusCode = http.StatusBadRequest
		errorCode = "invalid_url"
		message = err.Error()

	case errors.Is(err, webhook.ErrUnknownEventType), errors.Is(err, webhook.ErrNoEventTypes):
		statusCode = http.StatusBadRequest
		errorCode = "invalid_event_types"
		message = err.Error()

	case errors.Is(err, reconciliation.ErrInvalidWindow):
		statusCode = http.StatusBadRequest
		errorCode = "invalid_window"
		message = "Window start must be before its end"

	case errors.Is(err, reconciliation.ErrInvalidReceipt):
		statusCode = http.StatusBadRequest
		errorCode = "invalid_receipt"
		message = err.Error()

	default:
		statusCode = http.StatusInternalServerError
		errorCode = "internal_error"
		message = "Internal server error"
		_ = c.Error(err)
	}

	c.JSON(statusCode, model.ErrorResponse{
		Code:    errorCode,
		Message: message,
	})
}

func badRequest(c *gin.Context, code, message string) {
	c.JSON(http.StatusBadRequest, model.ErrorResponse{
		Code:    code,
		Message: message,
	})
}
