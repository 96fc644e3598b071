package inbound

import "github.com/gin-gonic/gin"

// ReconciliationHttpPort defines HTTP handler interface for reconciliation operations.
type ReconciliationHttpPort interface {
	// RecordReceipt handles POST /reconciliation/receipts
	RecordReceipt(c *gin.Context)

	// GetReport handles GET /reconciliation/report
	GetReport(c *gin.Context)

	// Backfill handles POST /reconciliation/backfill
	Backfill(c *gin.Context)
}
