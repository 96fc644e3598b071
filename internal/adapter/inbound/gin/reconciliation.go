package gin

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/paygate/server/internal/domain/reconciliation"
	"github.com/paygate/server/internal/model"
	"github.com/paygate/server/internal/port/inbound"
)

// defaultReportWindow is used when a report request names no window.
const defaultReportWindow = 24 * time.Hour

// reconciliationAdapter implements inbound.ReconciliationHttpPort.
type reconciliationAdapter struct {
	domain reconciliation.ReconciliationDomain
	now    func() time.Time
}

// NewReconciliationAdapter creates a new reconciliation HTTP adapter.
func NewReconciliationAdapter(domain reconciliation.ReconciliationDomain) inbound.ReconciliationHttpPort {
	return &reconciliationAdapter{domain: domain, now: time.Now}
}

// RegisterReconciliationRoutes registers reconciliation routes.
func RegisterReconciliationRoutes(r *gin.RouterGroup, adapter inbound.ReconciliationHttpPort) {
	recon := r.Group("/reconciliation")
	{
		recon.POST("/receipts", adapter.RecordReceipt)
		recon.GET("/report", adapter.GetReport)
		recon.POST("/backfill", adapter.Backfill)
	}
}

func (a *reconciliationAdapter) RecordReceipt(c *gin.Context) {
	var req model.RecordReceiptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_input", err.Error())
		return
	}

	entry, err := a.domain.RecordReceipt(c.Request.Context(), &req)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, entry)
}

func (a *reconciliationAdapter) GetReport(c *gin.Context) {
	var window model.TimeWindow
	if err := c.ShouldBindQuery(&window); err != nil {
		badRequest(c, "invalid_input", err.Error())
		return
	}
	if window.To.IsZero() {
		window.To = a.now()
	}
	if window.From.IsZero() {
		window.From = window.To.Add(-defaultReportWindow)
	}

	report, err := a.domain.Reconcile(c.Request.Context(), window)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, report)
}

func (a *reconciliationAdapter) Backfill(c *gin.Context) {
	var req model.BackfillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_input", err.Error())
		return
	}
	if !req.Provider.IsValid() {
		badRequest(c, "invalid_provider", "unknown provider")
		return
	}

	result, err := a.domain.Backfill(c.Request.Context(), req.Provider, model.TimeWindow{From: req.From, To: req.To})
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// Compile-time check
var _ inbound.ReconciliationHttpPort = (*reconciliationAdapter)(nil)
