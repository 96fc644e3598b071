package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/paygate/server/internal/model"
	"github.com/paygate/server/internal/port/outbound"
	"github.com/paygate/server/internal/utils/money"
)

// CryptoBotConfig holds Crypto Pay API credentials.
type CryptoBotConfig struct {
	APIToken  string
	ExpiresIn time.Duration
}

// cryptoBotGateway implements PaymentGatewayPort against the Crypto Pay API.
type cryptoBotGateway struct {
	client *Client
	cfg    CryptoBotConfig
}

// NewCryptoBotGateway creates a Crypto Pay gateway. Invoices are priced in fiat so
// the paid amount compares directly against the stored payment.
func NewCryptoBotGateway(client *Client, cfg CryptoBotConfig) outbound.PaymentGatewayPort {
	return &cryptoBotGateway{client: client, cfg: cfg}
}

type cryptoBotAPIError struct {
	Code int    `json:"code"`
	Name string `json:"name"`
}

type cryptoBotEnvelope[T any] struct {
	OK     bool               `json:"ok"`
	Result T                  `json:"result"`
	Error  *cryptoBotAPIError `json:"error,omitempty"`
}

type cryptoBotInvoice struct {
	InvoiceID     int64  `json:"invoice_id"`
	Status        string `json:"status"`
	Amount        string `json:"amount"`
	BotInvoiceURL string `json:"bot_invoice_url"`
	Payload       string `json:"payload"`
	PaidAt        string `json:"paid_at"`
}

func (g *cryptoBotGateway) Provider() model.Provider {
	return model.ProviderCryptoBot
}

func (g *cryptoBotGateway) headers() map[string]string {
	return map[string]string{"Crypto-Pay-API-Token": g.cfg.APIToken}
}

func (g *cryptoBotGateway) CreateOrder(ctx context.Context, req *model.GatewayOrderRequest) (*model.GatewayOrder, error) {
	body := map[string]any{
		"currency_type": "fiat",
		"fiat":          req.Currency,
		"amount":        money.FormatMajor(req.AmountMinorUnits),
		"description":   req.Description,
		"payload":       req.InternalOrderID,
	}
	if g.cfg.ExpiresIn > 0 {
		body["expires_in"] = int(g.cfg.ExpiresIn.Seconds())
	}

	var resp cryptoBotEnvelope[cryptoBotInvoice]
	if err := g.client.Do(ctx, Request{Method: http.MethodPost, Path: "/api/createInvoice", Body: body, Headers: g.headers()}, &resp); err != nil {
		return nil, err
	}
	if !resp.OK {
		return nil, g.apiError("/api/createInvoice", resp.Error)
	}

	return &model.GatewayOrder{
		ExternalReference: strconv.FormatInt(resp.Result.InvoiceID, 10),
		PaymentURL:        resp.Result.BotInvoiceURL,
		Status:            cryptoBotStatus(resp.Result.Status),
		AmountMinorUnits:  req.AmountMinorUnits,
		Confirmed:         true,
	}, nil
}

func (g *cryptoBotGateway) GetOrder(ctx context.Context, externalRef string) (*model.GatewayOrder, error) {
	invoices, err := g.getInvoices(ctx, url.Values{"invoice_ids": {externalRef}})
	if err != nil {
		return nil, err
	}
	if len(invoices) == 0 {
		return nil, fmt.Errorf("%w: cryptobot invoice %s", ErrOrderNotFound, externalRef)
	}
	inv := invoices[0]
	amount, err := money.ParseMinorUnits(inv.Amount)
	if err != nil {
		return nil, fmt.Errorf("parse invoice amount: %w", err)
	}
	return &model.GatewayOrder{
		ExternalReference: externalRef,
		PaymentURL:        inv.BotInvoiceURL,
		Status:            cryptoBotStatus(inv.Status),
		AmountMinorUnits:  amount,
		Confirmed:         true,
	}, nil
}

func (g *cryptoBotGateway) ListOperations(ctx context.Context, window model.TimeWindow) ([]*model.UpstreamOperation, error) {
	invoices, err := g.getInvoices(ctx, url.Values{"status": {"paid"}, "count": {"1000"}})
	if err != nil {
		return nil, err
	}

	ops := make([]*model.UpstreamOperation, 0, len(invoices))
	for _, inv := range invoices {
		paidAt, err := time.Parse(time.RFC3339, inv.PaidAt)
		if err != nil || !window.Contains(paidAt) {
			continue
		}
		amount, err := money.ParseMinorUnits(inv.Amount)
		if err != nil {
			continue
		}
		ops = append(ops, &model.UpstreamOperation{
			ExternalReference: strconv.FormatInt(inv.InvoiceID, 10),
			AmountMinorUnits:  amount,
			Status:            inv.Status,
			OccurredAt:        paidAt,
		})
	}
	return ops, nil
}

func (g *cryptoBotGateway) getInvoices(ctx context.Context, query url.Values) ([]cryptoBotInvoice, error) {
	var resp cryptoBotEnvelope[struct {
		Items []cryptoBotInvoice `json:"items"`
	}]
	if err := g.client.Do(ctx, Request{Method: http.MethodGet, Path: "/api/getInvoices", Query: query, Headers: g.headers()}, &resp); err != nil {
		return nil, err
	}
	if !resp.OK {
		return nil, g.apiError("/api/getInvoices", resp.Error)
	}
	return resp.Result.Items, nil
}

func (g *cryptoBotGateway) apiError(path string, apiErr *cryptoBotAPIError) error {
	name := "unknown"
	if apiErr != nil {
		name = apiErr.Name
	}
	return &UpstreamError{Provider: string(model.ProviderCryptoBot), Method: "API", Path: path,
		Status: http.StatusOK, Attempts: 1, Err: fmt.Errorf("api error: %s", name)}
}

func cryptoBotStatus(s string) model.EventStatus {
	switch s {
	case "paid":
		return model.EventStatusPaid
	case "expired":
		return model.EventStatusFailed
	default:
		return model.EventStatusPending
	}
}
