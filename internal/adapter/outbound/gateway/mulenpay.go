package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/paygate/server/internal/domain/signature"
	"github.com/paygate/server/internal/model"
	"github.com/paygate/server/internal/port/outbound"
	"github.com/paygate/server/internal/utils/money"
)

const mulenPayCurrency = "rub"

// MulenPay payment status codes.
const (
	mulenPayStatusCancelled = 2
	mulenPayStatusPaid      = 3
	mulenPayStatusError     = 4
)

// MulenPayConfig holds MulenPay credentials.
type MulenPayConfig struct {
	APIKey    string
	ShopID    string
	SecretKey string
	Language  string
}

// mulenPayGateway implements PaymentGatewayPort against the MulenPay v2 API.
// Our internal order id is sent as the payment uuid and used as the external reference.
type mulenPayGateway struct {
	client *Client
	cfg    MulenPayConfig
}

// NewMulenPayGateway creates a MulenPay gateway.
func NewMulenPayGateway(client *Client, cfg MulenPayConfig) outbound.PaymentGatewayPort {
	if cfg.Language == "" {
		cfg.Language = "ru"
	}
	return &mulenPayGateway{client: client, cfg: cfg}
}

type mulenPayItem struct {
	Description string      `json:"description"`
	Quantity    int         `json:"quantity"`
	Price       json.Number `json:"price"`
	VATCode     int         `json:"vat_code"`
	PaymentSubj int         `json:"payment_subject"`
	PaymentMode int         `json:"payment_mode"`
}

type mulenPayPayment struct {
	ID        int64           `json:"id"`
	UUID      string          `json:"uuid"`
	Amount    json.RawMessage `json:"amount"`
	Status    int             `json:"status"`
	CreatedAt string          `json:"created_at"`
}

func (g *mulenPayGateway) Provider() model.Provider {
	return model.ProviderMulenPay
}

func (g *mulenPayGateway) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + g.cfg.APIKey}
}

func (g *mulenPayGateway) CreateOrder(ctx context.Context, req *model.GatewayOrderRequest) (*model.GatewayOrder, error) {
	amount := money.FormatMajor(req.AmountMinorUnits)
	body := map[string]any{
		"currency":    mulenPayCurrency,
		"amount":      amount,
		"uuid":        req.InternalOrderID,
		"shopId":      g.cfg.ShopID,
		"description": req.Description,
		"items": []mulenPayItem{{
			Description: req.Description,
			Quantity:    1,
			Price:       json.Number(amount),
			VATCode:     0,
			PaymentSubj: 4,
			PaymentMode: 4,
		}},
		"language": g.cfg.Language,
		"sign":     signature.SignConcatSHA1(mulenPayCurrency, amount, g.cfg.ShopID, g.cfg.SecretKey),
	}
	if req.ReturnURL != "" {
		body["website_url"] = req.ReturnURL
	}

	var resp struct {
		Success    bool   `json:"success"`
		ID         int64  `json:"id"`
		PaymentURL string `json:"paymentUrl"`
	}
	if err := g.client.Do(ctx, Request{Method: http.MethodPost, Path: "/v2/payments", Body: body, Headers: g.headers()}, &resp); err != nil {
		return nil, err
	}
	if !resp.Success || resp.PaymentURL == "" {
		return nil, &UpstreamError{Provider: string(model.ProviderMulenPay), Method: http.MethodPost,
			Path: "/v2/payments", Status: http.StatusOK, Attempts: 1, Err: fmt.Errorf("payment not created")}
	}

	return &model.GatewayOrder{
		ExternalReference: req.InternalOrderID,
		PaymentURL:        resp.PaymentURL,
		Status:            model.EventStatusPending,
		AmountMinorUnits:  req.AmountMinorUnits,
		Confirmed:         true,
	}, nil
}

func (g *mulenPayGateway) GetOrder(ctx context.Context, externalRef string) (*model.GatewayOrder, error) {
	payments, err := g.list(ctx, url.Values{"uuid": {externalRef}, "offset": {"0"}, "limit": {"1"}})
	if err != nil {
		return nil, err
	}
	if len(payments) == 0 {
		return nil, fmt.Errorf("%w: mulenpay uuid %s", ErrOrderNotFound, externalRef)
	}
	p := payments[0]
	amount, err := money.ParseJSONAmount(p.Amount)
	if err != nil {
		return nil, fmt.Errorf("parse payment amount: %w", err)
	}
	return &model.GatewayOrder{
		ExternalReference: externalRef,
		Status:            mulenPayStatus(p.Status),
		AmountMinorUnits:  amount,
		Confirmed:         true,
	}, nil
}

func (g *mulenPayGateway) ListOperations(ctx context.Context, window model.TimeWindow) ([]*model.UpstreamOperation, error) {
	const pageSize = 1000
	var ops []*model.UpstreamOperation
	for offset := 0; ; offset += pageSize {
		payments, err := g.list(ctx, url.Values{
			"offset": {strconv.Itoa(offset)},
			"limit":  {strconv.Itoa(pageSize)},
			"status": {strconv.Itoa(mulenPayStatusPaid)},
		})
		if err != nil {
			return nil, err
		}
		for _, p := range payments {
			at, err := time.Parse(time.DateTime, p.CreatedAt)
			if err != nil {
				at, err = time.Parse(time.RFC3339, p.CreatedAt)
			}
			if err != nil || !window.Contains(at) {
				continue
			}
			amount, err := money.ParseJSONAmount(p.Amount)
			if err != nil {
				continue
			}
			ops = append(ops, &model.UpstreamOperation{
				ExternalReference: p.UUID,
				ReceiptID:         strconv.FormatInt(p.ID, 10),
				AmountMinorUnits:  amount,
				Status:            strconv.Itoa(p.Status),
				OccurredAt:        at,
			})
		}
		if len(payments) < pageSize {
			return ops, nil
		}
	}
}

func (g *mulenPayGateway) list(ctx context.Context, query url.Values) ([]mulenPayPayment, error) {
	var resp struct {
		Success bool              `json:"success"`
		Items   []mulenPayPayment `json:"items"`
	}
	if err := g.client.Do(ctx, Request{Method: http.MethodGet, Path: "/v2/payments", Query: query, Headers: g.headers()}, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

func mulenPayStatus(code int) model.EventStatus {
	switch code {
	case mulenPayStatusPaid:
		return model.EventStatusPaid
	case mulenPayStatusCancelled, mulenPayStatusError:
		return model.EventStatusFailed
	default:
		return model.EventStatusPending
	}
}
