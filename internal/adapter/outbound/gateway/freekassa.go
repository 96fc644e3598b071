package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/paygate/server/internal/domain/signature"
	"github.com/paygate/server/internal/model"
	"github.com/paygate/server/internal/port/outbound"
	"github.com/paygate/server/internal/utils/money"
)

// Freekassa order status codes.
const (
	freekassaStatusPaid      = 1
	freekassaStatusError     = 8
	freekassaStatusCancelled = 9
)

const freekassaDateLayout = "2006-01-02 15:04:05"

// ShopAPIConfig holds credentials for the shop-API processors (Freekassa and KassaAI).
type ShopAPIConfig struct {
	ShopID          int64
	APIKey          string
	PaymentSystemID int
	DefaultEmail    string
}

// shopAPIGateway implements PaymentGatewayPort for processors speaking the
// Freekassa shop API. Our internal order id is the paymentId and the external reference.
type shopAPIGateway struct {
	provider model.Provider
	client   *Client
	cfg      ShopAPIConfig
	ip       outbound.PublicIPPort
	nonce    func() int64
}

// NewFreekassaGateway creates a Freekassa gateway.
func NewFreekassaGateway(client *Client, cfg ShopAPIConfig, ip outbound.PublicIPPort) outbound.PaymentGatewayPort {
	return newShopAPIGateway(model.ProviderFreekassa, client, cfg, ip)
}

// NewKassaAIGateway creates a KassaAI gateway.
func NewKassaAIGateway(client *Client, cfg ShopAPIConfig, ip outbound.PublicIPPort) outbound.PaymentGatewayPort {
	return newShopAPIGateway(model.ProviderKassaAI, client, cfg, ip)
}

func newShopAPIGateway(provider model.Provider, client *Client, cfg ShopAPIConfig, ip outbound.PublicIPPort) *shopAPIGateway {
	if cfg.PaymentSystemID == 0 {
		cfg.PaymentSystemID = 1
	}
	if cfg.DefaultEmail == "" {
		cfg.DefaultEmail = "noreply@example.com"
	}
	return &shopAPIGateway{
		provider: provider,
		client:   client,
		cfg:      cfg,
		ip:       ip,
		nonce:    func() int64 { return time.Now().UnixNano() },
	}
}

type shopAPIOrder struct {
	MerchantOrderID string          `json:"merchant_order_id"`
	FKOrderID       int64           `json:"fk_order_id"`
	Amount          json.RawMessage `json:"amount"`
	Status          int             `json:"status"`
	Date            string          `json:"date"`
}

func (g *shopAPIGateway) Provider() model.Provider {
	return g.provider
}

// signed builds a request body whose signature covers every value in params.
func (g *shopAPIGateway) signed(params map[string]any) map[string]any {
	params["shopId"] = g.cfg.ShopID
	params["nonce"] = g.nonce()

	values := make(map[string]string, len(params))
	for k, v := range params {
		values[k] = fmt.Sprint(v)
	}
	params["signature"] = signature.SignSortedValues(values, g.cfg.APIKey)
	return params
}

func (g *shopAPIGateway) CreateOrder(ctx context.Context, req *model.GatewayOrderRequest) (*model.GatewayOrder, error) {
	amount, err := signature.CanonicalAmount(money.FormatMajor(req.AmountMinorUnits))
	if err != nil {
		return nil, err
	}
	email := req.Email
	if email == "" {
		email = g.cfg.DefaultEmail
	}

	body := g.signed(map[string]any{
		"paymentId": req.InternalOrderID,
		"i":         g.cfg.PaymentSystemID,
		"email":     email,
		"ip":        g.ip.PublicIP(ctx),
		"amount":    json.Number(amount),
		"currency":  req.Currency,
	})

	var resp struct {
		Type     string `json:"type"`
		OrderID  int64  `json:"orderId"`
		Location string `json:"location"`
		Message  string `json:"message"`
	}
	if err := g.client.Do(ctx, Request{Method: http.MethodPost, Path: "/orders/create", Body: body}, &resp); err != nil {
		return nil, err
	}
	if resp.Type == "error" || resp.Location == "" {
		return nil, &UpstreamError{Provider: string(g.provider), Method: http.MethodPost, Path: "/orders/create",
			Status: http.StatusOK, Attempts: 1, Err: fmt.Errorf("order not created: %s", resp.Message)}
	}

	return &model.GatewayOrder{
		ExternalReference: req.InternalOrderID,
		PaymentURL:        resp.Location,
		Status:            model.EventStatusPending,
		AmountMinorUnits:  req.AmountMinorUnits,
		Confirmed:         true,
	}, nil
}

func (g *shopAPIGateway) GetOrder(ctx context.Context, externalRef string) (*model.GatewayOrder, error) {
	orders, err := g.orders(ctx, map[string]any{"paymentId": externalRef})
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return nil, fmt.Errorf("%w: %s order %s", ErrOrderNotFound, g.provider, externalRef)
	}
	o := orders[0]
	amount, err := money.ParseJSONAmount(o.Amount)
	if err != nil {
		return nil, fmt.Errorf("parse order amount: %w", err)
	}
	return &model.GatewayOrder{
		ExternalReference: externalRef,
		Status:            shopAPIStatus(o.Status),
		AmountMinorUnits:  amount,
		Confirmed:         true,
	}, nil
}

func (g *shopAPIGateway) ListOperations(ctx context.Context, window model.TimeWindow) ([]*model.UpstreamOperation, error) {
	orders, err := g.orders(ctx, map[string]any{
		"orderStatus": freekassaStatusPaid,
		"dateFrom":    window.From.Format(freekassaDateLayout),
		"dateTo":      window.To.Format(freekassaDateLayout),
	})
	if err != nil {
		return nil, err
	}

	ops := make([]*model.UpstreamOperation, 0, len(orders))
	for _, o := range orders {
		at, err := time.ParseInLocation(freekassaDateLayout, o.Date, window.From.Location())
		if err != nil {
			continue
		}
		amount, err := money.ParseJSONAmount(o.Amount)
		if err != nil {
			continue
		}
		ops = append(ops, &model.UpstreamOperation{
			ExternalReference: o.MerchantOrderID,
			ReceiptID:         strconv.FormatInt(o.FKOrderID, 10),
			AmountMinorUnits:  amount,
			Status:            strconv.Itoa(o.Status),
			OccurredAt:        at,
		})
	}
	return ops, nil
}

func (g *shopAPIGateway) orders(ctx context.Context, params map[string]any) ([]shopAPIOrder, error) {
	var resp struct {
		Type    string         `json:"type"`
		Orders  []shopAPIOrder `json:"orders"`
		Message string         `json:"message"`
	}
	if err := g.client.Do(ctx, Request{Method: http.MethodPost, Path: "/orders", Body: g.signed(params)}, &resp); err != nil {
		return nil, err
	}
	if resp.Type == "error" {
		return nil, &UpstreamError{Provider: string(g.provider), Method: http.MethodPost, Path: "/orders",
			Status: http.StatusOK, Attempts: 1, Err: fmt.Errorf("orders query failed: %s", resp.Message)}
	}
	return resp.Orders, nil
}

func shopAPIStatus(code int) model.EventStatus {
	switch code {
	case freekassaStatusPaid:
		return model.EventStatusPaid
	case freekassaStatusError, freekassaStatusCancelled:
		return model.EventStatusFailed
	default:
		return model.EventStatusPending
	}
}
