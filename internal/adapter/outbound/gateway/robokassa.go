package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/paygate/server/internal/domain/signature"
	"github.com/paygate/server/internal/model"
	"github.com/paygate/server/internal/port/outbound"
	"github.com/paygate/server/internal/utils/money"
)

// DefaultRobokassaURL is the hosted checkout endpoint.
const DefaultRobokassaURL = "https://auth.robokassa.ru/Merchant/Index.aspx"

// RobokassaConfig holds Robokassa merchant settings.
type RobokassaConfig struct {
	CheckoutURL    string
	Login          string
	Password1      string
	Culture        string
	IsTest         bool
	ReceiptEnabled bool
	ReceiptSNO     string
	ReceiptTax     string
	PaymentMethod  string
	PaymentObject  string
}

// robokassaGateway builds signed checkout links locally. Robokassa has no
// order-creation call, so orders are unconfirmed until the result callback.
type robokassaGateway struct {
	cfg RobokassaConfig
	now func() time.Time
}

// NewRobokassaGateway creates a Robokassa gateway.
func NewRobokassaGateway(cfg RobokassaConfig) outbound.PaymentGatewayPort {
	if cfg.CheckoutURL == "" {
		cfg.CheckoutURL = DefaultRobokassaURL
	}
	if cfg.Culture == "" {
		cfg.Culture = "ru"
	}
	if cfg.ReceiptTax == "" {
		cfg.ReceiptTax = "none"
	}
	if cfg.PaymentMethod == "" {
		cfg.PaymentMethod = "full_payment"
	}
	if cfg.PaymentObject == "" {
		cfg.PaymentObject = "service"
	}
	return &robokassaGateway{cfg: cfg, now: time.Now}
}

type robokassaReceiptItem struct {
	Name          string      `json:"name"`
	Quantity      int         `json:"quantity"`
	Sum           json.Number `json:"sum"`
	PaymentMethod string      `json:"payment_method"`
	PaymentObject string      `json:"payment_object"`
	Tax           string      `json:"tax"`
}

type robokassaReceipt struct {
	Items []robokassaReceiptItem `json:"items"`
	SNO   string                 `json:"sno,omitempty"`
}

func (g *robokassaGateway) Provider() model.Provider {
	return model.ProviderRobokassa
}

// nextInvoiceID derives a numeric InvId from the clock, kept at six digits or more.
func (g *robokassaGateway) nextInvoiceID() int64 {
	id := g.now().UnixMilli() % 1_000_000_000
	if id < 100_000 {
		id += 100_000
	}
	return id
}

func (g *robokassaGateway) CreateOrder(_ context.Context, req *model.GatewayOrderRequest) (*model.GatewayOrder, error) {
	invID := strconv.FormatInt(g.nextInvoiceID(), 10)
	outSum := money.FormatMajor(req.AmountMinorUnits)

	var receipt string
	if g.cfg.ReceiptEnabled {
		encoded, err := g.receipt(outSum, req.Description)
		if err != nil {
			return nil, err
		}
		receipt = encoded
	}

	params := url.Values{
		"MerchantLogin":  {g.cfg.Login},
		"OutSum":         {outSum},
		"InvId":          {invID},
		"Description":    {req.Description},
		"SignatureValue": {signature.SignFormRedirect(g.cfg.Login, outSum, invID, receipt, g.cfg.Password1)},
		"Culture":        {g.cfg.Culture},
	}
	if g.cfg.IsTest {
		params.Set("IsTest", "1")
	}
	if req.Email != "" {
		params.Set("Email", req.Email)
	}

	query := params.Encode()
	if receipt != "" {
		query += "&Receipt=" + receipt
	}

	return &model.GatewayOrder{
		ExternalReference: invID,
		PaymentURL:        g.cfg.CheckoutURL + "?" + query,
		Status:            model.EventStatusPending,
		AmountMinorUnits:  req.AmountMinorUnits,
	}, nil
}

func (g *robokassaGateway) receipt(outSum, description string) (string, error) {
	name := description
	if name == "" {
		name = "Balance top-up"
	}
	if r := []rune(name); len(r) > 128 {
		name = string(r[:128])
	}
	doc := robokassaReceipt{
		Items: []robokassaReceiptItem{{
			Name:          name,
			Quantity:      1,
			Sum:           json.Number(outSum),
			PaymentMethod: g.cfg.PaymentMethod,
			PaymentObject: g.cfg.PaymentObject,
			Tax:           g.cfg.ReceiptTax,
		}},
		SNO: strings.TrimSpace(g.cfg.ReceiptSNO),
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("marshal receipt: %w", err)
	}
	return signature.EncodeReceipt(string(raw)), nil
}

// GetOrder always reports pending: Robokassa state only arrives through result callbacks.
func (g *robokassaGateway) GetOrder(_ context.Context, externalRef string) (*model.GatewayOrder, error) {
	return &model.GatewayOrder{ExternalReference: externalRef, Status: model.EventStatusPending}, nil
}

// ListOperations returns nothing; Robokassa exposes no operations ledger here.
func (g *robokassaGateway) ListOperations(context.Context, model.TimeWindow) ([]*model.UpstreamOperation, error) {
	return nil, nil
}
