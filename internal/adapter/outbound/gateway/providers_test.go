package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/paygate/server/internal/domain/signature"
	"github.com/paygate/server/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type staticIP string

func (s staticIP) PublicIP(context.Context) string { return string(s) }

func upstream(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	cfg := DefaultClientConfig(server.URL)
	cfg.BaseDelay = time.Millisecond
	return NewClient("test", cfg, server.Client(), nil, zap.NewNop())
}

func TestMulenPay_CreateOrder(t *testing.T) {
	var got map[string]any
	client := upstream(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/payments", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"success":true,"id":77,"paymentUrl":"https://mulenpay.example/p/77"}`))
	})
	g := NewMulenPayGateway(client, MulenPayConfig{APIKey: "key", ShopID: "77", SecretKey: "secret"})

	order, err := g.CreateOrder(context.Background(), &model.GatewayOrderRequest{
		InternalOrderID:  "order-uuid",
		AmountMinorUnits: 150000,
		Currency:         "RUB",
		Description:      "Top-up",
	})

	require.NoError(t, err)
	assert.Equal(t, "order-uuid", order.ExternalReference)
	assert.Equal(t, "https://mulenpay.example/p/77", order.PaymentURL)
	assert.True(t, order.Confirmed)
	assert.Equal(t, "1500.00", got["amount"])
	assert.Equal(t, "rub", got["currency"])
	assert.Equal(t, signature.SignConcatSHA1("rub", "1500.00", "77", "secret"), got["sign"])
}

func TestMulenPay_GetOrder(t *testing.T) {
	client := upstream(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "order-uuid", r.URL.Query().Get("uuid"))
		_, _ = w.Write([]byte(`{"success":true,"items":[{"id":77,"uuid":"order-uuid","amount":"1500.00","status":3}]}`))
	})
	g := NewMulenPayGateway(client, MulenPayConfig{APIKey: "key", ShopID: "77", SecretKey: "secret"})

	order, err := g.GetOrder(context.Background(), "order-uuid")

	require.NoError(t, err)
	assert.Equal(t, model.EventStatusPaid, order.Status)
	assert.Equal(t, int64(150000), order.AmountMinorUnits)
}

func TestCryptoBot_CreateAndGet(t *testing.T) {
	client := upstream(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "token", r.Header.Get("Crypto-Pay-API-Token"))
		switch r.URL.Path {
		case "/api/createInvoice":
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "fiat", body["currency_type"])
			assert.Equal(t, "250.50", body["amount"])
			_, _ = w.Write([]byte(`{"ok":true,"result":{"invoice_id":42,"status":"active","amount":"250.50","bot_invoice_url":"https://t.me/CryptoBot?start=IV42"}}`))
		case "/api/getInvoices":
			assert.Equal(t, "42", r.URL.Query().Get("invoice_ids"))
			_, _ = w.Write([]byte(`{"ok":true,"result":{"items":[{"invoice_id":42,"status":"paid","amount":"250.5"}]}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	g := NewCryptoBotGateway(client, CryptoBotConfig{APIToken: "token"})

	order, err := g.CreateOrder(context.Background(), &model.GatewayOrderRequest{
		InternalOrderID: "o1", AmountMinorUnits: 25050, Currency: "RUB",
	})
	require.NoError(t, err)
	assert.Equal(t, "42", order.ExternalReference)

	got, err := g.GetOrder(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, model.EventStatusPaid, got.Status)
	assert.Equal(t, int64(25050), got.AmountMinorUnits)
}

func TestCryptoBot_APIErrorIsFatal(t *testing.T) {
	var hits int32
	client := upstream(t, func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&hits, 1)
		_, _ = w.Write([]byte(`{"ok":false,"error":{"code":400,"name":"AMOUNT_TOO_SMALL"}}`))
	})
	g := NewCryptoBotGateway(client, CryptoBotConfig{APIToken: "token"})

	_, err := g.CreateOrder(context.Background(), &model.GatewayOrderRequest{InternalOrderID: "o1", AmountMinorUnits: 1, Currency: "RUB"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "AMOUNT_TOO_SMALL")
	assert.Equal(t, int32(1), hits)
}

func TestFreekassa_CreateOrderSignsBody(t *testing.T) {
	var raw map[string]json.RawMessage
	client := upstream(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/orders/create", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		_, _ = w.Write([]byte(`{"type":"success","orderId":9,"location":"https://pay.fk.money/form/9"}`))
	})
	g := NewFreekassaGateway(client, ShopAPIConfig{ShopID: 12345, APIKey: "apikey", PaymentSystemID: 44}, staticIP("203.0.113.7"))
	g.(*shopAPIGateway).nonce = func() int64 { return 1700000000 }

	order, err := g.CreateOrder(context.Background(), &model.GatewayOrderRequest{
		InternalOrderID: "ord-1", AmountMinorUnits: 10000, Currency: "RUB", Email: "a@b.c",
	})

	require.NoError(t, err)
	assert.Equal(t, "ord-1", order.ExternalReference)
	assert.Equal(t, "https://pay.fk.money/form/9", order.PaymentURL)
	assert.Equal(t, "100", string(raw["amount"]))
	assert.Equal(t, `"203.0.113.7"`, string(raw["ip"]))

	values := map[string]string{}
	for k, v := range raw {
		if k == "signature" {
			continue
		}
		var s string
		if json.Unmarshal(v, &s) == nil {
			values[k] = s
		} else {
			values[k] = string(v)
		}
	}
	var sig string
	require.NoError(t, json.Unmarshal(raw["signature"], &sig))
	assert.Equal(t, signature.SignSortedValues(values, "apikey"), sig)
}

func TestFreekassa_ListOperations(t *testing.T) {
	client := upstream(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"type":"success","orders":[
			{"merchant_order_id":"ord-1","fk_order_id":501,"amount":100,"status":1,"date":"2026-03-01 12:00:00"},
			{"merchant_order_id":"ord-2","fk_order_id":502,"amount":"99.90","status":1,"date":"bad date"}
		]}`))
	})
	g := NewKassaAIGateway(client, ShopAPIConfig{ShopID: 1, APIKey: "k"}, staticIP("127.0.0.1"))

	ops, err := g.ListOperations(context.Background(), model.TimeWindow{
		From: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
	})

	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, "ord-1", ops[0].ExternalReference)
	assert.Equal(t, int64(10000), ops[0].AmountMinorUnits)
	assert.Equal(t, "501", ops[0].ReceiptID)
	assert.Equal(t, model.ProviderKassaAI, g.Provider())
}

func TestRobokassa_CreateOrderBuildsSignedURL(t *testing.T) {
	g := NewRobokassaGateway(RobokassaConfig{Login: "shop", Password1: "pass1", IsTest: true}).(*robokassaGateway)
	g.now = func() time.Time { return time.UnixMilli(1_001_700_000) }

	order, err := g.CreateOrder(context.Background(), &model.GatewayOrderRequest{
		AmountMinorUnits: 15000, Description: "Top-up", Email: "a@b.c",
	})
	require.NoError(t, err)

	assert.Equal(t, "1700000", order.ExternalReference)
	assert.False(t, order.Confirmed)

	u, err := url.Parse(order.PaymentURL)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "150.00", q.Get("OutSum"))
	assert.Equal(t, "1700000", q.Get("InvId"))
	assert.Equal(t, "1", q.Get("IsTest"))
	assert.Equal(t, "8ca81d0bbfbe7fbf86436a319738d4cd", q.Get("SignatureValue"))
}

func TestRobokassa_ReceiptIsSigned(t *testing.T) {
	g := NewRobokassaGateway(RobokassaConfig{Login: "shop", Password1: "pass1", ReceiptEnabled: true, ReceiptSNO: "usn_income"}).(*robokassaGateway)
	g.now = func() time.Time { return time.UnixMilli(50) }

	order, err := g.CreateOrder(context.Background(), &model.GatewayOrderRequest{AmountMinorUnits: 15000, Description: "Top-up"})
	require.NoError(t, err)

	assert.Equal(t, "100050", order.ExternalReference)
	idx := strings.Index(order.PaymentURL, "&Receipt=")
	require.Positive(t, idx)
	receipt := order.PaymentURL[idx+len("&Receipt="):]

	decoded, err := url.QueryUnescape(receipt)
	require.NoError(t, err)
	assert.JSONEq(t, `{"items":[{"name":"Top-up","quantity":1,"sum":150.00,"payment_method":"full_payment","payment_object":"service","tax":"none"}],"sno":"usn_income"}`, decoded)

	u, err := url.Parse(order.PaymentURL)
	require.NoError(t, err)
	want := signature.SignFormRedirect("shop", "150.00", "100050", receipt, "pass1")
	assert.Equal(t, want, u.Query().Get("SignatureValue"))
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register(NewRobokassaGateway(RobokassaConfig{Login: "x"}))

	_, err := r.Get(model.ProviderRobokassa)
	assert.NoError(t, err)
	_, err = r.Get(model.ProviderMulenPay)
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.Equal(t, []model.Provider{model.ProviderRobokassa}, r.Providers())
}

func TestPublicIPResolver(t *testing.T) {
	t.Run("configured address wins", func(t *testing.T) {
		r := NewPublicIPResolver("198.51.100.1", "10.0.0.1", http.DefaultClient, nil, zap.NewNop())
		assert.Equal(t, "198.51.100.1", r.PublicIP(context.Background()))
	})

	t.Run("single lookup for concurrent callers", func(t *testing.T) {
		var hits int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			atomic.AddInt32(&hits, 1)
			time.Sleep(50 * time.Millisecond)
			_, _ = io.WriteString(w, "203.0.113.9\n")
		}))
		defer server.Close()

		r := NewPublicIPResolver("", "10.0.0.1", server.Client(), nil, zap.NewNop())
		r.endpoints = []string{server.URL}

		results := make(chan string, 10)
		for i := 0; i < 10; i++ {
			go func() { results <- r.PublicIP(context.Background()) }()
		}
		for i := 0; i < 10; i++ {
			assert.Equal(t, "203.0.113.9", <-results)
		}
		assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
		assert.Equal(t, "203.0.113.9", r.PublicIP(context.Background()))
	})

	t.Run("ipv6 and failures fall back", func(t *testing.T) {
		v6 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, "2001:db8::1")
		}))
		defer v6.Close()
		broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer broken.Close()

		r := NewPublicIPResolver("", "185.92.183.173", http.DefaultClient, nil, zap.NewNop())
		r.endpoints = []string{v6.URL, broken.URL}

		assert.Equal(t, "185.92.183.173", r.PublicIP(context.Background()))
		assert.Equal(t, "127.0.0.1", r.WithFallback("127.0.0.1").PublicIP(context.Background()))
	})

	t.Run("failed lookup is remembered until it expires", func(t *testing.T) {
		var hits, healthy int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			atomic.AddInt32(&hits, 1)
			if atomic.LoadInt32(&healthy) == 0 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			_, _ = io.WriteString(w, "203.0.113.9")
		}))
		defer server.Close()

		now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
		r := NewPublicIPResolver("", "10.0.0.1", server.Client(), nil, zap.NewNop())
		r.endpoints = []string{server.URL}
		r.now = func() time.Time { return now }

		assert.Equal(t, "10.0.0.1", r.PublicIP(context.Background()))
		assert.Equal(t, "10.0.0.1", r.PublicIP(context.Background()))
		assert.Equal(t, "10.0.0.2", r.WithFallback("10.0.0.2").PublicIP(context.Background()))
		assert.Equal(t, int32(1), atomic.LoadInt32(&hits))

		atomic.StoreInt32(&healthy, 1)
		now = now.Add(failedLookupTTL + time.Second)
		assert.Equal(t, "203.0.113.9", r.PublicIP(context.Background()))
		assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
	})
}

func ExampleUpstreamError() {
	err := &UpstreamError{Provider: "mulenpay", Method: "GET", Path: "/v2/payments", Status: 503, Transient: true, Attempts: 3}
	fmt.Println(err)
	// Output: mulenpay GET /v2/payments: transient upstream error (status 503, 3 attempts)
}
