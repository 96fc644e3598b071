package gin

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/paygate/server/internal/domain/signature"
	"github.com/paygate/server/internal/model"
	"github.com/paygate/server/internal/utils/middleware"
	"github.com/paygate/server/internal/utils/money"
	"go.uber.org/zap"
)

// CryptoBotSignatureHeader carries the CryptoBot callback signature.
const CryptoBotSignatureHeader = "Crypto-Pay-API-Signature"

// mulenPaySignatureHeaders are checked in order; the first present value wins.
// Header lookup is case-insensitive, so casing variants share an entry.
var mulenPaySignatureHeaders = []string{
	"X-MulenPay-Signature",
	"X-MulenPay-Webhook-Signature",
	"X-Signature",
	"Signature",
	"X-MulenPay-Sign",
	"MulenPay-Signature",
	"Sign",
}

// mulenPayTokenHeaders carry the shared secret itself on legacy integrations.
var mulenPayTokenHeaders = []string{
	"X-MulenPay-Token",
	"X-Webhook-Token",
}

// --- CryptoBot ---

type cryptoBotUpdate struct {
	UpdateID   int64  `json:"update_id"`
	UpdateType string `json:"update_type"`
	Payload    *struct {
		InvoiceID int64  `json:"invoice_id"`
		Status    string `json:"status"`
		Amount    string `json:"amount"`
		Fiat      string `json:"fiat"`
	} `json:"payload"`
}

func (a *callbackAdapter) parseCryptoBot(c *gin.Context, body []byte) (*parsedCallback, error) {
	provided := c.GetHeader(CryptoBotSignatureHeader)
	if !a.verifier.Verify(signature.SchemeHashedKeyHMAC, signature.BodyPayload(body), provided, a.cfg.CryptoBotSecret) {
		return nil, fmt.Errorf("%w: %s", errSignatureInvalid, describeSignature(provided))
	}

	var update cryptoBotUpdate
	if err := json.Unmarshal(body, &update); err != nil {
		return nil, malformed("decode update: %v", err)
	}
	if update.UpdateType != "invoice_paid" {
		return &parsedCallback{}, nil
	}
	if update.Payload == nil || update.Payload.InvoiceID == 0 {
		return nil, malformed("invoice_paid update without invoice")
	}

	amount, err := money.ParseMinorUnits(update.Payload.Amount)
	if err != nil {
		return nil, malformed("invoice amount: %v", err)
	}
	return &parsedCallback{event: &model.WebhookEvent{
		Provider:          model.ProviderCryptoBot,
		ExternalReference: strconv.FormatInt(update.Payload.InvoiceID, 10),
		AmountMinorUnits:  amount,
		Currency:          update.Payload.Fiat,
		Status:            model.EventStatusPaid,
	}}, nil
}

// --- MulenPay ---

type mulenPayCallback struct {
	ID            json.RawMessage `json:"id"`
	UUID          string          `json:"uuid"`
	Amount        json.RawMessage `json:"amount"`
	Currency      string          `json:"currency"`
	Status        json.RawMessage `json:"status"`
	PaymentStatus json.RawMessage `json:"payment_status"`
}

func (a *callbackAdapter) parseMulenPay(c *gin.Context, body []byte) (*parsedCallback, error) {
	if err := a.verifyMulenPay(c, body); err != nil {
		return nil, err
	}

	var cb mulenPayCallback
	if err := json.Unmarshal(body, &cb); err != nil {
		return nil, malformed("decode callback: %v", err)
	}

	ref := strings.TrimSpace(cb.UUID)
	if ref == "" {
		ref = strings.Trim(string(cb.ID), `" `)
	}
	if ref == "" || ref == "null" {
		return nil, malformed("callback without payment reference")
	}

	rawStatus := cb.PaymentStatus
	if len(rawStatus) == 0 {
		rawStatus = cb.Status
	}
	status, err := mulenPayCallbackStatus(rawStatus)
	if err != nil {
		return nil, err
	}

	var amount int64
	if status == model.EventStatusPaid {
		if amount, err = money.ParseJSONAmount(cb.Amount); err != nil {
			return nil, malformed("payment amount: %v", err)
		}
	}

	return &parsedCallback{event: &model.WebhookEvent{
		Provider:          model.ProviderMulenPay,
		ExternalReference: ref,
		AmountMinorUnits:  amount,
		Currency:          strings.ToUpper(cb.Currency),
		Status:            status,
	}}, nil
}

// verifyMulenPay checks the HMAC signature headers, then the opt-in shared-token fallback.
func (a *callbackAdapter) verifyMulenPay(c *gin.Context, body []byte) error {
	secret := a.cfg.MulenPaySecret
	for _, h := range mulenPaySignatureHeaders {
		if provided := c.GetHeader(h); provided != "" {
			if a.verifier.Verify(signature.SchemeMultiEncodingHMAC, signature.BodyPayload(body), provided, secret) {
				return nil
			}
			return fmt.Errorf("%w: header %s", errSignatureInvalid, h)
		}
	}

	token, source := mulenPayToken(c)
	if token == "" {
		return fmt.Errorf("%w: no signature header", errSignatureInvalid)
	}
	if !a.cfg.MulenPayTokenFallback {
		return fmt.Errorf("%w: token authentication disabled", errSignatureInvalid)
	}
	if !signature.VerifyToken(token, secret) {
		return fmt.Errorf("%w: token from %s", errSignatureInvalid, source)
	}
	a.logger.Warn("mulenpay callback accepted by shared token instead of signature",
		zap.String("source", source),
		zap.String("remote_ip", middleware.GetClientIP(c)),
	)
	return nil
}

// mulenPayToken extracts a bearer, "Token" or bare Authorization value, then the token headers.
func mulenPayToken(c *gin.Context) (string, string) {
	if auth := strings.TrimSpace(c.GetHeader("Authorization")); auth != "" {
		scheme, rest, found := strings.Cut(auth, " ")
		if found && (strings.EqualFold(scheme, "Bearer") || strings.EqualFold(scheme, "Token")) {
			return strings.TrimSpace(rest), "Authorization"
		}
		if !found {
			return auth, "Authorization"
		}
	}
	for _, h := range mulenPayTokenHeaders {
		if v := strings.TrimSpace(c.GetHeader(h)); v != "" {
			return v, h
		}
	}
	return "", ""
}

// mulenPayCallbackStatus accepts the numeric status codes and their string names.
func mulenPayCallbackStatus(raw json.RawMessage) (model.EventStatus, error) {
	if len(raw) == 0 {
		return "", malformed("callback without status")
	}
	var code int
	if err := json.Unmarshal(raw, &code); err == nil {
		switch code {
		case 3:
			return model.EventStatusPaid, nil
		case 2, 4:
			return model.EventStatusFailed, nil
		default:
			return model.EventStatusPending, nil
		}
	}
	var name string
	if err := json.Unmarshal(raw, &name); err != nil {
		return "", malformed("unreadable status %s", raw)
	}
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "success", "paid", "3":
		return model.EventStatusPaid, nil
	case "cancel", "canceled", "cancelled", "error", "failed", "2", "4":
		return model.EventStatusFailed, nil
	default:
		return model.EventStatusPending, nil
	}
}

// --- Freekassa / KassaAI ---

func (a *callbackAdapter) shopParser(provider model.Provider, cfg ShopCallbackConfig) func(*gin.Context, []byte) (*parsedCallback, error) {
	return func(c *gin.Context, body []byte) (*parsedCallback, error) {
		form, err := url.ParseQuery(string(body))
		if err != nil {
			return nil, malformed("decode form: %v", err)
		}

		shopID := form.Get("MERCHANT_ID")
		rawAmount := form.Get("AMOUNT")
		orderID := form.Get("MERCHANT_ORDER_ID")
		provided := form.Get("SIGN")
		if shopID == "" || rawAmount == "" || orderID == "" || provided == "" {
			return nil, malformed("missing required fields")
		}

		amount, err := signature.CanonicalAmount(rawAmount)
		if err != nil {
			return nil, malformed("amount %q", rawAmount)
		}
		fields := map[string]string{
			signature.FieldShopID:  shopID,
			signature.FieldAmount:  amount,
			signature.FieldOrderID: orderID,
		}
		if !a.verifier.Verify(signature.SchemeMD5Fields, signature.Payload{Fields: fields}, provided, cfg.Secret2) {
			return nil, fmt.Errorf("%w: order %s", errSignatureInvalid, orderID)
		}
		if cfg.ShopID != 0 && shopID != strconv.FormatInt(cfg.ShopID, 10) {
			return nil, fmt.Errorf("%w: unexpected shop %s", errSignatureInvalid, shopID)
		}

		minor, err := money.ParseMinorUnits(rawAmount)
		if err != nil {
			return nil, malformed("amount %q", rawAmount)
		}
		event := &model.WebhookEvent{
			Provider:          provider,
			ExternalReference: orderID,
			AmountMinorUnits:  minor,
			Status:            model.EventStatusPaid,
		}
		if uid := form.Get("us_user_id"); uid != "" {
			if event.UserID, err = strconv.ParseInt(uid, 10, 64); err != nil {
				return nil, malformed("us_user_id %q", uid)
			}
		}
		return &parsedCallback{event: event}, nil
	}
}

// --- Robokassa ---

func (a *callbackAdapter) parseRobokassa(c *gin.Context, body []byte) (*parsedCallback, error) {
	form, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, malformed("decode form: %v", err)
	}

	outSum := form.Get("OutSum")
	invID := form.Get("InvId")
	provided := form.Get("SignatureValue")
	if outSum == "" || invID == "" || provided == "" {
		return nil, malformed("missing required fields")
	}

	params := make(map[string]string)
	for k := range form {
		if len(k) > 4 && strings.EqualFold(k[:4], "shp_") {
			params[k] = form.Get(k)
		}
	}
	payload := signature.Payload{
		Fields: map[string]string{signature.FieldOutSum: outSum, signature.FieldInvID: invID},
		Params: params,
	}
	if !a.verifier.Verify(signature.SchemeDualSecretMD5, payload, provided, a.cfg.RobokassaPassword2) {
		return nil, fmt.Errorf("%w: invoice %s", errSignatureInvalid, invID)
	}

	amount, err := money.ParseMinorUnits(outSum)
	if err != nil {
		return nil, malformed("OutSum %q", outSum)
	}
	event := &model.WebhookEvent{
		Provider:          model.ProviderRobokassa,
		ExternalReference: invID,
		AmountMinorUnits:  amount,
		Status:            model.EventStatusPaid,
	}
	if uid, ok := params["Shp_user_id"]; ok {
		if event.UserID, err = strconv.ParseInt(uid, 10, 64); err != nil {
			return nil, malformed("Shp_user_id %q", uid)
		}
	}
	return &parsedCallback{event: event, ackRef: invID}, nil
}

// describeSignature describes a signature value without revealing it.
func describeSignature(v string) string {
	if v == "" {
		return "signature absent"
	}
	return fmt.Sprintf("signature of %d chars", len(v))
}
