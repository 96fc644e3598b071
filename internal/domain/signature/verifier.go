// Package signature verifies and produces the per-processor callback signatures.
package signature

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"sort"
	"strings"
)

// Scheme identifies a signature derivation.
type Scheme string

const (
	// SchemeHashedKeyHMAC is hex(HMAC-SHA256(SHA256(secret), body)).
	SchemeHashedKeyHMAC Scheme = "hashed_key_hmac"
	// SchemeMultiEncodingHMAC is HMAC-SHA256(secret, body) accepted as hex, base64 or url-safe base64.
	SchemeMultiEncodingHMAC Scheme = "multi_encoding_hmac"
	// SchemeMD5Fields is hex(MD5("shop:amount:secret:order")).
	SchemeMD5Fields Scheme = "md5_fields"
	// SchemeDualSecretMD5 is hex(MD5("outSum:invId:secret[:Shp_k=v...]")) over the result notification.
	SchemeDualSecretMD5 Scheme = "dual_secret_md5"
)

// Field keys understood by the field-based schemes.
const (
	FieldShopID  = "shop_id"
	FieldAmount  = "amount"
	FieldOrderID = "order_id"
	FieldOutSum  = "out_sum"
	FieldInvID   = "inv_id"
)

// Payload carries the signed material. HMAC schemes sign Body; field
// schemes sign Fields, and the dual-secret scheme appends Params.
type Payload struct {
	Body   []byte
	Fields map[string]string
	Params map[string]string
}

// BodyPayload wraps a raw request body.
func BodyPayload(body []byte) Payload {
	return Payload{Body: body}
}

// Verifier checks a provided signature against a secret.
type Verifier interface {
	Verify(scheme Scheme, payload Payload, provided, secret string) bool
}

type strategy struct {
	sign   func(payload Payload, secret string) (string, error)
	verify func(payload Payload, provided, secret string) bool
}

type verifier struct {
	strategies map[Scheme]strategy
}

// NewVerifier creates a verifier with every known scheme registered.
func NewVerifier() Verifier {
	return &verifier{
		strategies: map[Scheme]strategy{
			SchemeHashedKeyHMAC:     {sign: signHashedKeyHMAC},
			SchemeMultiEncodingHMAC: {sign: signHMACHex, verify: verifyMultiEncoding},
			SchemeMD5Fields:         {sign: signMD5Fields},
			SchemeDualSecretMD5:     {sign: signDualSecretMD5},
		},
	}
}

// Verify returns true only when provided matches the signature derived under scheme.
// An empty secret or signature never verifies.
func (v *verifier) Verify(scheme Scheme, payload Payload, provided, secret string) bool {
	provided = strings.TrimSpace(provided)
	if secret == "" || provided == "" {
		return false
	}

	s, ok := v.strategies[scheme]
	if !ok {
		return false
	}
	if s.verify != nil {
		return s.verify(payload, provided, secret)
	}

	expected, err := s.sign(payload, secret)
	if err != nil {
		return false
	}
	return constantTimeEqual(strings.ToLower(expected), strings.ToLower(provided))
}

// Sign derives the signature a processor would send under scheme.
func Sign(scheme Scheme, payload Payload, secret string) (string, error) {
	switch scheme {
	case SchemeHashedKeyHMAC:
		return signHashedKeyHMAC(payload, secret)
	case SchemeMultiEncodingHMAC:
		return signHMACHex(payload, secret)
	case SchemeMD5Fields:
		return signMD5Fields(payload, secret)
	case SchemeDualSecretMD5:
		return signDualSecretMD5(payload, secret)
	default:
		return "", ErrUnknownScheme
	}
}

func signHashedKeyHMAC(payload Payload, secret string) (string, error) {
	key := sha256.Sum256([]byte(secret))
	mac := hmac.New(sha256.New, key[:])
	mac.Write(payload.Body)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

func signHMACHex(payload Payload, secret string) (string, error) {
	return hex.EncodeToString(HMACSHA256([]byte(secret), payload.Body)), nil
}

func signMD5Fields(payload Payload, secret string) (string, error) {
	shopID, amount, orderID := payload.Fields[FieldShopID], payload.Fields[FieldAmount], payload.Fields[FieldOrderID]
	if shopID == "" || amount == "" || orderID == "" {
		return "", ErrMissingField
	}
	return MD5Hex(shopID + ":" + amount + ":" + secret + ":" + orderID), nil
}

func signDualSecretMD5(payload Payload, secret string) (string, error) {
	outSum, invID := payload.Fields[FieldOutSum], payload.Fields[FieldInvID]
	if outSum == "" || invID == "" {
		return "", ErrMissingField
	}
	parts := []string{outSum, invID, secret}
	parts = append(parts, SortedParams(payload.Params)...)
	return MD5Hex(strings.Join(parts, ":")), nil
}

// verifyMultiEncoding strips an optional sha256= prefix and accepts the digest
// as lowercase-insensitive hex, or as standard or url-safe base64 with or without padding.
func verifyMultiEncoding(payload Payload, provided, secret string) bool {
	normalized := provided
	if len(normalized) >= len("sha256=") && strings.EqualFold(normalized[:len("sha256=")], "sha256=") {
		normalized = strings.TrimSpace(normalized[len("sha256="):])
	}

	digest := HMACSHA256([]byte(secret), payload.Body)
	expectedHex := hex.EncodeToString(digest)
	if constantTimeEqual(strings.ToLower(normalized), expectedHex) {
		return true
	}

	unpadded := strings.TrimRight(normalized, "=")
	if constantTimeEqual(unpadded, base64.RawStdEncoding.EncodeToString(digest)) {
		return true
	}
	return constantTimeEqual(unpadded, base64.RawURLEncoding.EncodeToString(digest))
}

// VerifyToken compares a bearer-style token to the shared secret.
func VerifyToken(provided, secret string) bool {
	if secret == "" || provided == "" {
		return false
	}
	return constantTimeEqual(provided, secret)
}

// SortedParams renders custom parameters as k=v sorted by key.
func SortedParams(params map[string]string) []string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+params[k])
	}
	return out
}

// HMACSHA256 returns the raw HMAC-SHA256 digest of msg under key.
func HMACSHA256(key, msg []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(msg)
	return mac.Sum(nil)
}

// MD5Hex returns the lowercase hex MD5 of s.
func MD5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
