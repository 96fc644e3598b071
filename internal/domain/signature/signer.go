package signature

import (
	"crypto/sha1"
	"encoding/hex"
	"math"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// CanonicalAmount renders an amount the way the MD5 field scheme signs it:
// integral values without a decimal point, everything else in its shortest
// native form. "100.00" becomes "100" and "100.50" becomes "100.5".
func CanonicalAmount(raw string) (string, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return "", ErrInvalidAmount
	}
	if f == math.Trunc(f) {
		return strconv.FormatInt(int64(f), 10), nil
	}
	return strconv.FormatFloat(f, 'f', -1, 64), nil
}

// SignFormRedirect signs a checkout redirect for the dual-secret scheme using
// the first secret: md5(login:outSum:invId[:receipt]:secret1). receipt is the
// url-encoded receipt JSON, omitted when empty.
func SignFormRedirect(login, outSum, invID, receipt, secret1 string) string {
	parts := []string{login, outSum, invID}
	if receipt != "" {
		parts = append(parts, receipt)
	}
	parts = append(parts, secret1)
	return MD5Hex(strings.Join(parts, ":"))
}

// EncodeReceipt percent-encodes a receipt JSON document for signing and
// transport. Every byte outside the unreserved set is escaped, spaces as %20.
func EncodeReceipt(receiptJSON string) string {
	return strings.ReplaceAll(url.QueryEscape(receiptJSON), "+", "%20")
}

// SignShopForm signs a hosted payment form for the MD5 field scheme:
// md5(shop:amount:secret1:currency:order).
func SignShopForm(shopID, amount, secret1, currency, orderID string) string {
	return MD5Hex(strings.Join([]string{shopID, amount, secret1, currency, orderID}, ":"))
}

// SignSortedValues signs API parameters as hex(HMAC-SHA256(apiKey, v1|v2|...))
// with values ordered by their key. The signature key itself is skipped.
func SignSortedValues(params map[string]string, apiKey string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == "signature" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	values := make([]string, 0, len(keys))
	for _, k := range keys {
		values = append(values, params[k])
	}
	return hex.EncodeToString(HMACSHA256([]byte(apiKey), []byte(strings.Join(values, "|"))))
}

// SignConcatSHA1 signs a payment creation request as sha1(currency+amount+shopId+secret).
func SignConcatSHA1(currency, amount, shopID, secret string) string {
	sum := sha1.Sum([]byte(currency + amount + shopID + secret))
	return hex.EncodeToString(sum[:])
}
