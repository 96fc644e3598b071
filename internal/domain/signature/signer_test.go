package signature

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalAmount(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"100", "100"},
		{"100.00", "100"},
		{"100.0", "100"},
		{"100.50", "100.5"},
		{"99.99", "99.99"},
		{"0.1", "0.1"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := CanonicalAmount(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := CanonicalAmount("ten")
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestSignFormRedirect(t *testing.T) {
	assert.Equal(t, "8ca81d0bbfbe7fbf86436a319738d4cd", SignFormRedirect("shop", "150.00", "1700000", "", "pass1"))
	assert.NotEqual(t,
		SignFormRedirect("shop", "150.00", "1700000", "", "pass1"),
		SignFormRedirect("shop", "150.00", "1700000", EncodeReceipt(`{"items":[]}`), "pass1"),
	)
}

func TestEncodeReceipt(t *testing.T) {
	assert.Equal(t, "%7B%22name%22%3A%22a%20b%2Bc%22%7D", EncodeReceipt(`{"name":"a b+c"}`))
}

func TestSignSortedValues(t *testing.T) {
	params := map[string]string{
		"shopId":    "1",
		"amount":    "100",
		"currency":  "RUB",
		"paymentId": "42",
		"signature": "ignored",
	}
	// values sorted by key: amount, currency, paymentId, shopId
	assert.Equal(t, "24289591fba7512f1b5203bef756b957b36922e3d4b082ce12f1c1f71dc836b6", SignSortedValues(params, "apikey"))
}

func TestSignConcatSHA1(t *testing.T) {
	assert.Equal(t, "6cdf02b58573c93305b212205e0b3b8c6f4b04d9", SignConcatSHA1("rub", "1500.00", "77", "secret"))
}

func TestSignShopForm(t *testing.T) {
	assert.Equal(t, MD5Hex("1:100:s1:RUB:o-1"), SignShopForm("1", "100", "s1", "RUB", "o-1"))
}
