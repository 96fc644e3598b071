package signature

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	cryptoBody   = `{"update_type":"invoice_paid","payload":{"invoice_id":42}}`
	mulenBody    = `{"id":0,"payment_status":"success"}`
	mulenSecret  = "mulen-secret"
	mulenHex     = "fa0bc7ce4d2696ad9ca1e1c0e92f13e12921a4c7533afd88a37f94bfa9a35fb5"
	mulenBase64  = "+gvHzk0mlq2coeHA6S8T4SkhpMdTOv2Io3+Uv6mjX7U="
	mulenURLSafe = "-gvHzk0mlq2coeHA6S8T4SkhpMdTOv2Io3-Uv6mjX7U="
)

func flipLastByte(s string) string {
	b := []byte(s)
	if b[len(b)-1] == 'a' {
		b[len(b)-1] = 'b'
	} else {
		b[len(b)-1] = 'a'
	}
	return string(b)
}

func TestVerify_HashedKeyHMAC(t *testing.T) {
	v := NewVerifier()
	payload := BodyPayload([]byte(cryptoBody))
	expected := "1fc902918f8e8a4dc7d7e7e1005fe1d94cc345b946cdb3d0ebc2975bdbeabd64"

	sig, err := Sign(SchemeHashedKeyHMAC, payload, "cryptobot-token")
	require.NoError(t, err)
	assert.Equal(t, expected, sig)

	t.Run("accepts known signature", func(t *testing.T) {
		assert.True(t, v.Verify(SchemeHashedKeyHMAC, payload, expected, "cryptobot-token"))
		assert.True(t, v.Verify(SchemeHashedKeyHMAC, payload, strings.ToUpper(expected), "cryptobot-token"))
	})

	t.Run("rejects mutated body", func(t *testing.T) {
		mutated := BodyPayload([]byte(flipLastByte(cryptoBody)))
		assert.False(t, v.Verify(SchemeHashedKeyHMAC, mutated, expected, "cryptobot-token"))
	})

	t.Run("rejects mutated signature", func(t *testing.T) {
		assert.False(t, v.Verify(SchemeHashedKeyHMAC, payload, flipLastByte(expected), "cryptobot-token"))
	})

	t.Run("rejects plain HMAC with unhashed key", func(t *testing.T) {
		plain := hexHMAC("cryptobot-token", cryptoBody)
		assert.False(t, v.Verify(SchemeHashedKeyHMAC, payload, plain, "cryptobot-token"))
	})
}

func TestVerify_MultiEncodingHMAC(t *testing.T) {
	v := NewVerifier()
	payload := BodyPayload([]byte(mulenBody))

	accepted := map[string]string{
		"hex":                    mulenHex,
		"uppercase hex":          strings.ToUpper(mulenHex),
		"prefixed hex":           "sha256=" + mulenHex,
		"uppercase prefix":       "SHA256=" + mulenHex,
		"base64":                 mulenBase64,
		"base64 without padding": strings.TrimRight(mulenBase64, "="),
		"url-safe base64":        mulenURLSafe,
		"url-safe no padding":    strings.TrimRight(mulenURLSafe, "="),
		"prefixed base64":        "sha256=" + mulenBase64,
		"surrounding whitespace": "  " + mulenHex + " ",
	}
	for name, sig := range accepted {
		t.Run("accepts "+name, func(t *testing.T) {
			assert.True(t, v.Verify(SchemeMultiEncodingHMAC, payload, sig, mulenSecret))
		})
	}

	rejected := map[string]string{
		"mutated hex":          flipLastByte(mulenHex),
		"mutated base64":       "+gvHzk0mlq2coeHA6S8T4SkhpMdTOv2Io3+Uv6mjX7V=",
		"wrong prefix":         "sha1=" + mulenHex,
		"lowercased base64":    strings.ToLower(mulenBase64),
		"truncated hex":        mulenHex[:32],
		"bearer secret itself": mulenSecret,
	}
	for name, sig := range rejected {
		t.Run("rejects "+name, func(t *testing.T) {
			assert.False(t, v.Verify(SchemeMultiEncodingHMAC, payload, sig, mulenSecret))
		})
	}

	t.Run("rejects mutated body", func(t *testing.T) {
		mutated := BodyPayload([]byte(strings.Replace(mulenBody, "success", "succesS", 1)))
		assert.False(t, v.Verify(SchemeMultiEncodingHMAC, mutated, mulenHex, mulenSecret))
	})
}

func TestVerify_MD5Fields(t *testing.T) {
	v := NewVerifier()
	fields := func(amount string) Payload {
		return Payload{Fields: map[string]string{
			FieldShopID:  "12345",
			FieldAmount:  amount,
			FieldOrderID: "order-1",
		}}
	}
	const signedInteger = "354e1970352ca569c89fbe1943f38e78"
	const signedDecimal = "ebb37ab241fe92dc458c3f1557c9990d"

	t.Run("integral amount signed without decimals verifies", func(t *testing.T) {
		amount, err := CanonicalAmount("100")
		require.NoError(t, err)
		assert.True(t, v.Verify(SchemeMD5Fields, fields(amount), signedInteger, "secret2"))
	})

	t.Run("received 100.00 canonicalizes to the integer form", func(t *testing.T) {
		amount, err := CanonicalAmount("100.00")
		require.NoError(t, err)
		assert.Equal(t, "100", amount)
		assert.True(t, v.Verify(SchemeMD5Fields, fields(amount), signedInteger, "secret2"))
	})

	t.Run("signature computed over 100.00 fails", func(t *testing.T) {
		amount, err := CanonicalAmount("100")
		require.NoError(t, err)
		assert.False(t, v.Verify(SchemeMD5Fields, fields(amount), signedDecimal, "secret2"))
	})

	t.Run("case-insensitive compare", func(t *testing.T) {
		assert.True(t, v.Verify(SchemeMD5Fields, fields("100"), strings.ToUpper(signedInteger), "secret2"))
	})

	t.Run("mutated order id fails", func(t *testing.T) {
		p := fields("100")
		p.Fields[FieldOrderID] = "order-2"
		assert.False(t, v.Verify(SchemeMD5Fields, p, signedInteger, "secret2"))
	})

	t.Run("missing field fails", func(t *testing.T) {
		p := fields("100")
		delete(p.Fields, FieldShopID)
		assert.False(t, v.Verify(SchemeMD5Fields, p, signedInteger, "secret2"))
	})
}

func TestVerify_DualSecretMD5(t *testing.T) {
	v := NewVerifier()
	payload := Payload{
		Fields: map[string]string{FieldOutSum: "150.00", FieldInvID: "1700000"},
		Params: map[string]string{"Shp_user": "42", "Shp_id": "7"},
	}
	const expected = "8e781ad1e78b1a96eda6023acf4fe1b5"

	sig, err := Sign(SchemeDualSecretMD5, payload, "pass2")
	require.NoError(t, err)
	assert.Equal(t, expected, sig)

	assert.True(t, v.Verify(SchemeDualSecretMD5, payload, strings.ToUpper(expected), "pass2"))
	assert.False(t, v.Verify(SchemeDualSecretMD5, payload, expected, "pass1"))
	assert.False(t, v.Verify(SchemeDualSecretMD5, payload, flipLastByte(expected), "pass2"))

	t.Run("custom params change the signature", func(t *testing.T) {
		mutated := payload
		mutated.Params = map[string]string{"Shp_user": "43", "Shp_id": "7"}
		assert.False(t, v.Verify(SchemeDualSecretMD5, mutated, expected, "pass2"))
	})
}

func TestVerify_EmptyInputs(t *testing.T) {
	v := NewVerifier()
	payload := BodyPayload([]byte(mulenBody))

	assert.False(t, v.Verify(SchemeMultiEncodingHMAC, payload, mulenHex, ""))
	assert.False(t, v.Verify(SchemeMultiEncodingHMAC, payload, "", mulenSecret))
	assert.False(t, v.Verify(Scheme("unknown"), payload, mulenHex, mulenSecret))

	_, err := Sign(Scheme("unknown"), payload, mulenSecret)
	assert.ErrorIs(t, err, ErrUnknownScheme)
}

func TestVerifyToken(t *testing.T) {
	assert.True(t, VerifyToken("s3cret", "s3cret"))
	assert.False(t, VerifyToken("s3cret", "other"))
	assert.False(t, VerifyToken("", ""))
}

func hexHMAC(key, body string) string {
	sig, _ := Sign(SchemeMultiEncodingHMAC, BodyPayload([]byte(body)), key)
	return sig
}
