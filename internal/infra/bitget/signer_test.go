package bitget

import (
	"testing"
	"time"
)

func fixedSigner() *Signer {
	s := NewSigner("key", "secret", "pass")
	s.now = func() time.Time { return time.UnixMilli(1600000000000) }
	return s
}

func TestSigner_GenerateHeaders(t *testing.T) {
	signer := fixedSigner()

	headers := signer.GenerateHeaders("POST", "/api/v2/spot/trade/place-order", "", `{"symbol":"TUSDUSDT"}`)

	if headers["ACCESS-KEY"] != "key" {
		t.Errorf("Expected ACCESS-KEY to be 'key', got %s", headers["ACCESS-KEY"])
	}
	if headers["ACCESS-PASSPHRASE"] != "pass" {
		t.Errorf("Expected ACCESS-PASSPHRASE to be 'pass', got %s", headers["ACCESS-PASSPHRASE"])
	}
	if headers["ACCESS-TIMESTAMP"] != "1600000000000" {
		t.Errorf("Expected millisecond timestamp, got %s", headers["ACCESS-TIMESTAMP"])
	}

	expected := computeHmacSha256(`1600000000000POST/api/v2/spot/trade/place-order{"symbol":"TUSDUSDT"}`, "secret")
	if headers["ACCESS-SIGN"] != expected {
		t.Errorf("ACCESS-SIGN = %s, want %s", headers["ACCESS-SIGN"], expected)
	}
}

func TestSigner_QueryIsSigned(t *testing.T) {
	signer := fixedSigner()

	headers := signer.GenerateHeaders("GET", "/api/v2/spot/account/assets", "assetType=hold_only", "")
	expected := computeHmacSha256("1600000000000GET/api/v2/spot/account/assets?assetType=hold_only", "secret")
	if headers["ACCESS-SIGN"] != expected {
		t.Errorf("query not part of the signature")
	}
}

func TestSigner_LoginArg(t *testing.T) {
	arg := fixedSigner().LoginArg()

	if arg.Timestamp != "1600000000" {
		t.Errorf("Expected second timestamp, got %s", arg.Timestamp)
	}
	if arg.Sign != computeHmacSha256("1600000000GET/user/verify", "secret") {
		t.Error("login signature mismatch")
	}
	if arg.ApiKey != "key" || arg.Passphrase != "pass" {
		t.Errorf("unexpected login arg %+v", arg)
	}
}

func TestComputeHmacSha256(t *testing.T) {
	// Standard HMAC-SHA256 Test Vector
	key := "key"
	data := "The quick brown fox jumps over the lazy dog"
	// HMAC-SHA256("key", "The quick brown fox jumps over the lazy dog")
	// Hex: f7bc83f430538424b13298e6aa6fb143ef4d59a14946175997479dbc2d1a3cd8
	// Base64: 97yD9DBThCSxMpjmqm+xQ+9NWaFJRhdZl0edvC0aPNg=

	expected := "97yD9DBThCSxMpjmqm+xQ+9NWaFJRhdZl0edvC0aPNg="
	result := computeHmacSha256(data, key)

	if result != expected {
		t.Errorf("HMAC Mismatch. Expected %s, got %s", expected, result)
	}
}
