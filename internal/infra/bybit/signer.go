package bybit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// Signer handles Bybit v5 request signatures.
type Signer struct {
	apiKey     string
	secret     string
	recvWindow string
	now        func() time.Time
}

// NewSigner creates a Signer with the given receive window in milliseconds.
func NewSigner(apiKey, secret string, recvWindowMs int64) *Signer {
	return &Signer{
		apiKey:     apiKey,
		secret:     secret,
		recvWindow: strconv.FormatInt(recvWindowMs, 10),
		now:        time.Now,
	}
}

// GenerateHeaders signs timestamp + apiKey + recvWindow + payload, where
// payload is the raw query string for GET and the JSON body for POST.
func (s *Signer) GenerateHeaders(payload string) map[string]string {
	ts := strconv.FormatInt(s.now().UnixMilli(), 10)
	return map[string]string{
		"X-BAPI-API-KEY":     s.apiKey,
		"X-BAPI-TIMESTAMP":   ts,
		"X-BAPI-RECV-WINDOW": s.recvWindow,
		"X-BAPI-SIGN":        computeHmacHex(ts+s.apiKey+s.recvWindow+payload, s.secret),
		"Content-Type":       "application/json",
	}
}

// AuthArgs returns the private stream auth arguments: key, expiry in
// milliseconds and the signature of "GET/realtime" + expiry.
func (s *Signer) AuthArgs(ttl time.Duration) []any {
	expires := s.now().Add(ttl).UnixMilli()
	sign := computeHmacHex("GET/realtime"+strconv.FormatInt(expires, 10), s.secret)
	return []any{s.apiKey, expires, sign}
}

func computeHmacHex(message, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(message))
	return hex.EncodeToString(h.Sum(nil))
}
