// Package ingestsig authenticates proof submissions with an HMAC-SHA256
// body signature. Verification never reveals why a signature failed to
// the caller; the detail stays in the result for logging.
package ingestsig

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	SignatureHeader = "X-Ledger-Signature"
	EventIDHeader   = "X-Event-Id"
	EventTypeHeader = "X-Event-Type"
	Scheme          = "ledger-hmac-sha256/v1"
)

// Result reports one verification.
type Result struct {
	Valid     bool           `json:"valid"`
	Scheme    string         `json:"scheme"`
	EventID   string         `json:"event_id,omitempty"`
	EventType string         `json:"event_type,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// Sign computes the hex signature for a body, for clients and tests.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks the signature header against the raw body. An empty
// secret is a configuration error; a missing or malformed signature is a
// negative result, not an error.
func Verify(headers http.Header, rawBody []byte, secret string) (Result, error) {
	if strings.TrimSpace(secret) == "" {
		return Result{}, fmt.Errorf("ingest signature secret is empty")
	}

	res := Result{
		Scheme:    Scheme,
		EventID:   strings.TrimSpace(headers.Get(EventIDHeader)),
		EventType: strings.TrimSpace(headers.Get(EventTypeHeader)),
		Details: map[string]any{
			"signature_header_present": false,
			"signature_hex_decodable":  false,
		},
	}

	sigHex := strings.TrimSpace(headers.Get(SignatureHeader))
	if sigHex == "" {
		return res, nil
	}
	res.Details["signature_header_present"] = true

	provided, err := hex.DecodeString(sigHex)
	if err != nil {
		return res, nil
	}
	res.Details["signature_hex_decodable"] = true

	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(rawBody)
	res.Valid = hmac.Equal(mac.Sum(nil), provided)
	return res, nil
}

// Middleware rejects unsigned or mis-signed requests with 401. With an
// empty secret the middleware is a no-op, so local development does not
// need signing. The body is re-buffered for downstream handlers.
func Middleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if strings.TrimSpace(secret) == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(r.Body)
			if err != nil {
				http.Error(w, "unreadable body", http.StatusBadRequest)
				return
			}
			r.Body.Close()
			r.Body = io.NopCloser(bytes.NewReader(body))

			res, err := Verify(r.Header, body, secret)
			if err != nil || !res.Valid {
				http.Error(w, "invalid signature", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
