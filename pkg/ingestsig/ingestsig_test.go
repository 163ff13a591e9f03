package ingestsig

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestVerify(t *testing.T) {
	body := []byte(`{"proof_id":"p-1"}`)
	secret := "s3cret"

	h := http.Header{}
	h.Set(SignatureHeader, Sign(body, secret))
	h.Set(EventIDHeader, "evt-1")
	h.Set(EventTypeHeader, "payment.settlement.requested")

	res, err := Verify(h, body, secret)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Valid {
		t.Fatalf("valid signature rejected: %+v", res)
	}
	if res.EventID != "evt-1" || res.EventType != "payment.settlement.requested" {
		t.Fatalf("headers not extracted: %+v", res)
	}
}

func TestVerifyRejects(t *testing.T) {
	body := []byte(`{"proof_id":"p-1"}`)

	t.Run("missing header", func(t *testing.T) {
		res, err := Verify(http.Header{}, body, "s3cret")
		if err != nil || res.Valid {
			t.Fatalf("res=%+v err=%v", res, err)
		}
	})

	t.Run("bad hex", func(t *testing.T) {
		h := http.Header{}
		h.Set(SignatureHeader, "zzzz")
		res, err := Verify(h, body, "s3cret")
		if err != nil || res.Valid {
			t.Fatalf("res=%+v err=%v", res, err)
		}
	})

	t.Run("wrong secret", func(t *testing.T) {
		h := http.Header{}
		h.Set(SignatureHeader, Sign(body, "other"))
		res, err := Verify(h, body, "s3cret")
		if err != nil || res.Valid {
			t.Fatalf("res=%+v err=%v", res, err)
		}
	})

	t.Run("empty secret is an error", func(t *testing.T) {
		if _, err := Verify(http.Header{}, body, " "); err == nil {
			t.Fatal("expected configuration error")
		}
	})
}

func TestMiddleware(t *testing.T) {
	secret := "s3cret"
	var gotBody string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b := make([]byte, 64)
		n, _ := r.Body.Read(b)
		gotBody = string(b[:n])
		w.WriteHeader(http.StatusOK)
	})
	handler := Middleware(secret)(inner)

	t.Run("signed request passes with body intact", func(t *testing.T) {
		body := `{"proof_id":"p-1"}`
		req := httptest.NewRequest(http.MethodPost, "/ledger/chains/c/proofs", strings.NewReader(body))
		req.Header.Set(SignatureHeader, Sign([]byte(body), secret))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		if gotBody != body {
			t.Fatalf("body not re-buffered: %q", gotBody)
		}
	})

	t.Run("unsigned request rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/ledger/chains/c/proofs", strings.NewReader("{}"))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d", rec.Code)
		}
	})

	t.Run("empty secret disables check", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/ledger/chains/c/proofs", strings.NewReader("{}"))
		rec := httptest.NewRecorder()
		Middleware("")(inner).ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
	})
}
