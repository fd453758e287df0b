package mw

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/outdial-ai/outdial/pkg/gateway/apierror"
)

func TestRequestID_GeneratesAndPropagates(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = RequestIDFrom(r.Context())
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if seen == "" || !strings.HasPrefix(seen, "req_") {
		t.Fatalf("request id = %q, want req_ prefix", seen)
	}
	if got := rr.Header().Get("X-Request-ID"); got != seen {
		t.Fatalf("header X-Request-ID = %q, context id = %q", got, seen)
	}
}

func TestRequestID_KeepsCallerProvidedID(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = RequestIDFrom(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req_client")
	h.ServeHTTP(httptest.NewRecorder(), req)

	if seen != "req_client" {
		t.Fatalf("request id = %q, want req_client", seen)
	}
}

func TestAPIKey_ValidKeyPasses(t *testing.T) {
	called := false
	h := APIKey("secret", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/calls", nil)
	req.Header.Set("X-API-Key", "secret")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if !called {
		t.Fatal("handler not reached with valid key")
	}
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestAPIKey_RejectsMissingAndWrongKey(t *testing.T) {
	h := APIKey("secret", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not be reached")
	}))

	for _, key := range []string{"", "wrong"} {
		req := httptest.NewRequest(http.MethodPost, "/v1/calls", nil)
		if key != "" {
			req.Header.Set("X-API-Key", key)
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)

		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("key %q: status = %d, want 401", key, rr.Code)
		}
		var env apierror.Envelope
		if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if env.Error == nil || env.Error.Type != apierror.TypeUnauthorized {
			t.Fatalf("key %q: envelope = %+v", key, env.Error)
		}
	}
}

func TestRecover_PanicReturnsEnvelope(t *testing.T) {
	h := RequestID(Recover(nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/calls/abc/status", nil))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d body = %q", rr.Code, rr.Body.String())
	}
	var env apierror.Envelope
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.Error == nil || env.Error.Type != apierror.TypeInternal {
		t.Fatalf("envelope = %+v", env.Error)
	}
	if got := rr.Header().Get("X-Request-ID"); got == "" {
		t.Fatal("expected X-Request-ID header")
	}
}
