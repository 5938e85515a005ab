package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Strob0t/MissionControl/internal/logger"
)

func TestRequestIDGenerated(t *testing.T) {
	var ctxID string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctxID = logger.RequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if ctxID == "" {
		t.Fatal("expected request ID in context")
	}
	if len(ctxID) != 32 {
		t.Errorf("expected 32-char hex ID, got %q", ctxID)
	}
	if got := rec.Header().Get("X-Request-ID"); got != ctxID {
		t.Errorf("response header %q does not match context ID %q", got, ctxID)
	}
}

func TestRequestIDPassthrough(t *testing.T) {
	var ctxID string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctxID = logger.RequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "caller-supplied-id")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if ctxID != "caller-supplied-id" {
		t.Errorf("expected caller ID preserved, got %q", ctxID)
	}
	if got := rec.Header().Get("X-Request-ID"); got != "caller-supplied-id" {
		t.Errorf("expected header echoed, got %q", got)
	}
}
