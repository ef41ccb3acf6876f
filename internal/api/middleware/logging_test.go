package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
)

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	previous := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = previous })
	return &buf
}

func TestLoggingMiddleware_LogsRoutePattern(t *testing.T) {
	buf := captureLogs(t)

	mux := http.NewServeMux()
	mux.HandleFunc("DELETE /api/eligibility/cache/{searchKey}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	handler := LoggingMiddleware(mux)(mux)

	req := httptest.NewRequest(http.MethodDelete, "/api/eligibility/cache/0001234567890", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Contains(t, buf.String(), `"route":"DELETE /api/eligibility/cache/{searchKey}"`)
	assert.NotContains(t, buf.String(), "0001234567890")
}

func TestLoggingMiddleware_UnmatchedRoute(t *testing.T) {
	buf := captureLogs(t)

	mux := http.NewServeMux()
	handler := LoggingMiddleware(mux)(mux)

	req := httptest.NewRequest(http.MethodGet, "/api/eligibility/patients/patient-9/unknown", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Contains(t, buf.String(), `"route":"unmatched"`)
	assert.Contains(t, buf.String(), `"status":404`)
	assert.NotContains(t, buf.String(), "patient-9")
}

func TestLoggingMiddleware_EchoesRequestID(t *testing.T) {
	captureLogs(t)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {})
	handler := LoggingMiddleware(mux)(mux)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, "req-42", w.Header().Get(RequestIDHeader))
}
