package middleware_test

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"file-service/internal/middleware"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
)

func TestCORS(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	handler := middleware.CORS([]string{"http://localhost:5173"})(next)

	tests := []struct {
		name        string
		method      string
		origin      string
		wantStatus  int
		wantAllowed string
	}{
		{name: "allowed origin", method: http.MethodGet, origin: "http://localhost:5173", wantStatus: http.StatusTeapot, wantAllowed: "http://localhost:5173"},
		{name: "unknown origin", method: http.MethodGet, origin: "http://evil.test", wantStatus: http.StatusTeapot},
		{name: "preflight", method: http.MethodOptions, origin: "http://localhost:5173", wantStatus: http.StatusOK, wantAllowed: "http://localhost:5173"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/files", nil)
			req.Header.Set("Origin", tt.origin)
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantAllowed, w.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	handler := chimiddleware.RequestID(middleware.RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte("ok"))
	})))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/files", nil))
	assert.Contains(t, buf.String(), `"status":201`)
	assert.Contains(t, buf.String(), `"path":"/api/files"`)
	assert.Contains(t, buf.String(), `"request_id"`)

	buf.Reset()
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Empty(t, buf.String(), "health probes log below info")
}
