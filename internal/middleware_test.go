package internal

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddleware(t *testing.T) {
	tests := []struct {
		Name      string
		code      int
		wantLevel string
	}{
		{"ok", http.StatusOK, "INFO"},
		{"client_error", http.StatusBadRequest, "INFO"},
		{"server_error", http.StatusBadGateway, "ERROR"},
		{"nothing_written", 0, "INFO"},
	}

	for _, tt := range tests {
		t.Run(tt.Name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewJSONHandler(&buf, nil))

			isHandlerCalled := false
			nextHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				isHandlerCalled = true
				if tt.code != 0 {
					w.WriteHeader(tt.code)
				}
			})

			req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			rec := httptest.NewRecorder()
			Middleware(logger)(nextHandler).ServeHTTP(rec, req)

			assert.True(t, isHandlerCalled)

			var entry map[string]any
			require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
			assert.Equal(t, tt.wantLevel, entry["level"])
			assert.Equal(t, "request", entry["msg"])
			assert.Equal(t, "/healthz", entry["path"])

			wantStatus := tt.code
			if wantStatus == 0 {
				wantStatus = http.StatusOK
			}
			assert.EqualValues(t, wantStatus, entry["status"])
		})
	}
}
