package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAdminToken_Success(t *testing.T) {
	handler := AdminToken("s3cret")(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/chatbot/debug", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAdminToken_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		message string
	}{
		{"missing header", "", "missing authorization header"},
		{"wrong scheme", "Basic s3cret", "invalid authorization format"},
		{"wrong token", "Bearer nope", "invalid admin token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := AdminToken("s3cret")(okHandler())

			req := httptest.NewRequest(http.MethodPost, "/chatbot/process-documents", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			var body map[string]string
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.message, body["error"])
		})
	}
}

func TestAdminToken_DisabledWithoutToken(t *testing.T) {
	handler := AdminToken("")(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/chatbot/debug", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}
