package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"orchestrator/pkg/crypto"
)

func authStack(t *testing.T, keyHash string) http.Handler {
	t.Helper()
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return APIKeyAuth(keyHash, nil)(next)
}

func TestAPIKeyAuth(t *testing.T) {
	hash, err := crypto.HashSecret("operator-key")
	if err != nil {
		t.Fatalf("HashSecret: %v", err)
	}

	tests := []struct {
		name       string
		method     string
		keyHash    string
		header     string
		value      string
		wantStatus int
	}{
		{
			name:       "GET passes without key",
			method:     http.MethodGet,
			keyHash:    hash,
			wantStatus: http.StatusOK,
		},
		{
			name:       "POST without key rejected",
			method:     http.MethodPost,
			keyHash:    hash,
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "POST with valid X-API-Key",
			method:     http.MethodPost,
			keyHash:    hash,
			header:     "X-API-Key",
			value:      "operator-key",
			wantStatus: http.StatusOK,
		},
		{
			name:       "POST with valid Bearer token",
			method:     http.MethodPost,
			keyHash:    hash,
			header:     "Authorization",
			value:      "Bearer operator-key",
			wantStatus: http.StatusOK,
		},
		{
			name:       "POST with wrong key rejected",
			method:     http.MethodPost,
			keyHash:    hash,
			header:     "X-API-Key",
			value:      "wrong-key",
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "empty hash disables auth",
			method:     http.MethodDelete,
			keyHash:    "",
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := authStack(t, tt.keyHash)

			req := httptest.NewRequest(tt.method, "/api/v1/commands", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestRecoveryReturns500(t *testing.T) {
	panicking := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})
	handler := Recovery(nil)(panicking)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}
