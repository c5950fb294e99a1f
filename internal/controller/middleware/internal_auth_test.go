package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRequireInternalAuth(t *testing.T) {
	const secret = "test-secret-61"

	tests := []struct {
		name       string
		secret     string
		header     string
		wantStatus int
	}{
		{"missing header", secret, "", http.StatusUnauthorized},
		{"basic scheme", secret, "Basic test-secret-61", http.StatusUnauthorized},
		{"bearer without token", secret, "Bearer", http.StatusUnauthorized},
		{"no scheme", secret, "test-secret-61", http.StatusUnauthorized},
		{"double space", secret, "Bearer  test-secret-61", http.StatusUnauthorized},
		{"wrong token", secret, "Bearer wrong", http.StatusUnauthorized},
		{"disabled without secret", "", "Bearer ", http.StatusServiceUnavailable},
		{"valid token", secret, "Bearer test-secret-61", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			handler := RequireInternalAuth(tt.secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodPost, "/internal/users", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()

			handler.ServeHTTP(rr, req)

			if rr.Code != tt.wantStatus {
				t.Errorf("got status %d, want %d", rr.Code, tt.wantStatus)
			}
			if called != (tt.wantStatus == http.StatusOK) {
				t.Errorf("handler called = %v", called)
			}
		})
	}
}
