package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"docflow/internal/store"

	"github.com/google/uuid"
)

// pingStore is a Store whose only working method is Ping.
type pingStore struct {
	Store
	pingErr error
}

func (m *pingStore) Ping(ctx context.Context) error { return m.pingErr }

func TestProbes(t *testing.T) {
	tests := []struct {
		name           string
		endpoint       string
		pingErr        error
		expectedStatus int
		expectedBody   string
	}{
		{"Healthz Always OK", "/healthz", errors.New("db down"), http.StatusOK, "ok"},
		{"Readyz Success", "/readyz", nil, http.StatusOK, "ready"},
		{"Readyz Database Fail", "/readyz", errors.New("db down"), http.StatusServiceUnavailable, "Database unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New(Deps{Store: &pingStore{pingErr: tt.pingErr}})

			req := httptest.NewRequest(http.MethodGet, tt.endpoint, nil)
			rr := httptest.NewRecorder()

			if tt.endpoint == "/healthz" {
				h.Healthz(rr, req)
			} else {
				h.Readyz(rr, req)
			}

			if rr.Code != tt.expectedStatus {
				t.Errorf("handler returned wrong status code: got %v want %v", rr.Code, tt.expectedStatus)
			}
			if !strings.Contains(rr.Body.String(), tt.expectedBody) {
				t.Errorf("body %q does not contain %q", rr.Body.String(), tt.expectedBody)
			}
		})
	}
}

// failingNotes fails every notification read.
type failingNotes struct {
	Store
}

func (failingNotes) ListNotifications(context.Context, uuid.UUID, bool, int) ([]store.Notification, error) {
	return nil, errors.New("connection reset")
}

func (failingNotes) MarkNotificationRead(context.Context, uuid.UUID, uuid.UUID, time.Time) error {
	return errors.New("connection reset")
}

func TestStoreFailureIsInternalError(t *testing.T) {
	e := newEnv(t)
	e.h.store = failingNotes{}

	rr := e.call(http.MethodGet, "/notifications", nil, &e.author)
	if rr.Code != http.StatusInternalServerError {
		t.Errorf("got status %d, want 500", rr.Code)
	}
	if strings.Contains(rr.Body.String(), "connection reset") {
		t.Errorf("internal error leaked to client: %s", rr.Body.String())
	}
}
