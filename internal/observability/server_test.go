package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHandler(t *testing.T) {
	ready := false
	h := NewHandler(func() bool { return ready })

	tests := []struct {
		name     string
		path     string
		ready    bool
		wantCode int
	}{
		{"liveness", "/healthz", false, http.StatusOK},
		{"not ready", "/readyz", false, http.StatusServiceUnavailable},
		{"ready", "/readyz", true, http.StatusOK},
		{"metrics", "/metrics", false, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ready = tt.ready
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if rec.Code != tt.wantCode {
				t.Errorf("expected %d, got %d", tt.wantCode, rec.Code)
			}
		})
	}
}
