package identity

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestValidTenantID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"tenant-1", true},
		{"5511999990000@c.us", true},
		{"", false},
		{"has space", false},
		{"../etc", false},
	}
	for _, tt := range tests {
		if got := ValidTenantID(tt.id); got != tt.want {
			t.Errorf("ValidTenantID(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestMiddleware(t *testing.T) {
	r := chi.NewRouter()
	r.With(Middleware).Get("/status/{userId}", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(TenantIDFromContext(r.Context())))
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status/tenant-1", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "tenant-1" {
		t.Fatalf("unexpected response %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status/bad%20id", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
