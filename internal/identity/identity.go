// Package identity validates tenant identifiers and carries them on the
// request context.
package identity

import (
	"context"
	"net/http"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"
)

// TenantParam is the URL parameter that names the tenant.
const TenantParam = "userId"

type contextKey int

const (
	tenantIDKey contextKey = iota
)

var tenantIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:@-]{1,128}$`)

// ValidTenantID reports whether id is an acceptable tenant identifier.
func ValidTenantID(id string) bool {
	return tenantIDPattern.MatchString(id)
}

// NormalizeTenantID trims id and returns it with whether it is valid.
func NormalizeTenantID(id string) (string, bool) {
	id = strings.TrimSpace(id)
	return id, ValidTenantID(id)
}

// WithTenantID returns a copy of ctx carrying the tenant ID.
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantIDKey, tenantID)
}

// TenantIDFromContext extracts the tenant ID from the request context.
func TenantIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(tenantIDKey).(string); ok {
		return v
	}
	return ""
}

// Middleware validates the tenant URL parameter and stores it in the
// request context. Invalid identifiers are rejected with 400.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := NormalizeTenantID(chi.URLParam(r, TenantParam))
		if !ok {
			w.Header().Set("Content-Type", "application/json")
			http.Error(w, `{"error":"invalid userId"}`, http.StatusBadRequest)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithTenantID(r.Context(), tenantID)))
	})
}
