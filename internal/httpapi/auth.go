package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
)

// TokenAuth scopes callers to a tenant by bearer token. With no tokens
// configured every request passes.
type TokenAuth struct {
	tenants map[string]string
}

func NewTokenAuth(tokens map[string]string) *TokenAuth {
	return &TokenAuth{tenants: tokens}
}

// Allows reports whether token may act for tenantID. It is always true when
// no tokens are configured.
func (a *TokenAuth) Allows(token, tenantID string) bool {
	if len(a.tenants) == 0 {
		return true
	}
	granted, ok := a.tenants[token]
	return ok && granted == tenantID
}

func (a *TokenAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(a.tenants) == 0 || isPublicEndpoint(r) {
			next.ServeHTTP(w, r)
			return
		}
		requestID := requestIDFromRequest(r)
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, requestID, http.StatusUnauthorized, "unauthorized", "missing token")
			return
		}
		tenantID, ok := a.tenants[token]
		if !ok {
			writeError(w, requestID, http.StatusUnauthorized, "unauthorized", "invalid token")
			return
		}
		for _, claimed := range claimedTenants(r) {
			if claimed != tenantID {
				writeError(w, requestID, http.StatusForbidden, "access_denied", "tenant access denied")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// claimedTenants returns every tenant id the request names in its header,
// query or body.
func claimedTenants(r *http.Request) []string {
	var claims []string
	if header := strings.TrimSpace(r.Header.Get("X-Tenant-ID")); header != "" {
		claims = append(claims, header)
	}
	if query := strings.TrimSpace(r.URL.Query().Get("tenant_id")); query != "" {
		claims = append(claims, query)
	}
	if r.Body == nil || r.Body == http.NoBody {
		return claims
	}
	// Handlers decode the body whatever its content type, so it is checked
	// the same way.
	body, err := readBody(r)
	if err != nil || len(bytes.TrimSpace(body)) == 0 {
		return claims
	}
	var payload struct {
		TenantID string `json:"tenant_id"`
	}
	if json.Unmarshal(body, &payload) == nil {
		if tenantID := strings.TrimSpace(payload.TenantID); tenantID != "" {
			claims = append(claims, tenantID)
		}
	}
	return claims
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.Fields(header)
	if len(parts) != 2 {
		return ""
	}
	if strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return parts[1]
}

// isPublicEndpoint covers kiosk ticket issue, arrival estimates and the
// realtime feed, whose subscribe message carries the token.
func isPublicEndpoint(r *http.Request) bool {
	switch {
	case r.URL.Path == "/healthz", r.URL.Path == "/metrics":
		return true
	case strings.HasPrefix(r.URL.Path, "/realtime/"):
		return true
	case r.URL.Path == "/api/tickets":
		return r.Method == http.MethodPost
	case r.URL.Path == "/api/estimates":
		return r.Method == http.MethodGet
	default:
		return r.Method == http.MethodOptions
	}
}
