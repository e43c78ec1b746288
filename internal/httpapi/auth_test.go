package httpapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestTokenAuth(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := NewTokenAuth(map[string]string{"tok-1": "t1"}).Middleware(next)

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		body   string
		want   int
	}{
		{"public create", http.MethodPost, "/api/tickets", "", `{"tenant_id":"t2"}`, http.StatusOK},
		{"public health", http.MethodGet, "/healthz", "", "", http.StatusOK},
		{"missing token", http.MethodGet, "/api/queues?tenant_id=t1", "", "", http.StatusUnauthorized},
		{"unknown token", http.MethodGet, "/api/queues?tenant_id=t1", "nope", "", http.StatusUnauthorized},
		{"own tenant", http.MethodGet, "/api/queues?tenant_id=t1", "tok-1", "", http.StatusOK},
		{"other tenant query", http.MethodGet, "/api/queues?tenant_id=t2", "tok-1", "", http.StatusForbidden},
		{"other tenant body", http.MethodPost, "/api/stations/st-1/call-next", "tok-1", `{"tenant_id":"t2","agent_id":"a"}`, http.StatusForbidden},
		{"other tenant plain text body", http.MethodPost, "/api/tickets/x/actions/cancel", "tok-1", `{"tenant_id":"t2"}`, http.StatusForbidden},
		{"own tenant body", http.MethodPost, "/api/stations/st-1/call-next", "tok-1", `{"tenant_id":"t1","agent_id":"a"}`, http.StatusOK},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.path, strings.NewReader(tc.body))
			if tc.body != "" {
				contentType := "application/json"
				if strings.Contains(tc.name, "plain text") {
					contentType = "text/plain"
				}
				req.Header.Set("Content-Type", contentType)
			}
			if tc.token != "" {
				req.Header.Set("Authorization", "Bearer "+tc.token)
			}
			resp := httptest.NewRecorder()
			h.ServeHTTP(resp, req)
			if resp.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, resp.Code, resp.Body.String())
			}
		})
	}
}

func TestTokenAuthHeaderAndBodyMustAgree(t *testing.T) {
	h := NewTokenAuth(map[string]string{"tok-1": "t1"}).Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodPost, "/api/tickets/x/actions/cancel", strings.NewReader(`{"tenant_id":"t2"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer tok-1")
	req.Header.Set("X-Tenant-ID", "t1")
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected forbidden, got %d", resp.Code)
	}
}

func TestTokenAuthDisabledWithoutTokens(t *testing.T) {
	h := NewTokenAuth(nil).Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/queues?tenant_id=t9", nil))
	if resp.Code != http.StatusTeapot {
		t.Fatalf("expected passthrough, got %d", resp.Code)
	}
}

func TestTokenAuthAllows(t *testing.T) {
	auth := NewTokenAuth(map[string]string{"tok-1": "t1"})
	if !auth.Allows("tok-1", "t1") {
		t.Fatalf("own tenant denied")
	}
	if auth.Allows("tok-1", "t2") || auth.Allows("", "t1") || auth.Allows("nope", "t1") {
		t.Fatalf("foreign access allowed")
	}
	if !NewTokenAuth(nil).Allows("", "t9") {
		t.Fatalf("open mode must allow")
	}
}
