package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type RateLimitConfig struct {
	IPPerMinute     int
	IPBurst         int
	TenantPerMinute int
	TenantBurst     int
	// Exempt paths are never limited; prefixes end in "/".
	Exempt []string
}

type RateLimiter struct {
	ipLimiter     *keyedLimiter
	tenantLimiter *keyedLimiter
	exempt        []string
}

func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	exempt := cfg.Exempt
	if exempt == nil {
		exempt = []string{"/healthz", "/metrics", "/realtime/"}
	}
	return &RateLimiter{
		ipLimiter:     newKeyedLimiter(cfg.IPPerMinute, cfg.IPBurst),
		tenantLimiter: newKeyedLimiter(cfg.TenantPerMinute, cfg.TenantBurst),
		exempt:        exempt,
	}
}

func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l.isExempt(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		ip := clientIP(r)
		if ip != "" && !l.ipLimiter.allow(ip) {
			writeError(w, "", http.StatusTooManyRequests, "rate_limited", "too many requests")
			return
		}

		tenantID, requestID := extractTenantAndRequestID(r)
		if tenantID != "" && !l.tenantLimiter.allow(tenantID) {
			writeError(w, requestID, http.StatusTooManyRequests, "rate_limited", "too many requests")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (l *RateLimiter) isExempt(path string) bool {
	for _, exempt := range l.exempt {
		if path == exempt || (strings.HasSuffix(exempt, "/") && strings.HasPrefix(path, exempt)) {
			return true
		}
	}
	return false
}

const maxKeys = 10000

// keyedLimiter holds one token bucket per client key.
type keyedLimiter struct {
	mu    sync.Mutex
	limit rate.Limit
	burst int
	idle  time.Duration
	byKey map[string]*keyedEntry
	now   func() time.Time
}

type keyedEntry struct {
	limiter *rate.Limiter
	seen    time.Time
}

func newKeyedLimiter(perMinute, burst int) *keyedLimiter {
	if perMinute <= 0 {
		perMinute = 60
	}
	if burst <= 0 {
		burst = 20
	}
	limit := rate.Limit(float64(perMinute) / 60.0)
	return &keyedLimiter{
		limit: limit,
		burst: burst,
		// A key idle this long has a full bucket again.
		idle:  time.Duration(float64(burst) / float64(limit) * float64(time.Second)),
		byKey: make(map[string]*keyedEntry),
		now:   time.Now,
	}
}

func (l *keyedLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	entry, ok := l.byKey[key]
	if !ok {
		if len(l.byKey) >= maxKeys {
			l.pruneLocked(now)
		}
		entry = &keyedEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.byKey[key] = entry
	}
	entry.seen = now
	return entry.limiter.AllowN(now, 1)
}

func (l *keyedLimiter) pruneLocked(now time.Time) {
	for key, entry := range l.byKey {
		if now.Sub(entry.seen) >= l.idle {
			delete(l.byKey, key)
		}
	}
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// extractTenantAndRequestID looks at headers, then the query, then a JSON
// body. A body that is read is put back for the handler.
func extractTenantAndRequestID(r *http.Request) (string, string) {
	tenantID := strings.TrimSpace(r.Header.Get("X-Tenant-ID"))
	requestID := strings.TrimSpace(r.Header.Get("X-Request-ID"))
	if tenantID == "" {
		tenantID = strings.TrimSpace(r.URL.Query().Get("tenant_id"))
	}
	if tenantID != "" || r.Body == nil {
		return tenantID, requestID
	}
	contentType := r.Header.Get("Content-Type")
	if !strings.Contains(contentType, "application/json") {
		return tenantID, requestID
	}

	body, err := readBody(r)
	if err != nil {
		return tenantID, requestID
	}
	var payload struct {
		TenantID  string `json:"tenant_id"`
		RequestID string `json:"request_id"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return tenantID, requestID
	}
	tenantID = strings.TrimSpace(payload.TenantID)
	if requestID == "" {
		requestID = strings.TrimSpace(payload.RequestID)
	}
	return tenantID, requestID
}

func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}
