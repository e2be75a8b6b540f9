package api

import (
	"math"
	"net/http"
	"strconv"
	"sync"

	"github.com/opensource-finance/medoracle/internal/metrics"
	"golang.org/x/time/rate"
)

// TenantLimiter applies a token bucket per tenant.
type TenantLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
	rate     rate.Limit
	burst    int
	metrics  *metrics.Metrics
}

// NewTenantLimiter creates a limiter allowing requestsPerSecond per tenant
// with the given burst.
func NewTenantLimiter(requestsPerSecond float64, burst int, m *metrics.Metrics) *TenantLimiter {
	if burst <= 0 {
		burst = int(math.Max(1, math.Ceil(requestsPerSecond)))
	}
	return &TenantLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(requestsPerSecond),
		burst:    burst,
		metrics:  m,
	}
}

// Allow reports whether a request for tenantID may proceed now.
func (l *TenantLimiter) Allow(tenantID string) bool {
	return l.limiter(tenantID).Allow()
}

func (l *TenantLimiter) limiter(tenantID string) *rate.Limiter {
	l.mu.RLock()
	limiter, exists := l.limiters[tenantID]
	l.mu.RUnlock()
	if exists {
		return limiter
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if limiter, exists := l.limiters[tenantID]; exists {
		return limiter
	}
	limiter = rate.NewLimiter(l.rate, l.burst)
	l.limiters[tenantID] = limiter
	return limiter
}

// Middleware rejects requests over the tenant's rate with 429. It must
// run after TenantMiddleware.
func (l *TenantLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID := GetTenantID(r.Context())
		if !l.Allow(tenantID) {
			l.metrics.IncrementRateLimited(tenantID)
			retry := 1.0
			if l.rate > 0 {
				retry = math.Ceil(1 / float64(l.rate))
			}
			w.Header().Set("Retry-After", strconv.Itoa(int(retry)))
			writeJSON(w, http.StatusTooManyRequests, map[string]string{
				"error": "rate limit exceeded",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}
