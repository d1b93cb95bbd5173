package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/kiranshivaraju/valuecalc/internal/api/response"
	"github.com/kiranshivaraju/valuecalc/internal/cache"
)

const (
	defaultRequestsPerMinute = 60
	rateWindow               = time.Minute
)

// Counter is the slice of the cache the limiter uses.
type Counter interface {
	IncrWithExpiry(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// RateLimit provides fixed-window rate limiting per API key via Redis. Each
// key prefix gets one counter per calendar minute.
type RateLimit struct {
	counter        Counter
	requestsPerMin int
	logger         *slog.Logger
	now            func() time.Time
}

func NewRateLimit(c Counter, requestsPerMin int, logger *slog.Logger) *RateLimit {
	if requestsPerMin <= 0 {
		requestsPerMin = defaultRequestsPerMinute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RateLimit{counter: c, requestsPerMin: requestsPerMin, logger: logger, now: time.Now}
}

// Limit applies rate limiting to the key prefix of the authenticated caller.
// Unauthenticated requests pass through.
func (rl *RateLimit) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFrom(r.Context())
		if !ok || p.KeyPrefix == "" {
			next.ServeHTTP(w, r)
			return
		}
		prefix := p.KeyPrefix

		now := rl.now()
		window := now.Truncate(rateWindow)
		reset := window.Add(rateWindow)
		// The counter outlives its window slightly so clock skew between
		// replicas cannot reopen a closed bucket.
		count, err := rl.counter.IncrWithExpiry(r.Context(), cache.RateLimitKey(prefix, window), 2*rateWindow)
		if err != nil {
			// fail open
			rl.logger.WarnContext(r.Context(), "rate limit counter unavailable", "error", err)
			next.ServeHTTP(w, r)
			return
		}

		remaining := max(rl.requestsPerMin-int(count), 0)
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.requestsPerMin))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))

		if count > int64(rl.requestsPerMin) {
			retry := int(reset.Sub(now).Seconds()) + 1
			w.Header().Set("Retry-After", strconv.Itoa(min(retry, int(rateWindow.Seconds()))))
			response.Error(w, http.StatusTooManyRequests,
				"RATE_LIMIT_EXCEEDED", "Too many requests", nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}
