package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type windowCounter struct {
	counts map[string]int64
	ttl    time.Duration
}

func (c *windowCounter) IncrWithExpiry(_ context.Context, key string, ttl time.Duration) (int64, error) {
	c.counts[key]++
	c.ttl = ttl
	return c.counts[key], nil
}

func TestRateLimit_BucketsPerCalendarMinute(t *testing.T) {
	c := &windowCounter{counts: map[string]int64{}}
	rl := NewRateLimit(c, 2, nil)
	clock := time.Date(2026, 3, 1, 10, 15, 50, 0, time.UTC)
	rl.now = func() time.Time { return clock }

	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	call := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(WithPrincipal(req.Context(), Principal{KeyPrefix: "vc_abcde"}))
		w := httptest.NewRecorder()
		rl.Limit(ok).ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusOK, call().Code)
	assert.Equal(t, http.StatusOK, call().Code)

	w := call()
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "11", w.Header().Get("Retry-After"))
	assert.Equal(t, "1772360160", w.Header().Get("X-RateLimit-Reset"))
	assert.Equal(t, 2*time.Minute, c.ttl)

	clock = clock.Add(15 * time.Second)
	w = call()
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Remaining"))
	assert.Len(t, c.counts, 2)
}
