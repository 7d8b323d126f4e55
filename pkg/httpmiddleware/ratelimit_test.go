package httpmiddleware

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/jx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func serve(h http.Handler, prepare func(r *http.Request)) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/cart", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	if prepare != nil {
		prepare(req)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func session(id string) func(r *http.Request) {
	return func(r *http.Request) { r.Header.Set("X-Session-ID", id) }
}

func TestRateLimit_UnderLimit(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{Max: 5, Window: time.Minute, Now: newClock().Now})
	h := rl.Middleware()(okHandler())

	for i := range 5 {
		w := serve(h, session("s1"))
		assert.Equal(t, http.StatusOK, w.Code, "request %d", i+1)
		assert.Equal(t, "5", w.Header().Get("X-RateLimit-Limit"))
		assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))
	}
}

func TestRateLimit_OverLimit(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{Max: 2, Window: time.Minute, Now: newClock().Now})
	h := rl.Middleware()(okHandler())

	for range 2 {
		require.Equal(t, http.StatusOK, serve(h, session("s1")).Code)
	}
	w := serve(h, session("s1"))

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	var (
		code int
		msg  string
	)
	require.NoError(t, jx.DecodeBytes(w.Body.Bytes()).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "code":
			code, err = d.Int()
		case "message":
			msg, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	}))
	assert.Equal(t, http.StatusTooManyRequests, code)
	assert.Equal(t, "rate limit exceeded", msg)
}

func TestRateLimit_KeyedBySession(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{Max: 1, Window: time.Minute, Now: newClock().Now})
	h := rl.Middleware()(okHandler())

	assert.Equal(t, http.StatusOK, serve(h, session("s1")).Code)
	assert.Equal(t, http.StatusOK, serve(h, session("s2")).Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(h, session("s1")).Code)

	// Without a session the client IP is the key.
	assert.Equal(t, http.StatusOK, serve(h, nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(h, nil).Code)
}

func TestRateLimit_XForwardedFor(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{Max: 1, Window: time.Minute, Now: newClock().Now})
	h := rl.Middleware()(okHandler())

	forwarded := func(remote string) func(r *http.Request) {
		return func(r *http.Request) {
			r.RemoteAddr = remote
			r.Header.Set("X-Forwarded-For", "203.0.113.50, 70.41.3.18")
		}
	}
	assert.Equal(t, http.StatusOK, serve(h, forwarded("192.168.1.1:4444")).Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(h, forwarded("192.168.1.2:5555")).Code)
}

func TestRateLimit_WindowSlides(t *testing.T) {
	clock := newClock()
	rl := NewRateLimiter(RateLimitConfig{Max: 2, Window: time.Minute, Now: clock.Now})

	_, _, ok := rl.Allow("k")
	require.True(t, ok)
	_, _, ok = rl.Allow("k")
	require.True(t, ok)
	_, _, ok = rl.Allow("k")
	require.False(t, ok)

	// Half way into the next window the previous one still weighs 1.
	clock.Advance(90 * time.Second)
	_, _, ok = rl.Allow("k")
	assert.True(t, ok)
	_, _, ok = rl.Allow("k")
	assert.False(t, ok)

	clock.Advance(2 * time.Minute)
	remaining, _, ok := rl.Allow("k")
	assert.True(t, ok)
	assert.Equal(t, 1, remaining)
}

func TestRateLimit_Sweep(t *testing.T) {
	clock := newClock()
	rl := NewRateLimiter(RateLimitConfig{Max: 1, Window: time.Minute, Now: clock.Now})
	rl.Allow("a")
	rl.Allow("b")
	require.Equal(t, 2, rl.Len())

	clock.Advance(3 * time.Minute)
	rl.Sweep()
	assert.Zero(t, rl.Len())
}
