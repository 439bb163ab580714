package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time { return f.t }

func rateLimited(t *testing.T, mw echo.MiddlewareFunc, remoteIP string) (*httptest.ResponseRecorder, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	if remoteIP != "" {
		req.RemoteAddr = remoteIP + ":40000"
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	return rec, mw(func(c echo.Context) error { return c.String(http.StatusOK, "ok") })(c)
}

func TestRateLimit_RequestsWithinLimit(t *testing.T) {
	mw := RateLimit(RateLimitConfig{RequestsPerSecond: 10, BurstSize: 5})
	for i := 0; i < 5; i++ {
		rec, err := rateLimited(t, mw, "")
		if err != nil {
			t.Fatalf("request %d: expected no error, got %v", i+1, err)
		}
		if rec.Header().Get("X-RateLimit-Limit") != "10" {
			t.Errorf("request %d: expected X-RateLimit-Limit '10', got %q", i+1, rec.Header().Get("X-RateLimit-Limit"))
		}
	}
}

func TestRateLimit_ExceedsLimit(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	mw := rateLimit(newLimiter(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 2}, clock.now))

	for i := 0; i < 2; i++ {
		if _, err := rateLimited(t, mw, ""); err != nil {
			t.Fatalf("request %d: expected no error, got %v", i+1, err)
		}
	}

	rec, err := rateLimited(t, mw, "")
	if err == nil {
		t.Fatal("expected error for rate-limited request")
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %v", err)
	}
	if v, perr := strconv.Atoi(rec.Header().Get("Retry-After")); perr != nil || v < 1 {
		t.Errorf("expected Retry-After >= 1, got %q", rec.Header().Get("Retry-After"))
	}
	if rec.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Errorf("expected X-RateLimit-Remaining '0', got %q", rec.Header().Get("X-RateLimit-Remaining"))
	}

	clock.t = clock.t.Add(1500 * time.Millisecond)
	if _, err := rateLimited(t, mw, ""); err != nil {
		t.Errorf("expected refill after 1.5s, got %v", err)
	}
}

func TestRateLimit_PerClientIsolation(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	mw := rateLimit(newLimiter(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1}, clock.now))

	if _, err := rateLimited(t, mw, "10.0.0.1"); err != nil {
		t.Fatalf("first client, first request: %v", err)
	}
	if _, err := rateLimited(t, mw, "10.0.0.1"); err == nil {
		t.Fatal("first client, second request: expected rate limit error")
	}
	if _, err := rateLimited(t, mw, "10.0.0.2"); err != nil {
		t.Fatalf("second client: expected separate bucket, got %v", err)
	}
}

// A bearer token does not buy a separate bucket.
func TestRateLimit_KeyIgnoresUserID(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	mw := rateLimit(newLimiter(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1}, clock.now))
	handler := mw(func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	e := echo.New()
	for i, uid := range []string{"user-a", "user-b"} {
		c := e.NewContext(httptest.NewRequest(http.MethodPost, "/auth/login", nil), httptest.NewRecorder())
		c.Set("user_id", uid)
		err := handler(c)
		if i == 0 && err != nil {
			t.Fatalf("first request: %v", err)
		}
		if i == 1 && err == nil {
			t.Fatal("expected the second request from the same IP to be limited")
		}
	}
}

func TestLimiter_EvictsIdleBuckets(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	l := newLimiter(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1, IdleTTL: time.Minute}, clock.now)

	l.take("a")
	l.take("b")
	if l.size() != 2 {
		t.Fatalf("expected 2 buckets, got %d", l.size())
	}

	clock.t = clock.t.Add(2 * time.Minute)
	l.take("c")
	if l.size() != 1 {
		t.Errorf("expected idle buckets to be evicted, got %d", l.size())
	}
}

func TestLimiter_RetryAfterWithZeroRate(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	l := newLimiter(RateLimitConfig{RequestsPerSecond: 0, BurstSize: 1}, clock.now)

	if ok, _ := l.take("a"); !ok {
		t.Fatal("expected the burst to admit the first request")
	}
	ok, wait := l.take("a")
	if ok {
		t.Fatal("expected the second request to be refused")
	}
	if wait != 1 {
		t.Errorf("expected retry after 1 for zero rate, got %d", wait)
	}
}

func TestDefaultRateLimitConfig(t *testing.T) {
	cfg := DefaultRateLimitConfig()
	if cfg.RequestsPerSecond <= 0 || cfg.BurstSize <= 0 || cfg.IdleTTL <= 0 {
		t.Errorf("expected positive defaults, got %+v", cfg)
	}
}
