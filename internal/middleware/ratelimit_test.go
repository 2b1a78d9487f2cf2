package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func newLimiter(t *testing.T, cfg RateLimitConfig) *RateLimiter {
	t.Helper()
	rl := NewRateLimiter(cfg)
	t.Cleanup(rl.Stop)
	return rl
}

func TestRateLimiter_AllowsBurst(t *testing.T) {
	rl := newLimiter(t, RateLimitConfig{RequestsPerMinute: 60, BurstSize: 3, CleanupInterval: time.Minute})

	for i := 0; i < 3; i++ {
		if !rl.Allow("ip:203.0.113.9") {
			t.Fatalf("request %d blocked within burst", i+1)
		}
	}
	if rl.Allow("ip:203.0.113.9") {
		t.Error("expected request beyond burst to be blocked")
	}
}

func TestRateLimiter_RefillsOverTime(t *testing.T) {
	// 600 rpm = 10 tokens/sec, so ~100ms refills one token.
	rl := newLimiter(t, RateLimitConfig{RequestsPerMinute: 600, BurstSize: 1, CleanupInterval: time.Minute})

	if !rl.Allow("key") {
		t.Fatal("first request blocked")
	}
	if rl.Allow("key") {
		t.Fatal("second immediate request should be blocked")
	}

	time.Sleep(150 * time.Millisecond)
	if !rl.Allow("key") {
		t.Error("expected token to refill after wait")
	}
}

func TestRateLimiter_KeysAreIndependent(t *testing.T) {
	rl := newLimiter(t, RateLimitConfig{RequestsPerMinute: 60, BurstSize: 1, CleanupInterval: time.Minute})

	if !rl.Allow("ip:203.0.113.9") {
		t.Fatal("first key blocked")
	}
	if !rl.Allow("ip:198.51.100.7") {
		t.Error("second key must have its own bucket")
	}
}

func TestRateLimitMiddleware_Returns429(t *testing.T) {
	rl := newLimiter(t, RateLimitConfig{RequestsPerMinute: 60, BurstSize: 1, CleanupInterval: time.Minute})

	r := gin.New()
	r.Use(RateLimit(rl))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w1 := httptest.NewRecorder()
	r.ServeHTTP(w1, httptest.NewRequest(http.MethodGet, "/", nil))
	if w1.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want 200", w1.Code)
	}

	w2 := httptest.NewRecorder()
	r.ServeHTTP(w2, httptest.NewRequest(http.MethodGet, "/", nil))
	if w2.Code != http.StatusTooManyRequests {
		t.Errorf("second request status = %d, want 429", w2.Code)
	}
	if w2.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header on 429")
	}
}

func TestRateLimitKey_PrefersAccount(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Set(AccountIDKey, "acct-1")

	if key := rateLimitKey(c); key != "account:acct-1" {
		t.Errorf("key = %s, want account:acct-1", key)
	}
}
