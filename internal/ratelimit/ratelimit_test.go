package ratelimit

import (
	"testing"
	"time"
)

func TestMemoryLimiter_Allow(t *testing.T) {
	limiter := NewMemoryLimiter()

	for i := 1; i <= 3; i++ {
		if !limiter.Allow("test-key", 3, time.Hour) {
			t.Errorf("request %d should be allowed", i)
		}
	}

	// Fourth request should be denied (limit is 3)
	if limiter.Allow("test-key", 3, time.Hour) {
		t.Error("fourth request should be denied")
	}

	// Different key should be allowed
	if !limiter.Allow("other-key", 3, time.Hour) {
		t.Error("different key should be allowed")
	}
}

func TestMemoryLimiter_RetryAfter(t *testing.T) {
	limiter := NewMemoryLimiter()

	// Before any requests, should be 0
	if r := limiter.RetryAfter("test-key", time.Hour); r != 0 {
		t.Errorf("RetryAfter = %v, want 0", r)
	}

	// After a request, should be positive
	limiter.Allow("test-key", 5, time.Hour)
	retryAfter := limiter.RetryAfter("test-key", time.Hour)
	if retryAfter <= 0 || retryAfter > time.Hour {
		t.Errorf("RetryAfter = %v, want > 0 and <= 1h", retryAfter)
	}
}

func TestMemoryLimiter_WindowReset(t *testing.T) {
	limiter := NewMemoryLimiter()

	window := 50 * time.Millisecond

	if !limiter.Allow("test-key", 1, window) {
		t.Error("first request should be allowed")
	}
	if limiter.Allow("test-key", 1, window) {
		t.Error("second request inside window should be denied")
	}

	time.Sleep(window + 10*time.Millisecond)

	if !limiter.Allow("test-key", 1, window) {
		t.Error("request after window reset should be allowed")
	}
}

func TestMemoryLimiter_Cleanup(t *testing.T) {
	limiter := NewMemoryLimiter()

	window := 10 * time.Millisecond
	limiter.Allow("stale-key", 1, window)
	limiter.Allow("fresh-key", 1, time.Hour)

	time.Sleep(window + 10*time.Millisecond)
	limiter.Cleanup()

	limiter.mu.RLock()
	defer limiter.mu.RUnlock()
	if _, ok := limiter.buckets["stale-key"]; ok {
		t.Error("stale bucket should be cleaned up")
	}
	if _, ok := limiter.buckets["fresh-key"]; !ok {
		t.Error("fresh bucket should survive cleanup")
	}
}
