package api

import (
	"testing"
	"time"
)

func TestRateLimiter(t *testing.T) {
	t.Run("allows up to the burst then denies", func(t *testing.T) {
		rl := NewRateLimiter(1, 3)

		for i := 0; i < 3; i++ {
			if !rl.allow("10.0.0.1") {
				t.Fatalf("request %d should pass within the burst", i+1)
			}
		}
		if rl.allow("10.0.0.1") {
			t.Error("request past the burst should be denied")
		}
	})

	t.Run("tracks clients independently", func(t *testing.T) {
		rl := NewRateLimiter(1, 1)

		if !rl.allow("10.0.0.1") {
			t.Fatal("first client should pass")
		}
		if rl.allow("10.0.0.1") {
			t.Error("first client should be exhausted")
		}
		if !rl.allow("10.0.0.2") {
			t.Error("second client has its own bucket")
		}
	})

	t.Run("refills over time", func(t *testing.T) {
		rl := NewRateLimiter(10, 1)

		if !rl.allow("10.0.0.1") {
			t.Fatal("first request should pass")
		}
		if rl.allow("10.0.0.1") {
			t.Fatal("bucket should be empty")
		}

		// Backdate the bucket rather than sleeping.
		rl.mu.Lock()
		rl.buckets["10.0.0.1"].last = time.Now().Add(-time.Second)
		rl.mu.Unlock()

		if !rl.allow("10.0.0.1") {
			t.Error("bucket should have refilled")
		}
	})

	t.Run("sweeps idle buckets on the request path", func(t *testing.T) {
		rl := NewRateLimiter(1, 1)

		rl.allow("10.0.0.1")
		rl.mu.Lock()
		rl.buckets["10.0.0.1"].last = time.Now().Add(-2 * bucketTTL)
		rl.lastSweep = time.Now().Add(-2 * bucketTTL)
		rl.mu.Unlock()

		rl.allow("10.0.0.2")

		rl.mu.Lock()
		_, stale := rl.buckets["10.0.0.1"]
		_, fresh := rl.buckets["10.0.0.2"]
		rl.mu.Unlock()
		if stale {
			t.Error("idle bucket should have been swept")
		}
		if !fresh {
			t.Error("active bucket should survive the sweep")
		}
	})
}
