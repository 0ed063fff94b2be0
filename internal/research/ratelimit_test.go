package research

import (
	"testing"
	"time"
)

func TestRateLimiterAllowsUpToLimit(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(3, time.Minute)
	for i := 0; i < 3; i++ {
		if !rl.Allow("u1") {
			t.Fatalf("request %d denied, want allowed", i+1)
		}
	}
	if rl.Allow("u1") {
		t.Fatal("request over limit allowed, want denied")
	}
	if !rl.Allow("u2") {
		t.Fatal("independent key denied, want allowed")
	}
}

func TestRateLimiterWindowExpiry(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(1, 20*time.Millisecond)
	if !rl.Allow("u1") {
		t.Fatal("first request denied")
	}
	if rl.Allow("u1") {
		t.Fatal("second request allowed within window")
	}
	time.Sleep(30 * time.Millisecond)
	if !rl.Allow("u1") {
		t.Fatal("request after window expiry denied")
	}
}
