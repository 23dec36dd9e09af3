package daemon

import (
	"testing"
	"time"
)

func TestRateLimiterAllowsUpToMax(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute)
	for i := 0; i < 3; i++ {
		if !rl.Allow("10.0.0.1") {
			t.Fatalf("attempt %d should be allowed", i)
		}
	}
	if rl.Allow("10.0.0.1") {
		t.Fatal("4th attempt within window should be denied")
	}
}

func TestRateLimiterTracksPeersIndependently(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	if !rl.Allow("10.0.0.1") {
		t.Fatal("first attempt from peer A should be allowed")
	}
	if !rl.Allow("10.0.0.2") {
		t.Fatal("first attempt from peer B should be allowed")
	}
	if rl.Allow("10.0.0.1") {
		t.Fatal("second attempt from peer A should be denied")
	}
}

func TestRateLimiterResetClearsState(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	rl.Allow("10.0.0.1")
	rl.Reset()
	if !rl.Allow("10.0.0.1") {
		t.Fatal("attempt after Reset should be allowed again")
	}
}
