package stream

import (
	"testing"
	"time"
)

func TestRateLimiterUnlimited(t *testing.T) {
	r := NewRateLimiter(0)
	if !r.Allow(1<<30, time.Second) {
		t.Error("Allow() with cap=0 should always return true")
	}
}

func TestRateLimiterBlocksOverCap(t *testing.T) {
	r := NewRateLimiter(1000) // 1000 bytes/sec

	if !r.Allow(500, time.Second) {
		t.Error("Allow(500, 1s) under cap should return true")
	}
	if r.Allow(2000, time.Second) {
		t.Error("Allow(2000, 1s) over cap should return false")
	}
}

func TestRateLimiterZeroElapsedAlwaysAllows(t *testing.T) {
	r := NewRateLimiter(1000)
	if !r.Allow(1<<20, 0) {
		t.Error("Allow() with zero elapsed should return true")
	}
}
