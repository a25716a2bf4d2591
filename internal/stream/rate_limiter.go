package stream

import (
	"sync/atomic"
	"time"

	"github.com/cambridgegreys/goiperf/internal/metrics"
)

// RateLimiter compares average throughput since test start against a
// configured cap and busy-skips sends when over budget. This is NOT the
// teacher's token bucket (internal/vu/rate_limiter.go in the pack) — the
// reference implementation this protocol must stay wire-compatible with
// has no smoothing or burst allowance, so a token bucket would diverge
// from its observable pacing behavior (spec §4.4, Open Question in §9).
type RateLimiter struct {
	capBytesPerSec atomic.Int64
}

// NewRateLimiter builds a RateLimiter capped at capBytesPerSec. A cap of
// zero or less means unlimited.
func NewRateLimiter(capBytesPerSec int64) *RateLimiter {
	r := &RateLimiter{}
	r.capBytesPerSec.Store(capBytesPerSec)
	return r
}

// Allow reports whether a send should proceed given the bytes sent so far
// and the elapsed time since the stream's own start. A false result means
// the caller should busy-skip this iteration without sleeping.
func (r *RateLimiter) Allow(totalBytes int64, elapsed time.Duration) bool {
	capBytes := r.capBytesPerSec.Load()
	if capBytes <= 0 {
		return true
	}
	if elapsed <= 0 {
		return true
	}
	avg := float64(totalBytes) / elapsed.Seconds()
	if avg <= float64(capBytes) {
		return true
	}
	metrics.RateLimiterSkipsTotal.Inc()
	return false
}

// UpdateCap changes the configured cap at runtime.
func (r *RateLimiter) UpdateCap(capBytesPerSec int64) {
	r.capBytesPerSec.Store(capBytesPerSec)
}
