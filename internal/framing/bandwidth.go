package framing

import (
	"math"
	"sync"
	"time"
)

// DefaultBandwidthLimitBytesPerSecond caps outbound package throughput at 48 kbps (decimal).
const DefaultBandwidthLimitBytesPerSecond = 48000.0 / 8.0

// BandwidthUsage captures the throttling state for the outbound channel.
type BandwidthUsage struct {
	AvailableBytes       float64
	BytesPerSecond       float64
	ObservedSeconds      float64
	DeniedSends          int64
	LastUpdatedTimestamp time.Time
}

// BandwidthRegulator enforces a token-bucket budget on outbound packages so a
// single session never exceeds its configured upload rate.
type BandwidthRegulator struct {
	mu       sync.Mutex
	capacity float64
	refill   float64
	now      func() time.Time

	tokens float64
	last   time.Time
	window time.Time
	sent   int64
	denied int64
}

// NewBandwidthRegulator constructs a regulator enforcing the supplied byte rate.
func NewBandwidthRegulator(targetBytesPerSecond float64, clock func() time.Time) *BandwidthRegulator {
	//1.- Normalise the configuration so downstream logic operates with sane defaults.
	if targetBytesPerSecond <= 0 {
		targetBytesPerSecond = DefaultBandwidthLimitBytesPerSecond
	}
	if clock == nil {
		clock = time.Now
	}
	now := clock()
	return &BandwidthRegulator{
		capacity: targetBytesPerSecond,
		refill:   targetBytesPerSecond,
		now:      clock,
		tokens:   targetBytesPerSecond,
		last:     now,
		window:   now,
	}
}

func (r *BandwidthRegulator) replenishLocked(now time.Time) {
	//1.- Skip negative intervals to protect against clock skew.
	if now.Before(r.last) {
		return
	}
	elapsed := now.Sub(r.last).Seconds()
	if elapsed <= 0 {
		r.last = now
		return
	}
	//2.- Accumulate fresh tokens using the configured refill rate.
	r.tokens += elapsed * r.refill
	if r.tokens > r.capacity {
		r.tokens = r.capacity
	}
	r.last = now
}

// Allow charges the requested payload size against the outbound bandwidth budget.
func (r *BandwidthRegulator) Allow(payloadBytes int) bool {
	if r == nil || payloadBytes <= 0 {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.replenishLocked(now)

	request := float64(payloadBytes)
	if request > r.tokens {
		//1.- Record the refusal so diagnostics can surface sustained throttling.
		r.denied++
		return false
	}

	//2.- Deduct the approved payload and track throughput statistics.
	r.tokens -= request
	r.sent += int64(payloadBytes)
	return true
}

// Usage reports the most recent throttling statistics for the outbound channel.
func (r *BandwidthRegulator) Usage() BandwidthUsage {
	if r == nil {
		return BandwidthUsage{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.replenishLocked(now)

	//1.- Compute the observed window and derive the sustained throughput sample.
	observed := now.Sub(r.window).Seconds()
	if observed <= 0 {
		observed = 0
	}
	rate := 0.0
	if observed > 0 {
		rate = float64(r.sent) / observed
	}

	return BandwidthUsage{
		AvailableBytes:       math.Max(r.tokens, 0),
		BytesPerSecond:       rate,
		ObservedSeconds:      observed,
		DeniedSends:          r.denied,
		LastUpdatedTimestamp: r.last,
	}
}
