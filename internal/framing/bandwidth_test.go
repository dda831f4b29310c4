package framing

import (
	"math"
	"testing"
	"time"
)

func TestBandwidthRegulatorEnforcesRate(t *testing.T) {
	current := time.Unix(0, 0)
	clock := func() time.Time { return current }
	regulator := NewBandwidthRegulator(100, clock)

	if !regulator.Allow(60) {
		t.Fatalf("expected initial burst to be allowed")
	}
	if regulator.Allow(50) {
		t.Fatalf("expected payload to be throttled while tokens depleted")
	}

	current = current.Add(500 * time.Millisecond)
	if !regulator.Allow(50) {
		t.Fatalf("expected payload to pass after partial refill")
	}

	current = current.Add(time.Second)
	sample := regulator.Usage()
	if sample.DeniedSends != 1 {
		t.Fatalf("expected one denied send, got %d", sample.DeniedSends)
	}
	if sample.AvailableBytes <= 0 {
		t.Fatalf("expected available bytes to be positive, got %f", sample.AvailableBytes)
	}
	if sample.ObservedSeconds <= 0 {
		t.Fatalf("expected observed window to be positive")
	}
	if sample.BytesPerSecond <= 0 {
		t.Fatalf("expected non-zero throughput sample")
	}
	expectedRate := float64(110) / sample.ObservedSeconds
	if math.Abs(sample.BytesPerSecond-expectedRate) > 1e-6 {
		t.Fatalf("unexpected throughput: got %.6f want %.6f", sample.BytesPerSecond, expectedRate)
	}
}

func TestBandwidthRegulatorNilSafe(t *testing.T) {
	var regulator *BandwidthRegulator
	if !regulator.Allow(100) {
		t.Fatalf("nil regulator should allow by default")
	}
	if usage := regulator.Usage(); usage != (BandwidthUsage{}) {
		t.Fatalf("nil regulator should report zero usage, got %+v", usage)
	}
}
