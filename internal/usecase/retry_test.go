package usecase

import (
	"testing"
	"time"
)

func TestRetryDelayWithinJitterBand(t *testing.T) {
	p := NewRetryPolicy()

	tests := []struct {
		retries int
		nominal time.Duration
	}{
		{0, 5 * time.Second},
		{1, 10 * time.Second},
		{2, 20 * time.Second},
	}
	for _, tt := range tests {
		for i := 0; i < 50; i++ {
			d := p.Delay(tt.retries)
			lo := tt.nominal - tt.nominal/10
			hi := tt.nominal + tt.nominal/10
			if d < lo || d > hi {
				t.Fatalf("Delay(%d) = %v, want within [%v, %v]", tt.retries, d, lo, hi)
			}
		}
	}
}

func TestRetryDelayCapped(t *testing.T) {
	p := NewRetryPolicy()

	for i := 0; i < 50; i++ {
		if d := p.Delay(10); d > maxRetryDelay {
			t.Fatalf("Delay(10) = %v, want at most %v", d, maxRetryDelay)
		}
	}
}

func TestRetryDelayNeverNegative(t *testing.T) {
	p := NewRetryPolicy()
	for retries := 0; retries < 20; retries++ {
		if d := p.Delay(retries); d < 0 {
			t.Fatalf("Delay(%d) = %v, want non-negative", retries, d)
		}
	}
}
