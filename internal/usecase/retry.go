package usecase

import (
	"math/rand"
	"time"
)

// Retry policy constants.
const (
	MaxRetries     = 2
	baseRetryDelay = 5 * time.Second
	maxRetryDelay  = 60 * time.Second
)

// RetryPolicy computes backoff delays for retryable task failures.
type RetryPolicy struct {
	base time.Duration
	max  time.Duration
	rand *rand.Rand
}

// NewRetryPolicy creates the default policy: min(5s * 2^retries ± 10%, 60s).
func NewRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		base: baseRetryDelay,
		max:  maxRetryDelay,
		rand: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Delay returns the backoff before re-queueing a task that has already been
// retried retries times. Jitter is a uniform ±10% so simultaneous failures do
// not re-queue in lockstep.
func (p *RetryPolicy) Delay(retries int) time.Duration {
	delay := p.base * time.Duration(1<<uint(retries))
	jitter := time.Duration((p.rand.Float64()*2 - 1) * 0.1 * float64(delay))
	delay += jitter
	if delay > p.max {
		delay = p.max
	}
	if delay < 0 {
		delay = 0
	}
	return delay
}
