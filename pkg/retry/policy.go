package retry

import (
	"errors"
	"math"
	"math/rand"
	"time"
)

// ErrMaxRetriesExceeded wraps the last error once the policy is exhausted
var ErrMaxRetriesExceeded = errors.New("max retries exceeded")

// Policy describes how often and how fast an operation is retried
type Policy struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	// Jitter is the random fraction, 0..1, added to each backoff
	Jitter float64
	// RetryableFunc overrides the default error classification
	RetryableFunc func(error) bool
}

// DefaultPolicy suits chain RPC reads
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:     3,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		Multiplier:     2,
		Jitter:         0.2,
	}
}

// Validate checks the policy fields
func (p Policy) Validate() error {
	if p.MaxRetries < 0 {
		return errors.New("max retries must not be negative")
	}
	if p.InitialBackoff <= 0 {
		return errors.New("initial backoff must be positive")
	}
	if p.MaxBackoff < p.InitialBackoff {
		return errors.New("max backoff must be at least the initial backoff")
	}
	if p.Multiplier < 1 {
		return errors.New("multiplier must be at least 1")
	}
	if p.Jitter < 0 || p.Jitter > 1 {
		return errors.New("jitter must be between 0 and 1")
	}
	return nil
}

// Backoff computes exponential wait times for a policy
type Backoff struct {
	policy Policy
}

// NewBackoff creates a backoff calculator
func NewBackoff(policy Policy) *Backoff {
	return &Backoff{policy: policy}
}

// Calculate returns the wait before the given retry, starting at 1
func (b *Backoff) Calculate(retry int) time.Duration {
	if retry < 1 {
		retry = 1
	}
	d := float64(b.policy.InitialBackoff) * math.Pow(b.policy.Multiplier, float64(retry-1))
	if ceiling := float64(b.policy.MaxBackoff); d > ceiling {
		d = ceiling
	}
	if b.policy.Jitter > 0 {
		d += d * b.policy.Jitter * rand.Float64()
	}
	return time.Duration(d)
}
