package scheduler

import (
	"math"
	"time"
)

// RetryStrategy defines how a failed cycle is retried before the next
// scheduled run.
type RetryStrategy struct {
	// MaxRetries is the number of retries after the first attempt (0 = none)
	MaxRetries int
	// InitialDelay is the delay before the first retry
	InitialDelay time.Duration
	// MaxDelay caps the delay between retries
	MaxDelay time.Duration
	// BackoffFactor multiplies the delay after each retry
	BackoffFactor float64
}

// DefaultRetryStrategy returns the default retry configuration
func DefaultRetryStrategy() *RetryStrategy {
	return &RetryStrategy{
		MaxRetries:    2,
		InitialDelay:  30 * time.Second,
		MaxDelay:      5 * time.Minute,
		BackoffFactor: 2.0,
	}
}

// NoRetry returns a strategy that never retries
func NoRetry() *RetryStrategy {
	return &RetryStrategy{}
}

// NextDelay returns the delay before retry number n (1 = first retry), or 0
// when n is out of range.
func (r *RetryStrategy) NextDelay(n int) time.Duration {
	if r == nil || n < 1 || n > r.MaxRetries {
		return 0
	}
	factor := r.BackoffFactor
	if factor < 1 {
		factor = 1
	}
	delay := time.Duration(float64(r.InitialDelay) * math.Pow(factor, float64(n-1)))
	if r.MaxDelay > 0 && delay > r.MaxDelay {
		return r.MaxDelay
	}
	return delay
}

// ShouldRetry reports whether another attempt follows the given failed
// attempt (1 = the scheduled run).
func (r *RetryStrategy) ShouldRetry(attempt int) bool {
	return r != nil && attempt <= r.MaxRetries
}

// CycleResult is the outcome of one attempt.
type CycleResult struct {
	// ScheduledTime is when the run was due
	ScheduledTime time.Time
	StartTime     time.Time
	EndTime       time.Time
	Error         error
	// Attempt is 1 for the scheduled run, 2+ for retries
	Attempt   int
	WillRetry bool
}

// Success reports whether the attempt succeeded.
func (r *CycleResult) Success() bool {
	return r.Error == nil
}

// Duration returns how long the attempt took
func (r *CycleResult) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}

// IsRetry returns true if this was a retry attempt
func (r *CycleResult) IsRetry() bool {
	return r.Attempt > 1
}
