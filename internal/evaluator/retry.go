package evaluator

import "time"

// RetryStrategy decides the wait before retry number attempt+1, counting from zero for the first
// retry. A negative result means no retry remains.
type RetryStrategy interface {
	NextBackoff(attempt int) int64 // ms
}

// FixedRetryStrategy waits the same delay before every retry.
type FixedRetryStrategy struct {
	MaxAttempts int // retries, not counting the first call
	DelayMs     int64
}

func (s *FixedRetryStrategy) NextBackoff(attempt int) int64 {
	if s.MaxAttempts <= 0 || attempt >= s.MaxAttempts {
		return -1
	}
	return s.DelayMs
}

// SimpleRetryStrategy provides basic exponential backoff.
type SimpleRetryStrategy struct {
	MaxAttempts int
	BaseDelayMs int64
}

// NextBackoff calculates the next backoff duration in milliseconds.
func (s *SimpleRetryStrategy) NextBackoff(attempt int) int64 {
	if s.MaxAttempts <= 0 { // If MaxAttempts is 0 or negative, don't retry
		return -1
	}
	if attempt >= s.MaxAttempts {
		return -1 // Stop retrying
	}
	// BaseDelay * 2^attempt, capped at 30 seconds
	backoff := s.BaseDelayMs * (1 << attempt)
	maxDelay := int64(30000)
	if backoff > maxDelay {
		backoff = maxDelay
	}
	return backoff
}

// NewRetryStrategy builds the strategy named by ai.retry_backoff. totalAttempts counts the first call.
func NewRetryStrategy(kind string, totalAttempts int, delay time.Duration) RetryStrategy {
	retries := totalAttempts - 1
	if kind == "exponential" {
		return &SimpleRetryStrategy{MaxAttempts: retries, BaseDelayMs: delay.Milliseconds()}
	}
	return &FixedRetryStrategy{MaxAttempts: retries, DelayMs: delay.Milliseconds()}
}
