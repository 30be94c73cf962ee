package recovery

import (
	"math"
	"time"

	"github.com/vietddude/harvester/internal/core/domain"
)

// RetryStrategy paces the failed-item queue: how long a failed item rests
// before the reprocessor picks it up again, and whether it is worth another
// attempt at all.
type RetryStrategy interface {
	// GetDelay returns the rest period after the given attempt (0-indexed).
	GetDelay(attempt int) time.Duration

	// ShouldRetry checks if an item deserves another attempt.
	ShouldRetry(err error, attempt int) bool
}

// ExponentialBackoff implements a standard backoff strategy.
type ExponentialBackoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	MaxAttempts  int
}

// DefaultBackoff returns sensible defaults for failed-item reprocessing.
// 30s, 1m, 2m, 4m (Max 10m) - items rest long enough for transient upstream
// conditions to clear.
func DefaultBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{
		InitialDelay: 30 * time.Second,
		MaxDelay:     10 * time.Minute,
		MaxAttempts:  4,
	}
}

// GetDelay calculates delay: InitialDelay * 2^attempt
func (s *ExponentialBackoff) GetDelay(attempt int) time.Duration {
	delay := float64(s.InitialDelay) * math.Pow(2, float64(attempt))
	if delay > float64(s.MaxDelay) {
		return s.MaxDelay
	}
	return time.Duration(delay)
}

// ShouldRetry checks attempts and re-classifies the stored error: aborts are
// never retried item-by-item, everything else gets its bounded attempts.
func (s *ExponentialBackoff) ShouldRetry(err error, attempt int) bool {
	if attempt >= s.MaxAttempts {
		return false
	}
	if err == nil {
		return true
	}
	return Classify(err, StageRecord).Action != domain.ActionAbortTask
}
