package recovery

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/vietddude/harvester/internal/core/domain"
)

// RetryConfig defines retry behavior for one decorated step.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryConfig provides sensible defaults.
var DefaultRetryConfig = RetryConfig{
	MaxAttempts: 3,
	BaseDelay:   500 * time.Millisecond,
	MaxDelay:    30 * time.Second,
}

// StepFunc is one collect-loop step wrapped by CallWithRetry.
type StepFunc func(ctx context.Context) (any, error)

// CallWithRetry executes a step, consulting the classifier on failure. Only
// RETRY verdicts are retried, with delay BaseDelay * 2^(attempt-1) capped at
// MaxDelay (a larger classifier backoff hint wins). Any other verdict
// short-circuits immediately and the verdict is returned to the caller so the
// loop can act on it instead of retrying blindly.
func CallWithRetry(
	ctx context.Context,
	stage string,
	fn StepFunc,
	config RetryConfig,
) (any, domain.RecoveryVerdict, error) {
	var lastErr error
	var lastVerdict domain.RecoveryVerdict

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, domain.RecoveryVerdict{}, nil
		}

		lastErr = err
		lastVerdict = Classify(err, stage)

		if lastVerdict.Action != domain.ActionRetry {
			return nil, lastVerdict, err
		}
		if attempt == config.MaxAttempts {
			break
		}

		delay := backoffDelay(attempt, lastVerdict, config)
		select {
		case <-ctx.Done():
			return nil, lastVerdict, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, lastVerdict, fmt.Errorf("%s failed after %d attempts: %w",
		stage, config.MaxAttempts, lastErr)
}

// backoffDelay computes the sleep before the next attempt. Attempts count
// from 1, so the first retry waits exactly BaseDelay.
func backoffDelay(attempt int, v domain.RecoveryVerdict, config RetryConfig) time.Duration {
	delay := float64(config.BaseDelay) * math.Pow(2, float64(attempt-1))
	if hint := float64(time.Duration(v.BackoffMs) * time.Millisecond); hint > delay {
		delay = hint
	}
	if delay > float64(config.MaxDelay) {
		delay = float64(config.MaxDelay)
	}
	return time.Duration(delay)
}
