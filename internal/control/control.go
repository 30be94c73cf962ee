// Package control is the composition root: it turns an AppConfig into wired
// sessions (driver, anchor machine, tracker, collector) plus the shared
// infrastructure (gate, budget, storage, redis, health) and owns their
// lifecycle.
package control

import (
	"context"

	"github.com/vietddude/harvester/internal/core/domain"
)

// Runner is the collect loop the harvester drives, one per session.
// *collector.Collector satisfies it; tests substitute fakes.
type Runner interface {
	Run(ctx context.Context) (domain.RunResult, error)
	Stop()
	SessionID() string
}

// Worker is a background task tied to the harvester's lifetime (reprocessor,
// evidence pruner).
type Worker interface {
	Start(ctx context.Context)
}

// workerFunc adapts a plain function to Worker.
type workerFunc func(ctx context.Context)

func (f workerFunc) Start(ctx context.Context) { f(ctx) }

// SessionResult pairs a session with its run outcome.
type SessionResult struct {
	SessionID string
	Result    domain.RunResult
	Err       error
}

// Aborted reports whether any session ended with a systemic failure.
func Aborted(results []SessionResult) bool {
	for _, r := range results {
		if r.Err != nil || r.Result.Aborted {
			return true
		}
	}
	return false
}
