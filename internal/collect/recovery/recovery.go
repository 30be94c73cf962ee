// Package recovery routes every collect-loop failure to a bounded action.
//
// # Purpose
//
// Scraping a dynamic remote UI fails constantly and in different ways: a slow
// render is not a login wall, and a malformed detail page is not a reason to
// stop a multi-hour run. This package decides, for every (error, stage) pair,
// exactly one of four outcomes:
//
//   - RETRY            transient; retry the same step with exponential backoff
//   - SKIP_ITEM        scoped to the current item; abandon it, keep the loop
//   - GRACEFUL_DEGRADE partial success acceptable; keep a reduced record
//   - ABORT_TASK       systemic; persist progress and stop the whole run
//
// Classification is a pure function so behavior is testable and consistent
// across every call site; CallWithRetry is the single retry decorator so no
// ad hoc sleep loops exist anywhere else.
//
// # Package Structure
//
//   - classifier.go  - Classify(err, stage) -> RecoveryVerdict
//   - retry.go       - CallWithRetry decorator and backoff math
//   - strategy.go    - Retry pacing for the failed-item queue
//   - handler.go     - Records failed items for later reprocessing
//   - reprocessor.go - Background worker replaying failed items
package recovery

import (
	"context"

	"github.com/vietddude/harvester/internal/core/domain"
)

// FailedItemRecorder accepts failures scoped to one item so a later pass can
// retry them.
type FailedItemRecorder interface {
	// HandleFailure records one failed item.
	HandleFailure(ctx context.Context, sessionID, key, keyword, stage string, err error) error
}

// ItemRetryFunc replays one failed item through the collect path.
type ItemRetryFunc func(ctx context.Context, item *domain.FailedItem) error
