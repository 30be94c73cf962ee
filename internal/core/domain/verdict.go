package domain

type RecoveryAction string

const (
	ActionRetry           RecoveryAction = "retry"
	ActionSkipItem        RecoveryAction = "skip_item"
	ActionGracefulDegrade RecoveryAction = "graceful_degrade"
	ActionAbortTask       RecoveryAction = "abort_task"
)

// RecoveryVerdict is the classifier's decision for one (error, stage) pair.
// BackoffMs only applies to retry verdicts; Suggestion is for humans and logs.
type RecoveryVerdict struct {
	Action     RecoveryAction
	BackoffMs  int
	Suggestion string
}
