package recovery

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vietddude/harvester/internal/core/domain"
	"github.com/vietddude/harvester/internal/infra/browser"
)

// Stage labels used by the collect loop. Extraction of a single optional
// field uses "extract:<field>" so field-scoped failures can degrade instead
// of failing the item.
const (
	StageSearch    = "search"
	StageEnumerate = "enumerate"
	StageNavigate  = "navigate"
	StageEnsure    = "ensure"
	StageExtract   = "extract"
	StageRecord    = "record"
)

// Default backoff hints per class, in milliseconds.
const (
	retryBackoffMs     = 1000
	rateLimitBackoffMs = 5000
)

// optionalFields are detail fields whose failure degrades the record rather
// than failing the item. Title and body are required; everything else is
// nice-to-have.
var optionalFields = []string{"comments", "author", "images", "likes"}

// Classify maps an error and the stage it occurred in to a recovery verdict.
// It is pure and deterministic: identical inputs always produce identical
// verdicts. It never does I/O.
func Classify(err error, stage string) domain.RecoveryVerdict {
	if err == nil {
		return domain.RecoveryVerdict{Action: domain.ActionRetry} // Should not happen
	}

	// Caller tore the run down; retrying or skipping would fight the shutdown.
	if errors.Is(err, context.Canceled) {
		return domain.RecoveryVerdict{
			Action:     domain.ActionAbortTask,
			Suggestion: "run canceled by caller",
		}
	}

	// Typed sentinels from the driver boundary are the most reliable signal.
	switch {
	case errors.Is(err, browser.ErrAuthRequired):
		return domain.RecoveryVerdict{
			Action:     domain.ActionAbortTask,
			Suggestion: "re-authenticate the session, then resume with the same session id",
		}
	case errors.Is(err, browser.ErrItemGone):
		return domain.RecoveryVerdict{
			Action:     domain.ActionSkipItem,
			Suggestion: "item removed upstream, skip and continue",
		}
	case errors.Is(err, browser.ErrPartialExtract):
		return domain.RecoveryVerdict{
			Action:     domain.ActionGracefulDegrade,
			Suggestion: "proceed with the fields that extracted: " + err.Error(),
		}
	case errors.Is(err, browser.ErrRateLimited):
		return domain.RecoveryVerdict{
			Action:     domain.ActionRetry,
			BackoffMs:  rateLimitBackoffMs,
			Suggestion: "upstream rate limit, back off before retrying",
		}
	}

	// Bridge drivers surface gRPC status errors; map the codes directly.
	if s, ok := status.FromError(err); ok && s.Code() != codes.OK {
		if v, handled := classifyStatus(s); handled {
			return v
		}
	}

	return classifyMessage(err.Error(), stage)
}

// classifyStatus maps gRPC status codes from a bridge backend. Returns
// handled=false for codes with no specific policy so message matching can
// still run.
func classifyStatus(s *status.Status) (domain.RecoveryVerdict, bool) {
	switch s.Code() {
	case codes.Unauthenticated, codes.PermissionDenied:
		return domain.RecoveryVerdict{
			Action:     domain.ActionAbortTask,
			Suggestion: "bridge rejected credentials: " + s.Message(),
		}, true
	case codes.ResourceExhausted:
		backoff := rateLimitBackoffMs
		for _, d := range s.Details() {
			if info, ok := d.(*errdetails.RetryInfo); ok && info.GetRetryDelay() != nil {
				if ms := int(info.GetRetryDelay().AsDuration().Milliseconds()); ms > 0 {
					backoff = ms
				}
			}
		}
		return domain.RecoveryVerdict{
			Action:     domain.ActionRetry,
			BackoffMs:  backoff,
			Suggestion: "bridge is throttling, honor its retry delay",
		}, true
	case codes.NotFound:
		return domain.RecoveryVerdict{
			Action:     domain.ActionSkipItem,
			Suggestion: "item not found via bridge, skip",
		}, true
	case codes.Unimplemented:
		return domain.RecoveryVerdict{
			Action:     domain.ActionAbortTask,
			Suggestion: "bridge does not support the requested operation",
		}, true
	case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted:
		return domain.RecoveryVerdict{
			Action:     domain.ActionRetry,
			BackoffMs:  retryBackoffMs,
			Suggestion: "bridge transport hiccup, retry",
		}, true
	}
	return domain.RecoveryVerdict{}, false
}

// classifyMessage is the fallback for untyped errors, matching on the message
// text the way upstream failures actually read.
func classifyMessage(msg, stage string) domain.RecoveryVerdict {
	lower := strings.ToLower(msg)

	// Systemic failures stop the run regardless of stage.
	for _, m := range []string{
		"auth expired", "login required", "login wall", "captcha",
		"account suspended", "session invalid", "structural change",
	} {
		if strings.Contains(lower, m) {
			return domain.RecoveryVerdict{
				Action:     domain.ActionAbortTask,
				Suggestion: "systemic failure (" + m + "), fix the session before resuming",
			}
		}
	}

	// A failing optional field during extraction degrades the record.
	if stage == StageExtract || strings.HasPrefix(stage, StageExtract+":") {
		for _, f := range optionalFields {
			if strings.Contains(lower, f) {
				return domain.RecoveryVerdict{
					Action:     domain.ActionGracefulDegrade,
					Suggestion: "proceed without " + f,
				}
			}
		}
	}

	// Item-scoped failures: the page is broken, not the run.
	for _, m := range []string{
		"malformed", "missing required field", "item removed", "item deleted",
		"404", "parse",
	} {
		if strings.Contains(lower, m) {
			return domain.RecoveryVerdict{
				Action:     domain.ActionSkipItem,
				Suggestion: "item-scoped failure (" + m + "), skip and continue",
			}
		}
	}

	// Rate limiting retries on a longer fuse than plain flakiness.
	for _, m := range []string{"rate limit", "429", "too many requests"} {
		if strings.Contains(lower, m) {
			return domain.RecoveryVerdict{
				Action:     domain.ActionRetry,
				BackoffMs:  rateLimitBackoffMs,
				Suggestion: "upstream rate limit, back off before retrying",
			}
		}
	}

	// Default to retry: slow renders, flaky network, 5xx.
	return domain.RecoveryVerdict{
		Action:     domain.ActionRetry,
		BackoffMs:  retryBackoffMs,
		Suggestion: "transient failure, retry with backoff",
	}
}
