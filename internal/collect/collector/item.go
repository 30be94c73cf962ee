package collector

import (
	"context"
	"errors"
	"time"

	"github.com/vietddude/harvester/internal/collect/metrics"
	"github.com/vietddude/harvester/internal/collect/recovery"
	"github.com/vietddude/harvester/internal/core/domain"
	"github.com/vietddude/harvester/internal/core/progress"
)

// itemResult is the disposition of one list entry.
type itemResult struct {
	collected bool
	degraded  bool
	skipped   bool

	// roundLost means back-navigation to the list failed; the round ends
	// early and the next one re-anchors from scratch.
	roundLost bool

	// abortErr is set when a systemic failure must stop the whole run.
	abortErr error
}

// processItem runs the fixed per-item sequence: dedupe → open → ensure
// detail → extract → ensure list → record. Skipped items are NOT marked seen,
// so a future run may retry them.
func (c *Collector) processItem(ctx context.Context, keyword string, ref domain.ItemRef) itemResult {
	tracker := c.cfg.Tracker

	// Cheap pre-check on the list-level id, before paying for the detail
	// view. The canonical id is re-checked after extraction with the same
	// key function.
	preKey := progress.MakeDedupeKey(ref.ListID, ref.Container)
	if tracker.Seen(preKey) {
		metrics.ItemsSkipped.WithLabelValues(c.cfg.Run.SessionID, "duplicate").Inc()
		return itemResult{}
	}

	_, verdict, err := recovery.CallWithRetry(ctx, recovery.StageNavigate,
		func(ctx context.Context) (any, error) {
			return nil, c.cfg.Driver.OpenItem(ctx, ref)
		}, c.cfg.Retry)
	c.cfg.Machine.InvalidateProbe()
	if err != nil {
		return c.disposeFailure(ctx, verdict, err, preKey, keyword, recovery.StageNavigate)
	}

	// Modals fail to open silently; trust the anchor, not the click.
	detailRes := c.ensure(ctx, c.cfg.DetailAnchor, false, recovery.StageEnsure)
	if !detailRes.Success {
		c.log.Warn("detail view not reached", "item", ref.ListID, "detail", detailRes.Detail)
		c.recordFailed(ctx, preKey, keyword, recovery.StageEnsure, errors.New(detailRes.Detail))
		metrics.ItemsSkipped.WithLabelValues(c.cfg.Run.SessionID, "ensure_failed").Inc()
		return itemResult{skipped: true, roundLost: !c.backToList(ctx)}
	}

	// partial survives the retry wrapper so a degrade verdict still has the
	// fields that did extract.
	var partial *domain.Record
	out, verdict, err := recovery.CallWithRetry(ctx, recovery.StageExtract,
		func(ctx context.Context) (any, error) {
			rec, err := c.cfg.Driver.ExtractDetail(ctx)
			if rec != nil {
				partial = rec
			}
			return rec, err
		}, c.cfg.Retry)

	var rec *domain.Record
	degraded := false
	switch {
	case err == nil:
		rec = out.(*domain.Record)
	case verdict.Action == domain.ActionGracefulDegrade && partial != nil:
		rec = partial
		rec.Degraded = true
		rec.DegradedReason = verdict.Suggestion
		degraded = true
		c.log.Warn("degraded record", "item", ref.ListID, "reason", verdict.Suggestion)
	default:
		return c.disposeFailure(ctx, verdict, err, preKey, keyword, recovery.StageExtract)
	}

	// Canonical re-check. The navigation resolved the item's real id, which
	// may differ from the list-level one.
	canonKey := progress.MakeDedupeKey(rec.ItemID, ref.Container)
	if canonKey == "" {
		canonKey = preKey
	}
	if tracker.Seen(canonKey) {
		tracker.MarkSeen(preKey) // remember the alias so the pre-check catches it next time
		metrics.ItemsSkipped.WithLabelValues(c.cfg.Run.SessionID, "duplicate").Inc()
		return itemResult{roundLost: !c.backToList(ctx)}
	}

	// Back to the list before the next item; an ancestor is good enough
	// because the next round re-anchors anyway.
	backOK := c.backToList(ctx)

	rec.Key = canonKey
	rec.Keyword = keyword
	rec.SessionID = c.cfg.Run.SessionID
	rec.CollectedAt = time.Now().Unix()
	if rec.URL == "" {
		rec.URL = ref.URL
	}

	tracker.MarkSeen(canonKey, preKey)
	tracker.RecordCollected(rec.ItemID, keyword)
	if c.cfg.Records != nil {
		if err := c.cfg.Records.Save(ctx, rec); err != nil {
			c.log.Error("record save failed", "key", rec.Key, "error", err)
		}
	}
	if c.cfg.Emitter != nil {
		if err := c.cfg.Emitter.Emit(ctx, rec); err != nil {
			c.log.Warn("emit failed", "key", rec.Key, "error", err)
		}
	}

	metrics.ItemsCollected.WithLabelValues(c.cfg.Run.SessionID).Inc()
	if degraded {
		metrics.ItemsDegraded.WithLabelValues(c.cfg.Run.SessionID).Inc()
	}
	return itemResult{collected: true, degraded: degraded, roundLost: !backOK}
}

// disposeFailure routes a classified failure: abort bubbles up, everything
// else (skip verdicts and exhausted retries) becomes a failed item. The item
// is not marked seen - future runs may retry it.
func (c *Collector) disposeFailure(
	ctx context.Context,
	verdict domain.RecoveryVerdict,
	err error,
	key, keyword, stage string,
) itemResult {
	if verdict.Action == domain.ActionAbortTask {
		return itemResult{abortErr: err}
	}
	c.log.Warn("item failed", "stage", stage, "action", verdict.Action,
		"suggestion", verdict.Suggestion, "error", err)
	c.recordFailed(ctx, key, keyword, stage, err)
	metrics.ItemsSkipped.WithLabelValues(c.cfg.Run.SessionID, string(verdict.Action)).Inc()
	return itemResult{skipped: true, roundLost: !c.backToList(ctx)}
}

// backToList restores the results list, accepting an ancestor anchor.
func (c *Collector) backToList(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	res := c.ensure(ctx, c.cfg.ListAnchor, true, recovery.StageNavigate)
	if !res.Success {
		c.log.Warn("back navigation failed, ending round", "detail", res.Detail)
	}
	return res.Success
}

func (c *Collector) recordFailed(ctx context.Context, key, keyword, stage string, cause error) {
	if c.cfg.Failed == nil {
		return
	}
	if err := c.cfg.Failed.HandleFailure(ctx, c.cfg.Run.SessionID, key, keyword, stage, cause); err != nil {
		c.log.Warn("failed-item record failed", "key", key, "error", err)
	}
}
