package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/calscribe/calscribe/internal/cache"
	"github.com/calscribe/calscribe/internal/gateway"
)

// UndoFailure reports one remote event that could not be deleted.
type UndoFailure struct {
	EventID string `json:"event_id"`
	Reason  string `json:"reason"`
}

// UndoResult counts deletions for one undo call. NotFound deletions are
// counted as deleted: undoing twice is as safe as undoing once.
type UndoResult struct {
	Deleted int           `json:"deleted"`
	Failed  []UndoFailure `json:"failed"`
}

// Undo reverses the creations of a previous batch by token. Only events the
// batch created are deleted; its updates and skips are left alone. A token
// is consumed once every deletion succeeds; after a partial failure it keeps
// referencing the remaining events so undo can be retried.
func (o *Orchestrator) Undo(ctx context.Context, token, calendarID string) (*UndoResult, error) {
	pairs, ok := o.batches.ResolveBatch(token)
	if !ok {
		return nil, fmt.Errorf("unknown undo token %q", token)
	}

	res, err := o.UndoEvents(ctx, pairs, calendarID)
	if err != nil {
		return nil, err
	}

	if len(res.Failed) == 0 {
		if derr := o.batches.DeleteBatch(token); derr != nil {
			o.logger.Warn("Failed to drop consumed undo token", "token", token, "error", derr)
		}
		return res, nil
	}

	remaining := make([]cache.CreatedPair, 0, len(res.Failed))
	failedIDs := make(map[string]bool, len(res.Failed))
	for _, f := range res.Failed {
		failedIDs[f.EventID] = true
	}
	for _, p := range pairs {
		if failedIDs[p.EventID] {
			remaining = append(remaining, p)
		}
	}
	if serr := o.batches.SaveBatch(token, remaining); serr != nil {
		o.logger.Warn("Failed to narrow undo token after partial undo", "token", token, "error", serr)
	}
	return res, nil
}

// UndoEvents deletes the given created events from the named calendar. Each
// successful deletion also removes the matching reconciliation record, so a
// later batch with the same fingerprints re-inserts instead of skipping.
// Failures are collected and processing continues; only an unresolvable
// calendar aborts.
func (o *Orchestrator) UndoEvents(ctx context.Context, pairs []cache.CreatedPair, calendarID string) (*UndoResult, error) {
	var calID string
	err := o.withRetry(ctx, func(ctx context.Context) error {
		var e error
		calID, e = o.gw.EnsureCalendar(ctx, calendarID)
		return e
	})
	if err != nil {
		return nil, fmt.Errorf("cannot resolve calendar %q: %w", calendarID, err)
	}

	lock := o.lockFor(calID)
	lock.Lock()
	defer lock.Unlock()

	res := &UndoResult{}
	for _, pair := range pairs {
		if ctx.Err() != nil {
			res.Failed = append(res.Failed, UndoFailure{EventID: pair.EventID, Reason: ctx.Err().Error()})
			continue
		}

		start := time.Now()
		err := o.withRetry(ctx, func(ctx context.Context) error {
			return o.gw.DeleteEvent(ctx, calID, pair.EventID)
		})
		switch {
		case err == nil, gateway.IsNotFound(err):
			// Already gone counts as undone.
			res.Deleted++
			if rerr := o.cache.Remove(pair.Fingerprint); rerr != nil {
				o.logger.Warn("Failed to drop reconciliation record after undo",
					"fingerprint", pair.Fingerprint, "error", rerr)
			}
			o.logger.Debug("Deleted event", "event_id", pair.EventID, "took", time.Since(start))
		default:
			res.Failed = append(res.Failed, UndoFailure{EventID: pair.EventID, Reason: failReason(err)})
		}
	}

	o.logger.Info("Undo finished", "deleted", res.Deleted, "failed", len(res.Failed))
	return res, nil
}
