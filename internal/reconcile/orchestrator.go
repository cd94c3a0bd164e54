// Package reconcile contains the write orchestrator: the single code path
// that turns candidate events into remote calendar writes. It reconciles the
// local fingerprint cache against the remote store on every write, so
// repeating a batch never creates duplicates and out-of-band deletions heal
// themselves.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"google.golang.org/api/calendar/v3"

	"github.com/calscribe/calscribe/internal/cache"
	"github.com/calscribe/calscribe/internal/event"
	"github.com/calscribe/calscribe/internal/gateway"
)

// ConflictPolicy selects what happens when a candidate's fingerprint already
// maps to an existing remote event.
type ConflictPolicy string

const (
	// PolicySkip leaves the existing remote event untouched.
	PolicySkip ConflictPolicy = "skip"
	// PolicyUpdate overwrites the remote event with the candidate's fields.
	PolicyUpdate ConflictPolicy = "update"
	// PolicyError fails the single conflicting event; the batch continues.
	PolicyError ConflictPolicy = "error"
)

// ParsePolicy validates a policy name from config or a CLI flag.
func ParsePolicy(s string) (ConflictPolicy, error) {
	switch ConflictPolicy(s) {
	case PolicySkip, PolicyUpdate, PolicyError:
		return ConflictPolicy(s), nil
	case "":
		return PolicySkip, nil
	}
	return "", fmt.Errorf("invalid conflict policy %q (want skip, update or error)", s)
}

// CreatedEvent pairs a fingerprint with the remote id its insert produced.
type CreatedEvent struct {
	Fingerprint event.Fingerprint `json:"fingerprint"`
	EventID     string            `json:"event_id"`
}

// FailedEvent reports one event that could not be written. Index is the
// event's position in the submitted batch; Fingerprint is empty when the
// event failed validation before fingerprinting.
type FailedEvent struct {
	Index       int               `json:"index"`
	Fingerprint event.Fingerprint `json:"fingerprint,omitempty"`
	Reason      string            `json:"reason"`
}

// BatchResult aggregates the per-event outcomes of one WriteBatch call. The
// undo token covers exactly the Created set; updates and skips are not
// reversed by undo.
type BatchResult struct {
	Created   []CreatedEvent      `json:"created"`
	Updated   []event.Fingerprint `json:"updated"`
	Skipped   []event.Fingerprint `json:"skipped"`
	Failed    []FailedEvent       `json:"failed"`
	UndoToken string              `json:"undo_token,omitempty"`
}

// Options tune the orchestrator. Zero values get sensible defaults.
type Options struct {
	// DefaultTimeZone resolves naive date-times. When nil, the gateway's
	// reported user timezone is used, falling back to UTC.
	DefaultTimeZone *time.Location

	// MaxAttempts bounds retries of a single gateway call on transient
	// failures. Default 3.
	MaxAttempts int

	// RetryDelay is the backoff base; it doubles per attempt. Default 500ms.
	RetryDelay time.Duration

	// CallTimeout bounds each individual gateway call. Default 30s.
	CallTimeout time.Duration

	// PreserveDescription leaves the remote description untouched when the
	// update policy rewrites an event. By default the description is
	// overwritten along with the identifying fields.
	PreserveDescription bool
}

// Orchestrator is the single writer for one identity's calendars. Batches
// against the same calendar are serialized; different calendars proceed
// independently.
type Orchestrator struct {
	gw      gateway.Gateway
	cache   cache.Store
	batches cache.BatchStore
	logger  *slog.Logger

	defaultTZ           *time.Location
	maxAttempts         int
	retryDelay          time.Duration
	callTimeout         time.Duration
	preserveDescription bool

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New assembles an orchestrator over a gateway, a reconciliation store and a
// batch store, all scoped to the same identity.
func New(gw gateway.Gateway, store cache.Store, batches cache.BatchStore, logger *slog.Logger, opts Options) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 500 * time.Millisecond
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 30 * time.Second
	}
	return &Orchestrator{
		gw:                  gw,
		cache:               store,
		batches:             batches,
		logger:              logger,
		defaultTZ:           opts.DefaultTimeZone,
		maxAttempts:         opts.MaxAttempts,
		retryDelay:          opts.RetryDelay,
		callTimeout:         opts.CallTimeout,
		preserveDescription: opts.PreserveDescription,
		locks:               make(map[string]*sync.Mutex),
	}
}

// WriteBatch processes candidate events in input order against the named
// calendar. Per-event failures never abort the batch; only failing to
// resolve the calendar itself does. The returned result carries an undo
// token when anything was created.
//
// Calling WriteBatch twice with the same events and calendar creates nothing
// on the second call: every fingerprint resolves to the same cache record.
func (o *Orchestrator) WriteBatch(ctx context.Context, events []event.Candidate, calendarID string, policy ConflictPolicy) (*BatchResult, error) {
	policy, err := ParsePolicy(string(policy))
	if err != nil {
		return nil, err
	}

	var calID string
	err = o.withRetry(ctx, func(ctx context.Context) error {
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

	tz := o.timezone(ctx)
	res := &BatchResult{}

	// First occurrence of each fingerprint in this batch, and whether its
	// write failed. Later duplicates only count as skipped when the first
	// occurrence actually holds the remote copy.
	type firstWrite struct {
		index  int
		failed bool
	}
	seen := make(map[event.Fingerprint]firstWrite)

	o.logger.Info("Writing batch", "calendar", calID, "events", len(events), "policy", policy)

	for i, c := range events {
		if ctx.Err() != nil {
			o.issueUndoToken(res)
			return res, fmt.Errorf("batch interrupted after %d of %d events: %w", i, len(events), ctx.Err())
		}

		if err := c.Validate(tz); err != nil {
			res.Failed = append(res.Failed, FailedEvent{Index: i, Reason: err.Error()})
			continue
		}

		fp := event.NewFingerprint(c, tz)
		if first, dup := seen[fp]; dup {
			o.logger.Debug("Duplicate candidate within batch", "fingerprint", fp, "index", i)
			if first.failed {
				res.Failed = append(res.Failed, FailedEvent{
					Index:       i,
					Fingerprint: fp,
					Reason:      fmt.Sprintf("duplicate of event %d, which failed", first.index+1),
				})
			} else {
				res.Skipped = append(res.Skipped, fp)
			}
			continue
		}

		failedBefore := len(res.Failed)
		o.writeOne(ctx, res, i, c, fp, calID, policy, tz)
		seen[fp] = firstWrite{index: i, failed: len(res.Failed) > failedBefore}
	}

	o.issueUndoToken(res)
	o.logger.Info("Batch finished",
		"created", len(res.Created), "updated", len(res.Updated),
		"skipped", len(res.Skipped), "failed", len(res.Failed))
	return res, nil
}

// writeOne runs the reconciliation algorithm for a single candidate.
func (o *Orchestrator) writeOne(ctx context.Context, res *BatchResult, i int, c event.Candidate, fp event.Fingerprint, calID string, policy ConflictPolicy, tz *time.Location) {
	rec, known := o.cache.Lookup(fp)
	if known {
		var remote *calendar.Event
		err := o.withRetry(ctx, func(ctx context.Context) error {
			var e error
			remote, e = o.gw.GetEvent(ctx, rec.CalendarID, rec.EventID)
			return e
		})
		switch {
		case err == nil:
			o.applyPolicy(ctx, res, i, c, fp, rec, remote, policy, tz)
			return
		case gateway.IsNotFound(err):
			// The remote copy vanished out-of-band. The cache record is
			// stale; fall through and re-insert.
			o.logger.Info("Cached event missing remotely, re-inserting",
				"fingerprint", fp, "event_id", rec.EventID)
		default:
			res.Failed = append(res.Failed, FailedEvent{Index: i, Fingerprint: fp, Reason: failReason(err)})
			return
		}
	}

	o.insert(ctx, res, i, c, fp, calID, tz)
}

// applyPolicy handles a candidate whose remote copy is confirmed to exist.
func (o *Orchestrator) applyPolicy(ctx context.Context, res *BatchResult, i int, c event.Candidate, fp event.Fingerprint, rec cache.Record, remote *calendar.Event, policy ConflictPolicy, tz *time.Location) {
	switch policy {
	case PolicySkip:
		res.Skipped = append(res.Skipped, fp)

	case PolicyUpdate:
		patch := c.ToGoogleEvent(tz, string(fp))
		if o.preserveDescription {
			patch.Description = remote.Description
		}
		var h gateway.Handle
		err := o.withRetry(ctx, func(ctx context.Context) error {
			var e error
			h, e = o.gw.UpdateEvent(ctx, rec.CalendarID, rec.EventID, patch)
			return e
		})
		if err != nil {
			res.Failed = append(res.Failed, FailedEvent{Index: i, Fingerprint: fp, Reason: failReason(err)})
			return
		}
		o.putRecord(cache.Record{
			Fingerprint: fp,
			CalendarID:  h.CalendarID,
			EventID:     h.EventID,
			State:       "updated",
			WrittenAt:   time.Now().UTC(),
		})
		res.Updated = append(res.Updated, fp)

	case PolicyError:
		res.Failed = append(res.Failed, FailedEvent{
			Index:       i,
			Fingerprint: fp,
			Reason:      fmt.Sprintf("event already exists as %s", rec.EventID),
		})
	}
}

// insert creates the remote event and records it. The cache record is
// flushed before the event is reported as created, so a crash between the
// two cannot make a later run re-insert silently without at least a warning
// in the log.
func (o *Orchestrator) insert(ctx context.Context, res *BatchResult, i int, c event.Candidate, fp event.Fingerprint, calID string, tz *time.Location) {
	ev := c.ToGoogleEvent(tz, string(fp))

	var h gateway.Handle
	err := o.withRetry(ctx, func(ctx context.Context) error {
		var e error
		h, e = o.gw.InsertEvent(ctx, calID, ev)
		return e
	})
	if err != nil {
		res.Failed = append(res.Failed, FailedEvent{Index: i, Fingerprint: fp, Reason: failReason(err)})
		return
	}

	o.putRecord(cache.Record{
		Fingerprint: fp,
		CalendarID:  h.CalendarID,
		EventID:     h.EventID,
		State:       "created",
		WrittenAt:   time.Now().UTC(),
	})
	res.Created = append(res.Created, CreatedEvent{Fingerprint: fp, EventID: h.EventID})
}

func (o *Orchestrator) putRecord(rec cache.Record) {
	if err := o.cache.Put(rec); err != nil {
		// Degraded mode: the remote write happened but the record did not
		// stick. A rerun may duplicate this event.
		o.logger.Error("Failed to flush reconciliation cache",
			"fingerprint", rec.Fingerprint, "event_id", rec.EventID, "error", err)
	}
}

// issueUndoToken persists the created set behind a fresh token. Nothing
// created means no token.
func (o *Orchestrator) issueUndoToken(res *BatchResult) {
	if len(res.Created) == 0 {
		return
	}
	pairs := make([]cache.CreatedPair, len(res.Created))
	for i, ce := range res.Created {
		pairs[i] = cache.CreatedPair{Fingerprint: ce.Fingerprint, EventID: ce.EventID}
	}
	token := uuid.NewString()
	if err := o.batches.SaveBatch(token, pairs); err != nil {
		o.logger.Error("Failed to persist undo record, batch cannot be undone by token", "error", err)
		return
	}
	res.UndoToken = token
}

// withRetry runs op with a per-call timeout, retrying transient failures
// with doubling backoff up to MaxAttempts. Permanent errors return
// immediately.
func (o *Orchestrator) withRetry(ctx context.Context, op func(context.Context) error) error {
	var err error
	for attempt := 0; attempt < o.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := o.retryDelay << (attempt - 1)
			o.logger.Debug("Retrying gateway call", "attempt", attempt+1, "delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		callCtx, cancel := context.WithTimeout(ctx, o.callTimeout)
		err = op(callCtx)
		cancel()
		if err == nil || !gateway.IsRetryable(err) {
			return err
		}
	}
	return err
}

// timezone resolves the default timezone for naive date-times, preferring
// the configured zone, then the remote account's setting, then UTC.
func (o *Orchestrator) timezone(ctx context.Context) *time.Location {
	if o.defaultTZ != nil {
		return o.defaultTZ
	}
	var name string
	err := o.withRetry(ctx, func(ctx context.Context) error {
		var e error
		name, e = o.gw.DefaultTimeZone(ctx)
		return e
	})
	if err != nil || name == "" {
		o.logger.Warn("Could not determine calendar timezone, using UTC", "error", err)
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		o.logger.Warn("Calendar reports unknown timezone, using UTC", "timezone", name, "error", err)
		return time.UTC
	}
	return loc
}

func (o *Orchestrator) lockFor(calID string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	lock, ok := o.locks[calID]
	if !ok {
		lock = &sync.Mutex{}
		o.locks[calID] = lock
	}
	return lock
}

// failReason renders a gateway error as a per-event failure reason.
// Exhausted transient retries are reported distinctly so callers can tell
// them apart from permanent rejections.
func failReason(err error) string {
	if gateway.IsRetryable(err) {
		return fmt.Sprintf("transient-failure: %v", err)
	}
	return err.Error()
}
