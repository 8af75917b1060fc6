package syncfail

import (
	"context"
	"time"

	"radgate.org/internal/obs"
)

const (
	defaultBatchSize   = 50
	defaultVisibility  = 5 * time.Minute
	defaultBackoffBase = 2 * time.Minute
	defaultCallTimeout = 10 * time.Second
	maxBackoff         = 6 * time.Hour
)

// Replayer re-attempts the original external-store write an entry records.
// The provisioning engine implements it.
type Replayer interface {
	Replay(ctx context.Context, e *Entry) error
}

// Worker drains due ledger entries. Safe to run concurrently with other
// workers because claiming is atomic, and safe to cancel between entries.
type Worker struct {
	ledger      Ledger
	replay      Replayer
	batch       int
	visibility  time.Duration
	backoffBase time.Duration
	callTimeout time.Duration
	now         func() time.Time
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithBatchSize caps how many entries one run claims.
func WithBatchSize(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.batch = n
		}
	}
}

// WithVisibility sets how long a claim hides an entry from other workers.
func WithVisibility(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.visibility = d
		}
	}
}

// WithBackoffBase sets the first retry delay; each further attempt doubles it.
func WithBackoffBase(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.backoffBase = d
		}
	}
}

// WithCallTimeout bounds a single replay attempt.
func WithCallTimeout(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.callTimeout = d
		}
	}
}

// WithClock overrides the time source (tests).
func WithClock(fn func() time.Time) WorkerOption {
	return func(w *Worker) {
		if fn != nil {
			w.now = fn
		}
	}
}

// NewWorker constructs a retry worker.
func NewWorker(ledger Ledger, replay Replayer, opts ...WorkerOption) *Worker {
	w := &Worker{
		ledger:      ledger,
		replay:      replay,
		batch:       defaultBatchSize,
		visibility:  defaultVisibility,
		backoffBase: defaultBackoffBase,
		callTimeout: defaultCallTimeout,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Report summarizes one worker run.
type Report struct {
	Claimed     int `json:"claimed"`
	Resolved    int `json:"resolved"`
	Rescheduled int `json:"rescheduled"`
	Failed      int `json:"failed"`
}

// Run claims due entries and replays them once each. An entry that fails its
// final attempt transitions to StatusFailed and is reported, never retried
// again.
func (w *Worker) Run(ctx context.Context) (Report, error) {
	var rep Report
	now := w.now().UTC()

	entries, err := w.ledger.Claim(ctx, w.batch, now, w.visibility)
	if err != nil {
		return rep, err
	}
	rep.Claimed = len(entries)

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return rep, err
		}

		attempt := e.RetryCount + 1
		callCtx, cancel := context.WithTimeout(ctx, w.callTimeout)
		replayErr := w.replay.Replay(callCtx, e)
		cancel()

		now = w.now().UTC()
		switch {
		case replayErr == nil:
			if err := w.ledger.Resolve(ctx, e.ID, attempt, now); err != nil {
				return rep, err
			}
			rep.Resolved++
			obs.SyncRetries.WithLabelValues("resolved").Inc()

		case attempt >= e.MaxRetries:
			if err := w.ledger.Fail(ctx, e.ID, attempt, now); err != nil {
				return rep, err
			}
			rep.Failed++
			obs.SyncRetries.WithLabelValues("failed").Inc()
			obs.LogEvent("sync_retry_exhausted", map[string]any{
				"entry_id": e.ID,
				"store":    string(e.Store),
				"op":       string(e.Op),
				"entity":   e.EntityID,
				"attempts": attempt,
				"error":    replayErr.Error(),
			})

		default:
			next := now.Add(w.backoff(attempt))
			if err := w.ledger.Reschedule(ctx, e.ID, attempt, next); err != nil {
				return rep, err
			}
			rep.Rescheduled++
			obs.SyncRetries.WithLabelValues("rescheduled").Inc()
		}
	}
	return rep, nil
}

func (w *Worker) backoff(attempt int) time.Duration {
	d := w.backoffBase << (attempt - 1)
	if d > maxBackoff || d <= 0 {
		return maxBackoff
	}
	return d
}
