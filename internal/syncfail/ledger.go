package syncfail

import (
	"context"
	"time"
)

// Ledger is the durable queue of failed external-store writes. Claim hands
// out due entries with work-queue semantics (claim → process → ack/requeue),
// so concurrent retry workers never process the same entry twice.
type Ledger interface {
	// Record inserts a new entry in StatusPending.
	Record(ctx context.Context, e *Entry) error

	// Claim atomically selects up to limit due entries (pending or retrying,
	// next_retry_at ≤ now), marks them retrying and pushes next_retry_at
	// forward by the visibility window. A claimed entry that is neither
	// resolved nor rescheduled becomes due again once the window lapses.
	Claim(ctx context.Context, limit int, now time.Time, visibility time.Duration) ([]*Entry, error)

	// Resolve marks an entry successfully replayed.
	Resolve(ctx context.Context, id string, retryCount int, at time.Time) error

	// Reschedule keeps the entry in retrying with an updated attempt count
	// and backoff deadline.
	Reschedule(ctx context.Context, id string, retryCount int, next time.Time) error

	// Fail marks an entry exhausted; it surfaces in operational reports and
	// is never claimed again.
	Fail(ctx context.Context, id string, retryCount int, at time.Time) error

	// Ignore parks an entry by operator decision.
	Ignore(ctx context.Context, id string, at time.Time) error

	List(ctx context.Context, status Status, limit int) ([]*Entry, error)
}
