package radius

import (
	"context"
	"time"
)

// Store describes writes against the authentication store. Each method is a
// single transaction; disable/enable flip the credential row rather than
// deleting anything, so reactivation is cheap and idempotent.
type Store interface {
	// SetupUser upserts the credential row (enabled), replaces the reply
	// attributes and upserts the group membership in one transaction.
	// Calling it twice with the same input leaves exactly one credential row
	// and one group row.
	SetupUser(ctx context.Context, u User) error

	// DisableUser flips the credential row off. Returns ErrNoCredential when
	// the row is missing so the caller can surface the inconsistency instead
	// of pretending success.
	DisableUser(ctx context.Context, username string) error

	// EnableUser flips the credential row back on.
	EnableUser(ctx context.Context, username string) error

	// SetGroup rewrites the user's group membership; used by the
	// reconciliation pass to quarantine orphans.
	SetGroup(ctx context.Context, username, group string) error

	Check(ctx context.Context, username string) (*CheckRow, error)
	ListUsernames(ctx context.Context) ([]string, error)
}

// Accounting reads the per-session byte counters.
type Accounting interface {
	// TotalsSince sums input/output counters for sessions started at or
	// after from. A zero from means all history (lifetime).
	TotalsSince(ctx context.Context, username string, from time.Time) (Octets, error)
}
