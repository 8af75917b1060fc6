package account

import (
	"context"
	"time"

	"radgate.org/internal/policy"
)

// Store describes persistence operations required by the provisioning engine
// and the enforcement sweep. The Mark* transitions are each a single
// transaction that locks the account row for update, so a concurrent
// administrative action and the sweep cannot race on the same account; two
// different accounts are fully independent.
type Store interface {
	Get(ctx context.Context, username string) (*Account, error)
	Create(ctx context.Context, a *Account) error
	ListEnabled(ctx context.Context) ([]*Account, error)
	ListByCohort(ctx context.Context, cohortID string) ([]*Account, error)
	ListUsernames(ctx context.Context) ([]string, error)

	// Catalog loads a consistent snapshot of the Profile and Cohort
	// relations for pure resolution.
	Catalog(ctx context.Context) (*policy.Snapshot, error)

	UsageRecord(ctx context.Context, username string) (*UsageRecord, error)
	SaveUsage(ctx context.Context, rec *UsageRecord) error

	ActiveDisconnection(ctx context.Context, username string) (*DisconnectionRecord, error)
	GetDisconnection(ctx context.Context, id string) (*DisconnectionRecord, error)
	ListDisconnections(ctx context.Context, username string, limit int) ([]*DisconnectionRecord, error)

	// MarkProvisioned moves the account to StateActive and creates its
	// UsageRecord anchored at activatedAt if one does not already exist.
	MarkProvisioned(ctx context.Context, username string, activatedAt time.Time) error

	// MarkDisabled moves the account to StateDisabled and appends rec with
	// Active=true. Fails with ErrAlreadyDisabled if an active record exists,
	// keeping the one-active-record invariant.
	MarkDisabled(ctx context.Context, rec *DisconnectionRecord) error

	// MarkReactivated closes the record (Active=false, reconnected_at/by)
	// and moves its account back to StateActive. Usage counters and the
	// activation anchor are deliberately untouched.
	MarkReactivated(ctx context.Context, recordID, by string, at time.Time) (*DisconnectionRecord, error)
}
