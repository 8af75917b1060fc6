package account

import (
	"errors"
	"time"
)

// State is the account lifecycle. It replaces the provisioned/enabled flag
// pair with a single tagged value; the two booleans are derived projections
// and therefore cannot disagree.
type State string

const (
	// StateUnprovisioned: the account exists locally but has never been
	// materialized into the RADIUS store.
	StateUnprovisioned State = "unprovisioned"
	// StateActive: credential row present and enabled.
	StateActive State = "active"
	// StateDisabled: credential row present but flipped off; the active
	// DisconnectionRecord says why.
	StateDisabled State = "disabled"
)

// Reason codes recorded on a DisconnectionRecord.
type Reason string

const (
	ReasonQuotaExceeded   Reason = "quota-exceeded"
	ReasonDailyLimit      Reason = "daily-limit"
	ReasonWeeklyLimit     Reason = "weekly-limit"
	ReasonMonthlyLimit    Reason = "monthly-limit"
	ReasonValidityExpired Reason = "validity-expired"
	ReasonSessionExpired  Reason = "session-expired"
	ReasonManual          Reason = "manual"
)

// Account is a principal that can authenticate against the network access
// device, identified by a stable username. ProfileID and CohortID are
// references into the policy catalog; a direct profile wins during
// resolution.
type Account struct {
	Username  string    `json:"username" db:"username"`
	Password  string    `json:"-" db:"password"`
	ProfileID string    `json:"profile_id,omitempty" db:"profile_id"`
	CohortID  string    `json:"cohort_id,omitempty" db:"cohort_id"`
	State     State     `json:"state" db:"state"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Provisioned reports whether the account was ever written to the RADIUS store.
func (a *Account) Provisioned() bool { return a.State != StateUnprovisioned }

// Enabled reports whether the account is currently allowed to authenticate.
// Enabled implies Provisioned by construction.
func (a *Account) Enabled() bool { return a.State == StateActive }

// UsageRecord holds per-account running counters. The counters are cached
// projections only; the enforcement sweep always re-derives them from the
// accounting relation, so they may lag but never drive a decision.
type UsageRecord struct {
	Username      string    `json:"username" db:"username"`
	ActivatedAt   time.Time `json:"activated_at" db:"activated_at"`
	TodayBytes    int64     `json:"today_bytes" db:"today_bytes"`
	WeekBytes     int64     `json:"week_bytes" db:"week_bytes"`
	MonthBytes    int64     `json:"month_bytes" db:"month_bytes"`
	LifetimeBytes int64     `json:"lifetime_bytes" db:"lifetime_bytes"`
	TodayResetAt  time.Time `json:"today_reset_at" db:"today_reset_at"`
	WeekResetAt   time.Time `json:"week_reset_at" db:"week_reset_at"`
	MonthResetAt  time.Time `json:"month_reset_at" db:"month_reset_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// DisconnectionRecord is the append-only audit of every automatic or manual
// deprovisioning. At most one record per account may be Active at a time;
// that record is the sole source of truth for why the account is disabled.
type DisconnectionRecord struct {
	ID             string     `json:"id" db:"id"`
	Username       string     `json:"username" db:"username"`
	Reason         Reason     `json:"reason" db:"reason"`
	Detail         string     `json:"detail" db:"detail"`
	QuotaUsed      int64      `json:"quota_used" db:"quota_used"`
	QuotaLimit     int64      `json:"quota_limit" db:"quota_limit"`
	DisconnectedAt time.Time  `json:"disconnected_at" db:"disconnected_at"`
	ReconnectedAt  *time.Time `json:"reconnected_at,omitempty" db:"reconnected_at"`
	ReconnectedBy  string     `json:"reconnected_by,omitempty" db:"reconnected_by"`
	Active         bool       `json:"active" db:"active"`
}

var (
	ErrNotFound        = errors.New("account: not found")
	ErrAlreadyExists   = errors.New("account: already exists")
	ErrAlreadyDisabled = errors.New("account: active disconnection already exists")
	ErrNotDisabled     = errors.New("account: no active disconnection")
)
