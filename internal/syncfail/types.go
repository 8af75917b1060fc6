package syncfail

import (
	"errors"
	"time"
)

// Status is the entry lifecycle: pending → retrying → {resolved|failed|ignored}.
type Status string

const (
	StatusPending  Status = "pending"
	StatusRetrying Status = "retrying"
	StatusResolved Status = "resolved"
	StatusFailed   Status = "failed"
	StatusIgnored  Status = "ignored"
)

// TargetStore identifies which external store rejected the write.
type TargetStore string

const (
	StoreRADIUS TargetStore = "radius"
	StoreNAS    TargetStore = "nas"
)

// Op names the original write so the retry worker can replay it.
type Op string

const (
	OpSetupUser   Op = "setup-user"
	OpDisableUser Op = "disable-user"
	OpEnableUser  Op = "enable-user"
	OpNASSync     Op = "nas-sync"
)

// Entry is one durable record of a failed external-store write. Failures are
// never only logged; they live here until resolved, exhausted or ignored.
type Entry struct {
	ID          string      `json:"id" db:"id"`
	Store       TargetStore `json:"target_store" db:"target_store"`
	Op          Op          `json:"op" db:"op"`
	EntityType  string      `json:"entity_type" db:"entity_type"`
	EntityID    string      `json:"entity_id" db:"entity_id"`
	Detail      string      `json:"detail" db:"detail"`
	Payload     []byte      `json:"payload,omitempty" db:"payload"`
	Status      Status      `json:"status" db:"status"`
	RetryCount  int         `json:"retry_count" db:"retry_count"`
	MaxRetries  int         `json:"max_retries" db:"max_retries"`
	NextRetryAt time.Time   `json:"next_retry_at" db:"next_retry_at"`
	CreatedAt   time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at" db:"updated_at"`
}

var (
	ErrNotFound = errors.New("syncfail: entry not found")
)
