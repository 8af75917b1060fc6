package policy

import (
	"errors"
	"fmt"
	"time"
)

// QuotaMode selects which ceiling, if any, caps an account's total traffic.
type QuotaMode string

const (
	QuotaUnlimited QuotaMode = "unlimited"
	QuotaDaily     QuotaMode = "daily"
	QuotaMonthly   QuotaMode = "monthly"
	QuotaTotal     QuotaMode = "total"
)

// Valid reports whether m is one of the known quota modes.
func (m QuotaMode) Valid() bool {
	switch m {
	case QuotaUnlimited, QuotaDaily, QuotaMonthly, QuotaTotal:
		return true
	}
	return false
}

// Profile is a named bandwidth/quota/timeout policy. The engine treats a
// Profile as immutable during a single resolution or enforcement pass;
// administrative edits never rewrite history.
type Profile struct {
	ID   string `json:"id" db:"id"`
	Name string `json:"name" db:"name"`

	// Bandwidth ceilings in Mbit/s; zero means no shaping attribute is written.
	UploadMbit   int64 `json:"upload_mbit" db:"upload_mbit"`
	DownloadMbit int64 `json:"download_mbit" db:"download_mbit"`

	Mode       QuotaMode `json:"quota_mode" db:"quota_mode"`
	QuotaBytes int64     `json:"quota_bytes" db:"quota_bytes"` // ceiling for Mode, ignored when unlimited

	// Per-window byte ceilings, each optional and independently enforced.
	DailyLimit   *int64 `json:"daily_limit,omitempty" db:"daily_limit"`
	WeeklyLimit  *int64 `json:"weekly_limit,omitempty" db:"weekly_limit"`
	MonthlyLimit *int64 `json:"monthly_limit,omitempty" db:"monthly_limit"`

	// ValidityDays counts from the account's activation anchor.
	ValidityDays *int `json:"validity_days,omitempty" db:"validity_days"`

	SessionTimeout int64 `json:"session_timeout" db:"session_timeout"` // seconds, 0 = unset
	IdleTimeout    int64 `json:"idle_timeout" db:"idle_timeout"`       // seconds, 0 = unset
	MaxSessions    int   `json:"max_sessions" db:"max_sessions"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// RateLimit renders the shaping string pushed to the NAS via the RADIUS
// reply attribute, e.g. "10M/20M" (upload/download). Empty when no ceiling
// is configured.
func (p *Profile) RateLimit() string {
	if p.UploadMbit <= 0 && p.DownloadMbit <= 0 {
		return ""
	}
	return fmt.Sprintf("%dM/%dM", p.UploadMbit, p.DownloadMbit)
}

// Validate checks administrative input before it is persisted.
func (p *Profile) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("%w: profile name is required", ErrValidation)
	}
	if !p.Mode.Valid() {
		return fmt.Errorf("%w: unknown quota mode %q", ErrValidation, p.Mode)
	}
	if p.Mode != QuotaUnlimited && p.QuotaBytes <= 0 {
		return fmt.Errorf("%w: quota mode %s requires a positive quota_bytes", ErrValidation, p.Mode)
	}
	for name, v := range map[string]*int64{
		"daily_limit":   p.DailyLimit,
		"weekly_limit":  p.WeeklyLimit,
		"monthly_limit": p.MonthlyLimit,
	} {
		if v != nil && *v <= 0 {
			return fmt.Errorf("%w: %s must be positive when set", ErrValidation, name)
		}
	}
	if p.ValidityDays != nil && *p.ValidityDays <= 0 {
		return fmt.Errorf("%w: validity_days must be positive when set", ErrValidation)
	}
	return nil
}

// Cohort is a named group of accounts sharing an inherited Profile.
// ProfileID may be empty; members then fall through to no policy unless they
// carry a direct profile.
type Cohort struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	ProfileID string    `json:"profile_id,omitempty" db:"profile_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

var (
	ErrValidation = errors.New("policy: validation failed")
	ErrNotFound   = errors.New("policy: not found")
)
