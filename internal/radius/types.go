package radius

import (
	"errors"
	"time"
)

// Attribute names written into the check/reply relations. The NAS consults
// these through the RADIUS server; the engine only ever writes them.
const (
	AttrPassword       = "Cleartext-Password"
	AttrSessionTimeout = "Session-Timeout"
	AttrIdleTimeout    = "Idle-Timeout"
	AttrRateLimit      = "Mikrotik-Rate-Limit"
	AttrTotalOctets    = "Max-Total-Octets"
)

// Group names used for membership rows.
const (
	DefaultGroup    = "default"
	QuarantineGroup = "quarantine"
)

// Attribute is one reply-attribute row value.
type Attribute struct {
	Name  string
	Value string
}

// User is the desired materialized state for one account: a credential row,
// a set of reply attributes and a group membership.
type User struct {
	Username string
	Password string
	Group    string
	Replies  []Attribute
}

// CheckRow mirrors the credential relation.
type CheckRow struct {
	Username  string `db:"username"`
	Attribute string `db:"attribute"`
	Value     string `db:"value"`
	Enabled   bool   `db:"enabled"`
}

// Octets carries summed byte counters from the accounting relation. The
// 32-bit overflow columns ("gigawords") are kept separate so the caller can
// reconstruct the true total.
type Octets struct {
	Input           int64 `db:"input_octets"`
	Output          int64 `db:"output_octets"`
	InputGigawords  int64 `db:"input_gigawords"`
	OutputGigawords int64 `db:"output_gigawords"`
}

// Total reconstructs the full byte count: counter + overflow * 2^32.
func (o Octets) Total() int64 {
	return o.Input + o.Output + (o.InputGigawords+o.OutputGigawords)<<32
}

// Session mirrors one accounting row; used by tests and the ops endpoints.
type Session struct {
	Username        string     `db:"username"`
	SessionID       string     `db:"session_id"`
	InputOctets     int64      `db:"input_octets"`
	OutputOctets    int64      `db:"output_octets"`
	InputGigawords  int64      `db:"input_gigawords"`
	OutputGigawords int64      `db:"output_gigawords"`
	StartTime       time.Time  `db:"start_time"`
	StopTime        *time.Time `db:"stop_time"`
}

var (
	// ErrNoCredential reports a consistency violation: an operation assumed a
	// credential row that does not exist.
	ErrNoCredential = errors.New("radius: no credential row for user")
)
