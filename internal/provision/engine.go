package provision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"radgate.org/internal/account"
	"radgate.org/internal/obs"
	"radgate.org/internal/policy"
	"radgate.org/internal/radius"
	"radgate.org/internal/syncfail"
)

const (
	defaultCallTimeout    = 10 * time.Second
	defaultMaxRetries     = 5
	defaultBatchThreshold = 0.5
)

var (
	// ErrCohortNoProfile rejects cohort activation before any write when the
	// cohort carries no profile.
	ErrCohortNoProfile = errors.New("provision: cohort has no profile attached")
	// ErrBatchAborted reports that a batch crossed the failure threshold and
	// was rolled back.
	ErrBatchAborted = errors.New("provision: batch failure threshold exceeded, rolled back")
)

// Notifier pushes hotspot user state to the network access device. Calls are
// best-effort: they happen outside the store transaction and a failure is
// recorded for retry, never propagated.
type Notifier interface {
	SyncUser(ctx context.Context, username string, enabled bool) error
}

// Engine materializes accounts and their effective policy into the RADIUS
// store and reverses that materialization when access is revoked. The RADIUS
// store is always written first; the local account state flips only on
// confirmed success, so the local flags never claim more than the store
// delivers. Every failed external write lands in the sync-failure ledger.
type Engine struct {
	accounts account.Store
	radius   radius.Store
	failures syncfail.Ledger
	nas      Notifier

	now            func() time.Time
	callTimeout    time.Duration
	maxRetries     int
	batchThreshold float64
	defaultGroup   string

	// Serializes concurrent operations on the same username within this
	// process; the store's row lock covers cross-process races.
	locks sync.Map
}

// Option configures the Engine.
type Option func(*Engine)

// WithNAS attaches the network access device client.
func WithNAS(n Notifier) Option {
	return func(e *Engine) { e.nas = n }
}

// WithClock overrides the time source (tests).
func WithClock(fn func() time.Time) Option {
	return func(e *Engine) {
		if fn != nil {
			e.now = fn
		}
	}
}

// WithCallTimeout bounds each external-store call.
func WithCallTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.callTimeout = d
		}
	}
}

// WithMaxRetries sets the retry budget stamped on new sync-failure entries.
func WithMaxRetries(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxRetries = n
		}
	}
}

// WithBatchFailureThreshold sets the failure fraction above which a cohort
// batch is rolled back wholesale.
func WithBatchFailureThreshold(f float64) Option {
	return func(e *Engine) {
		if f > 0 && f <= 1 {
			e.batchThreshold = f
		}
	}
}

// WithDefaultGroup overrides the group written when no profile resolves.
func WithDefaultGroup(g string) Option {
	return func(e *Engine) {
		if g != "" {
			e.defaultGroup = g
		}
	}
}

// New constructs the engine.
func New(accounts account.Store, rad radius.Store, failures syncfail.Ledger, opts ...Option) *Engine {
	e := &Engine{
		accounts:       accounts,
		radius:         rad,
		failures:       failures,
		now:            time.Now,
		callTimeout:    defaultCallTimeout,
		maxRetries:     defaultMaxRetries,
		batchThreshold: defaultBatchThreshold,
		defaultGroup:   radius.DefaultGroup,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Disconnect carries the reason and quota snapshot for a deprovisioning.
type Disconnect struct {
	Reason     account.Reason `json:"reason"`
	Detail     string         `json:"detail"`
	QuotaUsed  int64          `json:"quota_used"`
	QuotaLimit int64          `json:"quota_limit"`
}

// Provision resolves the account's effective profile and writes its
// credential, reply attributes and group membership into the RADIUS store,
// then flips the account to active and anchors its usage record. Idempotent:
// a second call upserts the same rows and leaves the activation anchor alone.
// A disabled account is rejected with account.ErrAlreadyDisabled: its active
// DisconnectionRecord stays the single source of truth for why access is off,
// and re-enabling goes through Reactivate so the record is closed.
func (e *Engine) Provision(ctx context.Context, username string) error {
	unlock := e.lock(username)
	defer unlock()
	return e.provisionLocked(ctx, username)
}

func (e *Engine) provisionLocked(ctx context.Context, username string) error {
	acc, err := e.accounts.Get(ctx, username)
	if err != nil {
		return err
	}
	if _, err := e.accounts.ActiveDisconnection(ctx, username); err == nil {
		return fmt.Errorf("provision %s: %w", username, account.ErrAlreadyDisabled)
	} else if !errors.Is(err, account.ErrNotFound) {
		return err
	}
	cat, err := e.accounts.Catalog(ctx)
	if err != nil {
		return err
	}
	prof := policy.Resolve(acc.ProfileID, acc.CohortID, cat)

	user := radius.User{
		Username: acc.Username,
		Password: acc.Password,
		Group:    e.groupFor(prof),
		Replies:  replyAttributes(prof),
	}

	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	err = e.radius.SetupUser(callCtx, user)
	cancel()
	if err != nil {
		e.recordFailure(ctx, syncfail.StoreRADIUS, syncfail.OpSetupUser, username, nil, err)
		return fmt.Errorf("provision %s: radius setup: %w", username, err)
	}

	if err := e.accounts.MarkProvisioned(ctx, username, e.now().UTC()); err != nil {
		return fmt.Errorf("provision %s: mark provisioned: %w", username, err)
	}

	e.notifyNAS(ctx, username, true)
	return nil
}

// Deprovision flips the credential row off (rows are kept, never deleted),
// moves the account to disabled and appends the active DisconnectionRecord.
// Fail-closed: when the RADIUS write fails the local state is left untouched
// and the attempt is queued for retry. An account that already carries an
// active record is a no-op reported as account.ErrAlreadyDisabled.
func (e *Engine) Deprovision(ctx context.Context, username string, d Disconnect) (*account.DisconnectionRecord, error) {
	unlock := e.lock(username)
	defer unlock()
	return e.deprovisionLocked(ctx, username, d)
}

func (e *Engine) deprovisionLocked(ctx context.Context, username string, d Disconnect) (*account.DisconnectionRecord, error) {
	if rec, err := e.accounts.ActiveDisconnection(ctx, username); err == nil {
		return rec, account.ErrAlreadyDisabled
	} else if !errors.Is(err, account.ErrNotFound) {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	err := e.radius.DisableUser(callCtx, username)
	cancel()
	if err != nil {
		if errors.Is(err, radius.ErrNoCredential) {
			// Consistency violation, not an outage: retrying cannot help,
			// surface it and leave state untouched.
			return nil, fmt.Errorf("deprovision %s: %w", username, err)
		}
		payload, _ := json.Marshal(d)
		e.recordFailure(ctx, syncfail.StoreRADIUS, syncfail.OpDisableUser, username, payload, err)
		return nil, fmt.Errorf("deprovision %s: radius disable: %w", username, err)
	}

	rec := &account.DisconnectionRecord{
		Username:       username,
		Reason:         d.Reason,
		Detail:         d.Detail,
		QuotaUsed:      d.QuotaUsed,
		QuotaLimit:     d.QuotaLimit,
		DisconnectedAt: e.now().UTC(),
	}
	if err := e.accounts.MarkDisabled(ctx, rec); err != nil {
		return nil, fmt.Errorf("deprovision %s: mark disabled: %w", username, err)
	}
	obs.Disconnections.WithLabelValues(string(d.Reason)).Inc()

	e.notifyNAS(ctx, username, false)
	return rec, nil
}

// Reactivate reverses a disconnection: re-enables the credential row, closes
// the record and re-enables the account. Usage counters and the activation
// anchor are untouched, so a validity window is not silently extended.
func (e *Engine) Reactivate(ctx context.Context, recordID, by string) (*account.DisconnectionRecord, error) {
	rec, err := e.accounts.GetDisconnection(ctx, recordID)
	if err != nil {
		return nil, err
	}

	unlock := e.lock(rec.Username)
	defer unlock()

	if !rec.Active {
		return rec, account.ErrNotDisabled
	}

	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	err = e.radius.EnableUser(callCtx, rec.Username)
	cancel()
	if err != nil {
		if errors.Is(err, radius.ErrNoCredential) {
			return nil, fmt.Errorf("reactivate %s: %w", rec.Username, err)
		}
		payload, _ := json.Marshal(map[string]string{"record_id": recordID, "by": by})
		e.recordFailure(ctx, syncfail.StoreRADIUS, syncfail.OpEnableUser, rec.Username, payload, err)
		return nil, fmt.Errorf("reactivate %s: radius enable: %w", rec.Username, err)
	}

	closed, err := e.accounts.MarkReactivated(ctx, recordID, by, e.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("reactivate %s: mark reactivated: %w", rec.Username, err)
	}

	e.notifyNAS(ctx, rec.Username, true)
	return closed, nil
}

func (e *Engine) groupFor(p *policy.Profile) string {
	if p == nil {
		return e.defaultGroup
	}
	return p.Name
}

// replyAttributes derives the reply rows from the effective profile. No
// profile means no policy attributes: the account is provisioned with only a
// credential row and the default group.
func replyAttributes(p *policy.Profile) []radius.Attribute {
	if p == nil {
		return nil
	}
	var attrs []radius.Attribute
	if p.SessionTimeout > 0 {
		attrs = append(attrs, radius.Attribute{Name: radius.AttrSessionTimeout, Value: strconv.FormatInt(p.SessionTimeout, 10)})
	}
	if p.IdleTimeout > 0 {
		attrs = append(attrs, radius.Attribute{Name: radius.AttrIdleTimeout, Value: strconv.FormatInt(p.IdleTimeout, 10)})
	}
	if rl := p.RateLimit(); rl != "" {
		attrs = append(attrs, radius.Attribute{Name: radius.AttrRateLimit, Value: rl})
	}
	if p.Mode != policy.QuotaUnlimited {
		attrs = append(attrs, radius.Attribute{Name: radius.AttrTotalOctets, Value: strconv.FormatInt(p.QuotaBytes, 10)})
	}
	return attrs
}

func (e *Engine) recordFailure(ctx context.Context, store syncfail.TargetStore, op syncfail.Op, username string, payload []byte, cause error) {
	entry := &syncfail.Entry{
		Store:       store,
		Op:          op,
		EntityType:  "account",
		EntityID:    username,
		Detail:      cause.Error(),
		Payload:     payload,
		MaxRetries:  e.maxRetries,
		NextRetryAt: e.now().UTC(),
	}
	if err := e.failures.Record(ctx, entry); err != nil {
		// The ledger itself is on the application database; if even that is
		// down there is nothing durable left to do but log.
		obs.LogEvent("sync_failure_record_lost", map[string]any{
			"entity": username,
			"op":     string(op),
			"cause":  cause.Error(),
			"error":  err.Error(),
		})
		return
	}
	obs.SyncFailures.WithLabelValues(string(store)).Inc()
}

func (e *Engine) notifyNAS(ctx context.Context, username string, enabled bool) {
	if e.nas == nil {
		return
	}
	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	err := e.nas.SyncUser(callCtx, username, enabled)
	cancel()
	if err == nil {
		return
	}
	payload, _ := json.Marshal(map[string]bool{"enabled": enabled})
	e.recordFailure(ctx, syncfail.StoreNAS, syncfail.OpNASSync, username, payload, err)
}

func (e *Engine) lock(username string) func() {
	v, _ := e.locks.LoadOrStore(username, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
