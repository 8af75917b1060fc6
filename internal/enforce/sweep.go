package enforce

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"radgate.org/internal/account"
	"radgate.org/internal/obs"
	"radgate.org/internal/policy"
	"radgate.org/internal/provision"
	"radgate.org/internal/usage"
)

const (
	defaultWorkers     = 4
	defaultCallTimeout = 15 * time.Second

	// A streak of usage failures this long means the accounting relation is
	// down as a whole; the run aborts cleanly and the next scheduled run
	// starts over.
	abortAfterConsecutiveErrors = 5
)

// ErrAccountingUnavailable aborts a sweep run when the accounting relation
// looks entirely unreachable.
var ErrAccountingUnavailable = errors.New("enforce: accounting relation unavailable, sweep aborted")

// Sweeper is the scheduled enforcement pass. It is idempotent: accounts that
// already carry an active disconnection are skipped, so re-running it without
// a usage change creates no duplicate records and no redundant store writes.
type Sweeper struct {
	accounts account.Store
	agg      *usage.Aggregator
	engine   *provision.Engine

	workers     int
	callTimeout time.Duration
	now         func() time.Time
}

// SweepOption configures the Sweeper.
type SweepOption func(*Sweeper)

// WithWorkers sets per-account parallelism.
func WithWorkers(n int) SweepOption {
	return func(s *Sweeper) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithCallTimeout bounds each per-account usage computation.
func WithCallTimeout(d time.Duration) SweepOption {
	return func(s *Sweeper) {
		if d > 0 {
			s.callTimeout = d
		}
	}
}

// WithClock overrides the time source (tests).
func WithClock(fn func() time.Time) SweepOption {
	return func(s *Sweeper) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewSweeper constructs the enforcement sweep.
func NewSweeper(accounts account.Store, agg *usage.Aggregator, engine *provision.Engine, opts ...SweepOption) *Sweeper {
	s := &Sweeper{
		accounts:    accounts,
		agg:         agg,
		engine:      engine,
		workers:     defaultWorkers,
		callTimeout: defaultCallTimeout,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Report summarizes one sweep run.
type Report struct {
	DryRun       bool      `json:"dry_run"`
	Checked      int       `json:"checked"`
	Breached     int       `json:"breached"`
	Disconnected int       `json:"disconnected"`
	Skipped      int       `json:"skipped"`
	Errors       int       `json:"errors"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
}

// Run sweeps every enabled account: recompute usage from the accounting
// relation, evaluate the effective profile's limits, and deprovision on the
// first breach. In dry-run mode every computation still happens and each
// would-be disconnection is logged, but nothing is written.
func (s *Sweeper) Run(ctx context.Context, dryRun bool) (Report, error) {
	rep := Report{DryRun: dryRun, StartedAt: s.now().UTC()}

	enabled, err := s.accounts.ListEnabled(ctx)
	if err != nil {
		obs.SweepRuns.WithLabelValues("aborted").Inc()
		return rep, fmt.Errorf("enforce: list enabled accounts: %w", err)
	}
	cat, err := s.accounts.Catalog(ctx)
	if err != nil {
		obs.SweepRuns.WithLabelValues("aborted").Inc()
		return rep, fmt.Errorf("enforce: load policy catalog: %w", err)
	}

	var (
		mu          sync.Mutex
		consecutive int
		runErr      error
	)
	jobs := make(chan *account.Account)
	var wg sync.WaitGroup

	workCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for acc := range jobs {
				outcome := s.sweepOne(workCtx, acc, cat, dryRun)

				mu.Lock()
				rep.Checked++
				switch outcome.kind {
				case outcomeBreached:
					rep.Breached++
					if !dryRun {
						rep.Disconnected++
					}
					consecutive = 0
				case outcomeSkipped:
					rep.Skipped++
					consecutive = 0
				case outcomeUsageError:
					rep.Errors++
					consecutive++
					if consecutive >= abortAfterConsecutiveErrors && runErr == nil {
						runErr = ErrAccountingUnavailable
						cancel()
					}
				case outcomeError:
					rep.Errors++
					consecutive = 0
				default:
					consecutive = 0
				}
				mu.Unlock()
			}
		}()
	}

feed:
	for _, acc := range enabled {
		select {
		case jobs <- acc:
		case <-workCtx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	rep.FinishedAt = s.now().UTC()
	obs.SweepAccountsChecked.Add(float64(rep.Checked))

	if runErr == nil {
		runErr = ctx.Err()
	}
	if runErr != nil {
		obs.SweepRuns.WithLabelValues("aborted").Inc()
		return rep, runErr
	}
	obs.SweepRuns.WithLabelValues("ok").Inc()
	return rep, nil
}

type outcomeKind int

const (
	outcomeClean outcomeKind = iota
	outcomeBreached
	outcomeSkipped
	outcomeUsageError
	outcomeError
)

type outcome struct {
	kind outcomeKind
}

func (s *Sweeper) sweepOne(ctx context.Context, acc *account.Account, cat policy.Catalog, dryRun bool) outcome {
	// Idempotence guard: an account that already carries an active record is
	// never touched again, whatever the enabled flag said when listed.
	if _, err := s.accounts.ActiveDisconnection(ctx, acc.Username); err == nil {
		return outcome{kind: outcomeSkipped}
	} else if !errors.Is(err, account.ErrNotFound) {
		return outcome{kind: outcomeError}
	}

	prof := policy.Resolve(acc.ProfileID, acc.CohortID, cat)
	if prof == nil {
		return outcome{kind: outcomeSkipped}
	}

	rec, err := s.accounts.UsageRecord(ctx, acc.Username)
	if err != nil {
		obs.LogEvent("sweep_account_error", map[string]any{
			"username": acc.Username, "stage": "usage_record", "error": err.Error(),
		})
		return outcome{kind: outcomeError}
	}

	asOf := s.now().UTC()
	callCtx, cancelCall := context.WithTimeout(ctx, s.callTimeout)
	totals, err := s.agg.Usage(callCtx, acc.Username, asOf)
	cancelCall()
	if err != nil {
		obs.LogEvent("sweep_account_error", map[string]any{
			"username": acc.Username, "stage": "usage", "error": err.Error(),
		})
		return outcome{kind: outcomeUsageError}
	}

	if !dryRun {
		s.refreshUsageRecord(ctx, rec, totals)
	}

	verdict, breached := Evaluate(prof, totals, rec.ActivatedAt, asOf)
	if !breached {
		return outcome{kind: outcomeClean}
	}

	if dryRun {
		obs.LogEvent("sweep_dry_run_breach", map[string]any{
			"username": acc.Username,
			"reason":   string(verdict.Reason),
			"detail":   verdict.Detail,
			"used":     verdict.Used,
			"limit":    verdict.Limit,
		})
		return outcome{kind: outcomeBreached}
	}

	_, err = s.engine.Deprovision(ctx, acc.Username, provision.Disconnect{
		Reason:     verdict.Reason,
		Detail:     verdict.Detail,
		QuotaUsed:  verdict.Used,
		QuotaLimit: verdict.Limit,
	})
	switch {
	case errors.Is(err, account.ErrAlreadyDisabled):
		return outcome{kind: outcomeSkipped}
	case err != nil:
		obs.LogEvent("sweep_account_error", map[string]any{
			"username": acc.Username, "stage": "deprovision", "error": err.Error(),
		})
		return outcome{kind: outcomeError}
	}

	obs.LogEvent("sweep_disconnected", map[string]any{
		"username": acc.Username,
		"reason":   string(verdict.Reason),
		"detail":   verdict.Detail,
	})
	return outcome{kind: outcomeBreached}
}

// refreshUsageRecord updates the cached counters from the freshly computed
// totals. The cache is informational; failures here do not affect the verdict.
func (s *Sweeper) refreshUsageRecord(ctx context.Context, rec *account.UsageRecord, totals usage.Totals) {
	rec.TodayBytes = totals.Today
	rec.WeekBytes = totals.Week
	rec.MonthBytes = totals.Month
	rec.LifetimeBytes = totals.Lifetime
	rec.TodayResetAt = usage.DayStart(totals.AsOf)
	rec.WeekResetAt = usage.WeekStart(totals.AsOf)
	rec.MonthResetAt = usage.MonthStart(totals.AsOf)
	rec.UpdatedAt = totals.AsOf
	if err := s.accounts.SaveUsage(ctx, rec); err != nil {
		obs.LogEvent("sweep_usage_cache_error", map[string]any{
			"username": rec.Username, "error": err.Error(),
		})
	}
}
