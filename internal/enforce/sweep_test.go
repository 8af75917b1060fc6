package enforce

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"radgate.org/internal/account"
	"radgate.org/internal/policy"
	"radgate.org/internal/provision"
	"radgate.org/internal/radius"
	"radgate.org/internal/syncfail"
	"radgate.org/internal/usage"
)

type world struct {
	accounts *account.InMemory
	radius   *radius.InMemory
	failures *syncfail.InMemory
	engine   *provision.Engine
	sweeper  *Sweeper
	now      time.Time
}

func newWorld(t *testing.T) *world {
	t.Helper()
	w := &world{
		accounts: account.NewInMemory(),
		radius:   radius.NewInMemory(),
		failures: syncfail.NewInMemory(),
		now:      time.Date(2026, 3, 18, 12, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return w.now }
	w.engine = provision.New(w.accounts, w.radius, w.failures, provision.WithClock(clock))
	w.sweeper = NewSweeper(w.accounts, usage.New(w.radius), w.engine,
		WithClock(clock), WithWorkers(2))
	return w
}

func (w *world) addActiveAccount(t *testing.T, username, profileID string) {
	t.Helper()
	err := w.accounts.Create(context.Background(), &account.Account{
		Username: username, Password: "pw", ProfileID: profileID,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.engine.Provision(context.Background(), username); err != nil {
		t.Fatal(err)
	}
}

func (w *world) addTraffic(username string, bytes int64, at time.Time) {
	w.radius.AddSession(radius.Session{
		Username:     username,
		SessionID:    fmt.Sprintf("%s-%d", username, at.UnixNano()),
		OutputOctets: bytes,
		StartTime:    at,
	})
}

func dailyProfile(limit int64) *policy.Profile {
	return &policy.Profile{
		ID: "p-daily", Name: "daily", Mode: policy.QuotaUnlimited,
		DailyLimit: &limit,
	}
}

func TestSweepQuotaBreachScenario(t *testing.T) {
	w := newWorld(t)
	w.accounts.PutProfile(dailyProfile(5 << 30))
	w.addActiveAccount(t, "alice", "p-daily")
	// 6 GiB today against a 5 GiB daily limit.
	w.addTraffic("alice", 6<<30, w.now.Add(-2*time.Hour))
	ctx := context.Background()

	rep, err := w.sweeper.Run(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Checked != 1 || rep.Breached != 1 || rep.Disconnected != 1 {
		t.Fatalf("unexpected report: %+v", rep)
	}

	a, _ := w.accounts.Get(ctx, "alice")
	if a.Enabled() {
		t.Fatal("account still enabled after breach")
	}
	rec, err := w.accounts.ActiveDisconnection(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Reason != account.ReasonDailyLimit {
		t.Fatalf("reason = %s, want daily-limit", rec.Reason)
	}
	if rec.QuotaUsed != 6<<30 || rec.QuotaLimit != 5<<30 {
		t.Fatalf("snapshot: used=%d limit=%d", rec.QuotaUsed, rec.QuotaLimit)
	}
	check, _ := w.radius.Check(ctx, "alice")
	if check.Enabled {
		t.Fatal("credential row still enabled")
	}
}

func TestSweepIdempotent(t *testing.T) {
	w := newWorld(t)
	w.accounts.PutProfile(dailyProfile(1 << 30))
	w.addActiveAccount(t, "alice", "p-daily")
	w.addTraffic("alice", 2<<30, w.now.Add(-time.Hour))
	ctx := context.Background()

	if _, err := w.sweeper.Run(ctx, false); err != nil {
		t.Fatal(err)
	}
	// Second run with no usage change: no new records, no writes.
	rep, err := w.sweeper.Run(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Disconnected != 0 {
		t.Fatalf("second run disconnected again: %+v", rep)
	}

	recs, _ := w.accounts.ListDisconnections(ctx, "alice", 10)
	if len(recs) != 1 {
		t.Fatalf("expected exactly one record, got %d", len(recs))
	}
}

func TestSweepDryRunLeavesStateUntouched(t *testing.T) {
	w := newWorld(t)
	limit := int64(3 << 30)
	w.accounts.PutProfile(&policy.Profile{
		ID: "p-month", Name: "month", Mode: policy.QuotaUnlimited, MonthlyLimit: &limit,
	})
	w.addActiveAccount(t, "alice", "p-month")
	w.addTraffic("alice", 4<<30, w.now.Add(-24*time.Hour))
	ctx := context.Background()

	rep, err := w.sweeper.Run(ctx, true)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Breached != 1 || rep.Disconnected != 0 {
		t.Fatalf("unexpected dry-run report: %+v", rep)
	}

	a, _ := w.accounts.Get(ctx, "alice")
	if !a.Enabled() {
		t.Fatal("dry run disabled an account")
	}
	if _, err := w.accounts.ActiveDisconnection(ctx, "alice"); !errors.Is(err, account.ErrNotFound) {
		t.Fatal("dry run created a disconnection record")
	}
}

func TestSweepSkipsAccountsWithoutPolicy(t *testing.T) {
	w := newWorld(t)
	w.addActiveAccount(t, "free", "")
	w.addTraffic("free", 1<<40, w.now.Add(-time.Hour))
	ctx := context.Background()

	rep, err := w.sweeper.Run(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Skipped != 1 || rep.Breached != 0 {
		t.Fatalf("unexpected report: %+v", rep)
	}
	a, _ := w.accounts.Get(ctx, "free")
	if !a.Enabled() {
		t.Fatal("account without policy must never be disconnected")
	}
}

func TestSweepValidityExpiry(t *testing.T) {
	w := newWorld(t)
	days := 30
	w.accounts.PutProfile(&policy.Profile{
		ID: "p-valid", Name: "valid", Mode: policy.QuotaUnlimited, ValidityDays: &days,
	})
	w.addActiveAccount(t, "old", "p-valid")
	ctx := context.Background()

	// Advance the clock past the validity window; no traffic needed.
	w.now = w.now.Add(31 * 24 * time.Hour)

	rep, err := w.sweeper.Run(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Disconnected != 1 {
		t.Fatalf("unexpected report: %+v", rep)
	}
	rec, _ := w.accounts.ActiveDisconnection(ctx, "old")
	if rec == nil || rec.Reason != account.ReasonValidityExpired {
		t.Fatalf("expected validity-expired record, got %+v", rec)
	}
}

func TestSweepAbortsWhenAccountingUnavailable(t *testing.T) {
	w := newWorld(t)
	w.accounts.PutProfile(dailyProfile(5 << 30))
	for i := 0; i < 8; i++ {
		w.addActiveAccount(t, fmt.Sprintf("user-%d", i), "p-daily")
	}
	w.radius.FailReads = errors.New("accounting backend down")

	_, err := w.sweeper.Run(context.Background(), false)
	if !errors.Is(err, ErrAccountingUnavailable) {
		t.Fatalf("err = %v, want ErrAccountingUnavailable", err)
	}

	// Nothing should have been disconnected along the way.
	enabled, _ := w.accounts.ListEnabled(context.Background())
	if len(enabled) != 8 {
		t.Fatalf("%d accounts left enabled, want 8", len(enabled))
	}
}

func TestSweepUpdatesUsageCache(t *testing.T) {
	w := newWorld(t)
	w.accounts.PutProfile(dailyProfile(100 << 30))
	w.addActiveAccount(t, "alice", "p-daily")
	w.addTraffic("alice", 2<<30, w.now.Add(-time.Hour))
	ctx := context.Background()

	if _, err := w.sweeper.Run(ctx, false); err != nil {
		t.Fatal(err)
	}
	rec, err := w.accounts.UsageRecord(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if rec.TodayBytes != 2<<30 || rec.LifetimeBytes != 2<<30 {
		t.Fatalf("cache not refreshed: %+v", rec)
	}
}
