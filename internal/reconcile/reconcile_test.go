package reconcile

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"radgate.org/internal/account"
	"radgate.org/internal/radius"
)

func seed(t *testing.T) (*account.InMemory, *radius.InMemory, *Reconciler) {
	t.Helper()
	accounts := account.NewInMemory()
	rad := radius.NewInMemory()
	now := time.Date(2026, 3, 18, 3, 0, 0, 0, time.UTC)
	r := New(accounts, rad, WithClock(func() time.Time { return now }))
	return accounts, rad, r
}

func provisionRow(t *testing.T, rad *radius.InMemory, username string) {
	t.Helper()
	err := rad.SetupUser(context.Background(), radius.User{
		Username: username, Password: "pw", Group: radius.DefaultGroup,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestOrphansDiff(t *testing.T) {
	accounts, rad, r := seed(t)
	ctx := context.Background()

	for _, u := range []string{"alice", "bob"} {
		if err := accounts.Create(ctx, &account.Account{Username: u, Password: "pw"}); err != nil {
			t.Fatal(err)
		}
		provisionRow(t, rad, u)
	}
	// Deleted out of band: account gone, credential row left behind.
	provisionRow(t, rad, "zombie")
	provisionRow(t, rad, "ghost")

	orphans, err := r.Orphans(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"ghost", "zombie"}; !reflect.DeepEqual(orphans, want) {
		t.Fatalf("orphans = %v, want %v", orphans, want)
	}
}

func TestRunQuarantinesOrphansOnly(t *testing.T) {
	accounts, rad, r := seed(t)
	ctx := context.Background()

	if err := accounts.Create(ctx, &account.Account{Username: "alice", Password: "pw"}); err != nil {
		t.Fatal(err)
	}
	provisionRow(t, rad, "alice")
	provisionRow(t, rad, "zombie")

	rep, err := r.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Quarantined != 1 || rep.Errors != 0 {
		t.Fatalf("unexpected report: %+v", rep)
	}

	check, err := rad.Check(ctx, "zombie")
	if err != nil {
		t.Fatal(err)
	}
	if check.Enabled {
		t.Fatal("orphan row still enabled")
	}
	if g := rad.Group("zombie"); g != radius.QuarantineGroup {
		t.Fatalf("orphan group = %q, want %q", g, radius.QuarantineGroup)
	}

	// The matched account is untouched.
	check, err = rad.Check(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if !check.Enabled || rad.Group("alice") != radius.DefaultGroup {
		t.Fatal("reconciliation touched a matched account")
	}
}

func TestRunIdempotent(t *testing.T) {
	_, rad, r := seed(t)
	ctx := context.Background()
	provisionRow(t, rad, "zombie")

	if _, err := r.Run(ctx); err != nil {
		t.Fatal(err)
	}
	rep, err := r.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	// The row stays quarantined and is reported again, never deleted.
	if len(rep.Orphans) != 1 || rep.Quarantined != 1 {
		t.Fatalf("unexpected report: %+v", rep)
	}
	if _, err := rad.Check(ctx, "zombie"); err != nil {
		t.Fatal("orphan row was removed")
	}
}

func TestRunCountsWriteFailures(t *testing.T) {
	_, rad, r := seed(t)
	ctx := context.Background()
	provisionRow(t, rad, "zombie")
	rad.FailWrites = errors.New("radius down")

	rep, err := r.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Errors != 1 || rep.Quarantined != 0 {
		t.Fatalf("unexpected report: %+v", rep)
	}
}
