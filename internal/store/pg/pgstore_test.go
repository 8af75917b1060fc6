package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"radgate.org/internal/account"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	return NewWithDB(db), mock, func() { db.Close() }
}

func TestGetNotFound(t *testing.T) {
	s, mock, done := newMock(t)
	defer done()

	mock.ExpectQuery("select username, password").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"username"}))

	if _, err := s.Get(context.Background(), "ghost"); !errors.Is(err, account.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestCreateDuplicate(t *testing.T) {
	s, mock, done := newMock(t)
	defer done()

	// on conflict do nothing returns no row for a duplicate username.
	mock.ExpectQuery("insert into accounts").
		WithArgs("alice", "pw", "", "", string(account.StateUnprovisioned),
			sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"username"}))

	err := s.Create(context.Background(), &account.Account{Username: "alice", Password: "pw"})
	if !errors.Is(err, account.ErrAlreadyExists) {
		t.Fatalf("err = %v, want ErrAlreadyExists", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestMarkProvisionedLocksRowAndAnchorsOnce(t *testing.T) {
	s, mock, done := newMock(t)
	defer done()
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("select 1 from accounts where username=.. for update").
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectExec("update accounts set state").
		WithArgs("alice", string(account.StateActive), at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into usage_records").
		WithArgs("alice", at).
		WillReturnResult(sqlmock.NewResult(0, 0)) // anchor already present
	mock.ExpectCommit()

	if err := s.MarkProvisioned(context.Background(), "alice", at); err != nil {
		t.Fatal(err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestMarkProvisionedUnknownAccount(t *testing.T) {
	s, mock, done := newMock(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectQuery("select 1 from accounts where username=.. for update").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}))
	mock.ExpectRollback()

	err := s.MarkProvisioned(context.Background(), "ghost", time.Now())
	if !errors.Is(err, account.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestMarkDisabledRejectsSecondActiveRecord(t *testing.T) {
	s, mock, done := newMock(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectQuery("select 1 from accounts where username=.. for update").
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectQuery("select exists").
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	rec := &account.DisconnectionRecord{Username: "alice", Reason: account.ReasonDailyLimit}
	if err := s.MarkDisabled(context.Background(), rec); !errors.Is(err, account.ErrAlreadyDisabled) {
		t.Fatalf("err = %v, want ErrAlreadyDisabled", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestMarkDisabledWritesRecordAndState(t *testing.T) {
	s, mock, done := newMock(t)
	defer done()
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("select 1 from accounts where username=.. for update").
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectQuery("select exists").
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec("insert into disconnection_records").
		WithArgs(sqlmock.AnyArg(), "alice", string(account.ReasonDailyLimit),
			"daily limit reached", int64(6<<30), int64(5<<30), at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("update accounts set state").
		WithArgs("alice", string(account.StateDisabled), at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rec := &account.DisconnectionRecord{
		Username:       "alice",
		Reason:         account.ReasonDailyLimit,
		Detail:         "daily limit reached",
		QuotaUsed:      6 << 30,
		QuotaLimit:     5 << 30,
		DisconnectedAt: at,
	}
	if err := s.MarkDisabled(context.Background(), rec); err != nil {
		t.Fatal(err)
	}
	if rec.ID == "" || !rec.Active {
		t.Fatalf("record not initialized: %+v", rec)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestMarkReactivatedClosesRecord(t *testing.T) {
	s, mock, done := newMock(t)
	defer done()
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	cols := []string{"id", "username", "reason", "detail", "quota_used", "quota_limit",
		"disconnected_at", "reconnected_at", "reconnected_by", "active"}

	mock.ExpectBegin()
	mock.ExpectQuery("select username, active from disconnection_records").
		WithArgs("rec-1").
		WillReturnRows(sqlmock.NewRows([]string{"username", "active"}).AddRow("alice", true))
	mock.ExpectQuery("select 1 from accounts where username=.. for update").
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectQuery("update disconnection_records").
		WithArgs("rec-1", at, "ops@example.org").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			"rec-1", "alice", "daily-limit", "daily limit reached",
			int64(6<<30), int64(5<<30), at.Add(-24*time.Hour), at, "ops@example.org", false))
	mock.ExpectExec("update accounts set state").
		WithArgs("alice", string(account.StateActive), at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rec, err := s.MarkReactivated(context.Background(), "rec-1", "ops@example.org", at)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Active || rec.ReconnectedBy != "ops@example.org" {
		t.Fatalf("record not closed: %+v", rec)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestMarkReactivatedAlreadyClosed(t *testing.T) {
	s, mock, done := newMock(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectQuery("select username, active from disconnection_records").
		WithArgs("rec-1").
		WillReturnRows(sqlmock.NewRows([]string{"username", "active"}).AddRow("alice", false))
	mock.ExpectRollback()

	_, err := s.MarkReactivated(context.Background(), "rec-1", "ops", time.Now())
	if !errors.Is(err, account.ErrNotDisabled) {
		t.Fatalf("err = %v, want ErrNotDisabled", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}
