package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"radgate.org/internal/account"
	"radgate.org/internal/ids"
	"radgate.org/internal/policy"
)

// Store persists accounts, policies, usage counters and disconnection
// records in Postgres. State transitions lock the account row for update so
// a concurrent sweep and an administrative action serialize per account.
type Store struct {
	db *sql.DB
}

var _ account.Store = (*Store)(nil)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing handle, used by tests.
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

const accountCols = `username, password, profile_id, cohort_id, state, created_at, updated_at`

func scanAccount(row interface{ Scan(...any) error }) (*account.Account, error) {
	var a account.Account
	err := row.Scan(&a.Username, &a.Password, &a.ProfileID, &a.CohortID, &a.State, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, account.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) Get(ctx context.Context, username string) (*account.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+accountCols+` from accounts where username=$1
	`, username)
	return scanAccount(row)
}

func (s *Store) Create(ctx context.Context, a *account.Account) error {
	if a.State == "" {
		a.State = account.StateUnprovisioned
	}
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = a.CreatedAt
	var inserted string
	err := s.db.QueryRowContext(ctx, `
		insert into accounts(username, password, profile_id, cohort_id, state, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7)
		on conflict (username) do nothing
		returning username
	`, a.Username, a.Password, a.ProfileID, a.CohortID, a.State, a.CreatedAt, a.UpdatedAt).Scan(&inserted)
	if errors.Is(err, sql.ErrNoRows) {
		return account.ErrAlreadyExists
	}
	return err
}

func (s *Store) ListEnabled(ctx context.Context) ([]*account.Account, error) {
	return s.list(ctx, `
		select `+accountCols+` from accounts where state=$1 order by username
	`, account.StateActive)
}

func (s *Store) ListByCohort(ctx context.Context, cohortID string) ([]*account.Account, error) {
	return s.list(ctx, `
		select `+accountCols+` from accounts where cohort_id=$1 order by username
	`, cohortID)
}

func (s *Store) list(ctx context.Context, query string, args ...any) ([]*account.Account, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*account.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (s *Store) ListUsernames(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `select username from accounts order by username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

func (s *Store) Catalog(ctx context.Context) (*policy.Snapshot, error) {
	snap := &policy.Snapshot{
		Profiles: map[string]*policy.Profile{},
		Cohorts:  map[string]*policy.Cohort{},
	}

	rows, err := s.db.QueryContext(ctx, `
		select id, name, upload_mbit, download_mbit, quota_mode, quota_bytes,
		       daily_limit, weekly_limit, monthly_limit, validity_days,
		       session_timeout, idle_timeout, max_sessions, created_at, updated_at
		from profiles
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var p policy.Profile
		if err := rows.Scan(&p.ID, &p.Name, &p.UploadMbit, &p.DownloadMbit, &p.Mode, &p.QuotaBytes,
			&p.DailyLimit, &p.WeeklyLimit, &p.MonthlyLimit, &p.ValidityDays,
			&p.SessionTimeout, &p.IdleTimeout, &p.MaxSessions, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		snap.Profiles[p.ID] = &p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	crows, err := s.db.QueryContext(ctx, `
		select id, name, coalesce(profile_id,''), created_at, updated_at from cohorts
	`)
	if err != nil {
		return nil, err
	}
	defer crows.Close()
	for crows.Next() {
		var c policy.Cohort
		if err := crows.Scan(&c.ID, &c.Name, &c.ProfileID, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		snap.Cohorts[c.ID] = &c
	}
	return snap, crows.Err()
}

// SaveProfile upserts a policy profile.
func (s *Store) SaveProfile(ctx context.Context, p *policy.Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if p.ID == "" {
		p.ID = ids.New()
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, `
		insert into profiles(id, name, upload_mbit, download_mbit, quota_mode, quota_bytes,
		                     daily_limit, weekly_limit, monthly_limit, validity_days,
		                     session_timeout, idle_timeout, max_sessions, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		on conflict (id) do update set
			name=excluded.name, upload_mbit=excluded.upload_mbit, download_mbit=excluded.download_mbit,
			quota_mode=excluded.quota_mode, quota_bytes=excluded.quota_bytes,
			daily_limit=excluded.daily_limit, weekly_limit=excluded.weekly_limit,
			monthly_limit=excluded.monthly_limit, validity_days=excluded.validity_days,
			session_timeout=excluded.session_timeout, idle_timeout=excluded.idle_timeout,
			max_sessions=excluded.max_sessions, updated_at=excluded.updated_at
	`, p.ID, p.Name, p.UploadMbit, p.DownloadMbit, p.Mode, p.QuotaBytes,
		p.DailyLimit, p.WeeklyLimit, p.MonthlyLimit, p.ValidityDays,
		p.SessionTimeout, p.IdleTimeout, p.MaxSessions, p.CreatedAt, p.UpdatedAt)
	return err
}

// SaveCohort upserts a cohort.
func (s *Store) SaveCohort(ctx context.Context, c *policy.Cohort) error {
	if c.ID == "" {
		c.ID = ids.New()
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, `
		insert into cohorts(id, name, profile_id, created_at, updated_at)
		values ($1,$2,nullif($3,''),$4,$5)
		on conflict (id) do update set
			name=excluded.name, profile_id=excluded.profile_id, updated_at=excluded.updated_at
	`, c.ID, c.Name, c.ProfileID, c.CreatedAt, c.UpdatedAt)
	return err
}

const usageCols = `username, activated_at, today_bytes, week_bytes, month_bytes, lifetime_bytes,
       today_reset_at, week_reset_at, month_reset_at, updated_at`

func (s *Store) UsageRecord(ctx context.Context, username string) (*account.UsageRecord, error) {
	var r account.UsageRecord
	err := s.db.QueryRowContext(ctx, `
		select `+usageCols+` from usage_records where username=$1
	`, username).Scan(&r.Username, &r.ActivatedAt, &r.TodayBytes, &r.WeekBytes, &r.MonthBytes,
		&r.LifetimeBytes, &r.TodayResetAt, &r.WeekResetAt, &r.MonthResetAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, account.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) SaveUsage(ctx context.Context, rec *account.UsageRecord) error {
	_, err := s.db.ExecContext(ctx, `
		update usage_records set
			today_bytes=$2, week_bytes=$3, month_bytes=$4, lifetime_bytes=$5,
			today_reset_at=$6, week_reset_at=$7, month_reset_at=$8, updated_at=$9
		where username=$1
	`, rec.Username, rec.TodayBytes, rec.WeekBytes, rec.MonthBytes, rec.LifetimeBytes,
		rec.TodayResetAt, rec.WeekResetAt, rec.MonthResetAt, rec.UpdatedAt)
	return err
}

const recordCols = `id, username, reason, detail, quota_used, quota_limit,
       disconnected_at, reconnected_at, coalesce(reconnected_by,''), active`

func scanRecord(row interface{ Scan(...any) error }) (*account.DisconnectionRecord, error) {
	var r account.DisconnectionRecord
	err := row.Scan(&r.ID, &r.Username, &r.Reason, &r.Detail, &r.QuotaUsed, &r.QuotaLimit,
		&r.DisconnectedAt, &r.ReconnectedAt, &r.ReconnectedBy, &r.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, account.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) ActiveDisconnection(ctx context.Context, username string) (*account.DisconnectionRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+recordCols+` from disconnection_records where username=$1 and active
	`, username)
	return scanRecord(row)
}

func (s *Store) GetDisconnection(ctx context.Context, id string) (*account.DisconnectionRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+recordCols+` from disconnection_records where id=$1
	`, id)
	return scanRecord(row)
}

func (s *Store) ListDisconnections(ctx context.Context, username string, limit int) ([]*account.DisconnectionRecord, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		select `+recordCols+` from disconnection_records
		where username=$1 order by disconnected_at desc limit $2
	`, username, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*account.DisconnectionRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, r)
	}
	return res, rows.Err()
}

func (s *Store) MarkProvisioned(ctx context.Context, username string, activatedAt time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := lockAccount(ctx, tx, username); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		update accounts set state=$2, updated_at=$3 where username=$1
	`, username, account.StateActive, activatedAt); err != nil {
		return err
	}
	// The activation anchor is written once; re-provisioning keeps it.
	if _, err := tx.ExecContext(ctx, `
		insert into usage_records(username, activated_at,
			today_reset_at, week_reset_at, month_reset_at, updated_at)
		values ($1,$2,$2,$2,$2,$2)
		on conflict (username) do nothing
	`, username, activatedAt); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) MarkDisabled(ctx context.Context, rec *account.DisconnectionRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := lockAccount(ctx, tx, rec.Username); err != nil {
		return err
	}
	var active bool
	if err := tx.QueryRowContext(ctx, `
		select exists(select 1 from disconnection_records where username=$1 and active)
	`, rec.Username).Scan(&active); err != nil {
		return err
	}
	if active {
		return account.ErrAlreadyDisabled
	}

	if rec.ID == "" {
		rec.ID = ids.New()
	}
	rec.Active = true
	if _, err := tx.ExecContext(ctx, `
		insert into disconnection_records(id, username, reason, detail, quota_used, quota_limit, disconnected_at, active)
		values ($1,$2,$3,$4,$5,$6,$7,true)
	`, rec.ID, rec.Username, rec.Reason, rec.Detail, rec.QuotaUsed, rec.QuotaLimit, rec.DisconnectedAt); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		update accounts set state=$2, updated_at=$3 where username=$1
	`, rec.Username, account.StateDisabled, rec.DisconnectedAt); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) MarkReactivated(ctx context.Context, recordID, by string, at time.Time) (*account.DisconnectionRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var username string
	var active bool
	err = tx.QueryRowContext(ctx, `
		select username, active from disconnection_records where id=$1
	`, recordID).Scan(&username, &active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, account.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if !active {
		return nil, account.ErrNotDisabled
	}

	if err := lockAccount(ctx, tx, username); err != nil {
		return nil, err
	}
	row := tx.QueryRowContext(ctx, `
		update disconnection_records
		set active=false, reconnected_at=$2, reconnected_by=$3
		where id=$1
		returning `+recordCols+`
	`, recordID, at, by)
	rec, err := scanRecord(row)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `
		update accounts set state=$2, updated_at=$3 where username=$1
	`, username, account.StateActive, at); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return rec, nil
}

func lockAccount(ctx context.Context, tx *sql.Tx, username string) error {
	var dummy int
	err := tx.QueryRowContext(ctx, `
		select 1 from accounts where username=$1 for update
	`, username).Scan(&dummy)
	if errors.Is(err, sql.ErrNoRows) {
		return account.ErrNotFound
	}
	return err
}
