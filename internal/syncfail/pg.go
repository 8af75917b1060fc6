package syncfail

import (
	"context"
	"database/sql"
	"time"

	"radgate.org/internal/ids"
)

// PG implements Ledger on the application database. Claiming uses
// FOR UPDATE SKIP LOCKED inside a single statement, so any number of retry
// workers can poll concurrently without handing out the same entry twice.
type PG struct {
	db *sql.DB
}

var _ Ledger = (*PG)(nil)

func NewPG(db *sql.DB) *PG { return &PG{db: db} }

func (l *PG) Record(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		e.ID = ids.New()
	}
	e.Status = StatusPending
	_, err := l.db.ExecContext(ctx, `
		insert into sync_failures(
			id, target_store, op, entity_type, entity_id, detail, payload,
			status, retry_count, max_retries, next_retry_at
		) values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, e.ID, e.Store, e.Op, e.EntityType, e.EntityID, e.Detail, e.Payload,
		e.Status, e.RetryCount, e.MaxRetries, e.NextRetryAt)
	return err
}

func (l *PG) Claim(ctx context.Context, limit int, now time.Time, visibility time.Duration) ([]*Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx, `
		with due as (
			select id from sync_failures
			where status in ('pending','retrying') and next_retry_at <= $1
			order by next_retry_at
			limit $2
			for update skip locked
		)
		update sync_failures s
		set status = 'retrying', next_retry_at = $3, updated_at = now()
		from due
		where s.id = due.id
		returning s.id, s.target_store, s.op, s.entity_type, s.entity_id,
		          s.detail, s.payload, s.status, s.retry_count, s.max_retries,
		          s.next_retry_at, s.created_at, s.updated_at
	`, now, limit, now.Add(visibility))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Store, &e.Op, &e.EntityType, &e.EntityID,
			&e.Detail, &e.Payload, &e.Status, &e.RetryCount, &e.MaxRetries,
			&e.NextRetryAt, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, &e)
	}
	return res, rows.Err()
}

func (l *PG) Resolve(ctx context.Context, id string, retryCount int, at time.Time) error {
	return l.transition(ctx, id, StatusResolved, retryCount, at)
}

func (l *PG) Reschedule(ctx context.Context, id string, retryCount int, next time.Time) error {
	return l.transition(ctx, id, StatusRetrying, retryCount, next)
}

func (l *PG) Fail(ctx context.Context, id string, retryCount int, at time.Time) error {
	return l.transition(ctx, id, StatusFailed, retryCount, at)
}

func (l *PG) Ignore(ctx context.Context, id string, at time.Time) error {
	res, err := l.db.ExecContext(ctx, `
		update sync_failures set status = 'ignored', updated_at = now() where id = $1
	`, id)
	if err != nil {
		return err
	}
	return affected(res)
}

func (l *PG) List(ctx context.Context, status Status, limit int) ([]*Entry, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	query := `
		select id, target_store, op, entity_type, entity_id, detail, payload,
		       status, retry_count, max_retries, next_retry_at, created_at, updated_at
		from sync_failures
	`
	args := []any{}
	if status != "" {
		query += ` where status = $1 order by created_at limit $2`
		args = append(args, status, limit)
	} else {
		query += ` order by created_at limit $1`
		args = append(args, limit)
	}
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Store, &e.Op, &e.EntityType, &e.EntityID,
			&e.Detail, &e.Payload, &e.Status, &e.RetryCount, &e.MaxRetries,
			&e.NextRetryAt, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, &e)
	}
	return res, rows.Err()
}

func (l *PG) transition(ctx context.Context, id string, st Status, retryCount int, next time.Time) error {
	res, err := l.db.ExecContext(ctx, `
		update sync_failures
		set status = $1, retry_count = $2, next_retry_at = $3, updated_at = now()
		where id = $4
	`, st, retryCount, next, id)
	if err != nil {
		return err
	}
	return affected(res)
}

func affected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
