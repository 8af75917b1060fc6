package radius

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
)

// PG implements Store and Accounting over the RADIUS server's SQL schema
// (radcheck / radreply / radusergroup / radacct).
type PG struct {
	db *sqlx.DB
}

var (
	_ Store      = (*PG)(nil)
	_ Accounting = (*PG)(nil)
)

// Open connects to the RADIUS database.
func Open(dsn string) (*PG, error) {
	db, err := sqlx.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(15 * time.Minute)
	return &PG{db: db}, nil
}

// NewPG wraps an existing connection; used by tests.
func NewPG(db *sqlx.DB) *PG { return &PG{db: db} }

func (p *PG) Close() error { return p.db.Close() }

// DB exposes the underlying handle for health probes.
func (p *PG) DB() *sqlx.DB { return p.db }

func (p *PG) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *PG) SetupUser(ctx context.Context, u User) error {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		insert into radcheck(username, attribute, value, enabled)
		values ($1,$2,$3,true)
		on conflict (username, attribute) do update
		set value = excluded.value, enabled = true
	`, u.Username, AttrPassword, u.Password); err != nil {
		return err
	}

	// Reply rows are replaced wholesale so stale attributes from a previous
	// profile never linger.
	if _, err := tx.ExecContext(ctx, `delete from radreply where username = $1`, u.Username); err != nil {
		return err
	}
	for _, a := range u.Replies {
		if _, err := tx.ExecContext(ctx, `
			insert into radreply(username, attribute, value) values ($1,$2,$3)
		`, u.Username, a.Name, a.Value); err != nil {
			return err
		}
	}

	group := u.Group
	if group == "" {
		group = DefaultGroup
	}
	if _, err := tx.ExecContext(ctx, `
		insert into radusergroup(username, groupname, priority)
		values ($1,$2,1)
		on conflict (username) do update set groupname = excluded.groupname
	`, u.Username, group); err != nil {
		return err
	}

	return tx.Commit()
}

func (p *PG) DisableUser(ctx context.Context, username string) error {
	return p.setEnabled(ctx, username, false)
}

func (p *PG) EnableUser(ctx context.Context, username string) error {
	return p.setEnabled(ctx, username, true)
}

func (p *PG) setEnabled(ctx context.Context, username string, enabled bool) error {
	res, err := p.db.ExecContext(ctx, `
		update radcheck set enabled = $1 where username = $2 and attribute = $3
	`, enabled, username, AttrPassword)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNoCredential
	}
	return nil
}

func (p *PG) SetGroup(ctx context.Context, username, group string) error {
	_, err := p.db.ExecContext(ctx, `
		insert into radusergroup(username, groupname, priority)
		values ($1,$2,1)
		on conflict (username) do update set groupname = excluded.groupname
	`, username, group)
	return err
}

func (p *PG) Check(ctx context.Context, username string) (*CheckRow, error) {
	var row CheckRow
	err := p.db.GetContext(ctx, &row, `
		select username, attribute, value, enabled
		from radcheck where username = $1 and attribute = $2
	`, username, AttrPassword)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoCredential
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (p *PG) ListUsernames(ctx context.Context) ([]string, error) {
	var names []string
	err := p.db.SelectContext(ctx, &names, `
		select distinct username from radcheck order by username
	`)
	return names, err
}

func (p *PG) TotalsSince(ctx context.Context, username string, from time.Time) (Octets, error) {
	var o Octets
	var err error
	if from.IsZero() {
		err = p.db.GetContext(ctx, &o, `
			select coalesce(sum(input_octets),0)     as input_octets,
			       coalesce(sum(output_octets),0)    as output_octets,
			       coalesce(sum(input_gigawords),0)  as input_gigawords,
			       coalesce(sum(output_gigawords),0) as output_gigawords
			from radacct where username = $1
		`, username)
	} else {
		err = p.db.GetContext(ctx, &o, `
			select coalesce(sum(input_octets),0)     as input_octets,
			       coalesce(sum(output_octets),0)    as output_octets,
			       coalesce(sum(input_gigawords),0)  as input_gigawords,
			       coalesce(sum(output_gigawords),0) as output_gigawords
			from radacct where username = $1 and start_time >= $2
		`, username, from)
	}
	return o, err
}
