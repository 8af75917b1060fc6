// Package reconcile finds credential rows in the RADIUS store that no longer
// have a matching account and quarantines them. Accounts are deleted by an
// external system that does not always clean up the authentication store, so
// the orphans it leaves behind would otherwise keep authenticating forever.
package reconcile

import (
	"context"
	"fmt"
	"sort"
	"time"

	"radgate.org/internal/account"
	"radgate.org/internal/obs"
	"radgate.org/internal/radius"
)

// Reconciler diffs the two username sets. Orphans are disabled and moved to
// the quarantine group; rows are never deleted here, so an account restored
// out of band can be re-provisioned without losing accounting history.
type Reconciler struct {
	accounts account.Store
	radius   radius.Store
	now      func() time.Time
}

type Option func(*Reconciler)

func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

func New(accounts account.Store, rad radius.Store, opts ...Option) *Reconciler {
	r := &Reconciler{accounts: accounts, radius: rad, now: time.Now}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Report summarizes one reconciliation pass.
type Report struct {
	CredentialRows int       `json:"credential_rows"`
	Orphans        []string  `json:"orphans"`
	Quarantined    int       `json:"quarantined"`
	Errors         int       `json:"errors"`
	RanAt          time.Time `json:"ran_at"`
}

// Orphans returns the usernames present in the RADIUS store but absent from
// the account table, without touching anything.
func (r *Reconciler) Orphans(ctx context.Context) ([]string, error) {
	radNames, err := r.radius.ListUsernames(ctx)
	if err != nil {
		return nil, fmt.Errorf("reconcile: list credential rows: %w", err)
	}
	accNames, err := r.accounts.ListUsernames(ctx)
	if err != nil {
		return nil, fmt.Errorf("reconcile: list accounts: %w", err)
	}

	known := make(map[string]struct{}, len(accNames))
	for _, u := range accNames {
		known[u] = struct{}{}
	}
	var orphans []string
	for _, u := range radNames {
		if _, ok := known[u]; !ok {
			orphans = append(orphans, u)
		}
	}
	sort.Strings(orphans)
	return orphans, nil
}

// Run quarantines every orphan found. A row that is already quarantined gets
// the same writes again; both are idempotent upserts so repeated passes
// converge.
func (r *Reconciler) Run(ctx context.Context) (Report, error) {
	rep := Report{RanAt: r.now().UTC()}

	radNames, err := r.radius.ListUsernames(ctx)
	if err != nil {
		return rep, fmt.Errorf("reconcile: list credential rows: %w", err)
	}
	rep.CredentialRows = len(radNames)

	orphans, err := r.Orphans(ctx)
	if err != nil {
		return rep, err
	}
	rep.Orphans = orphans

	for _, u := range orphans {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		if err := r.quarantine(ctx, u); err != nil {
			rep.Errors++
			obs.LogEvent("reconcile_quarantine_error", map[string]any{
				"username": u, "error": err.Error(),
			})
			continue
		}
		rep.Quarantined++
	}

	obs.LogEvent("reconcile_pass", map[string]any{
		"credential_rows": rep.CredentialRows,
		"orphans":         len(rep.Orphans),
		"quarantined":     rep.Quarantined,
		"errors":          rep.Errors,
	})
	return rep, nil
}

func (r *Reconciler) quarantine(ctx context.Context, username string) error {
	if err := r.radius.DisableUser(ctx, username); err != nil {
		return err
	}
	return r.radius.SetGroup(ctx, username, radius.QuarantineGroup)
}
