package provision

import (
	"context"
	"errors"
	"fmt"

	"radgate.org/internal/account"
	"radgate.org/internal/obs"
)

// BatchResult reports per-item outcomes of a cohort-wide operation. Callers
// must never assume all-or-nothing success: below the failure threshold,
// successes are kept and failures are queued for retry individually.
type BatchResult struct {
	ActivatedCount int          `json:"activated_count"`
	FailedCount    int          `json:"failed_count"`
	Errors         []BatchError `json:"errors,omitempty"`
	RolledBack     bool         `json:"rolled_back,omitempty"`
}

// BatchError is one account's failure inside a batch.
type BatchError struct {
	Username string `json:"username"`
	Error    string `json:"error"`
}

// ProvisionCohort activates every member of a cohort, one locked account at a
// time. A cohort without a profile is rejected before any write. When the
// fraction of failures exceeds the configured threshold the accounts newly
// activated by this batch are deprovisioned again and ErrBatchAborted is
// returned alongside the per-item detail.
func (e *Engine) ProvisionCohort(ctx context.Context, cohortID string) (BatchResult, error) {
	var res BatchResult

	cat, err := e.accounts.Catalog(ctx)
	if err != nil {
		return res, err
	}
	cohort, ok := cat.Cohort(cohortID)
	if !ok {
		return res, fmt.Errorf("provision cohort %s: %w", cohortID, account.ErrNotFound)
	}
	if cohort.ProfileID == "" {
		return res, fmt.Errorf("provision cohort %s: %w", cohortID, ErrCohortNoProfile)
	}

	members, err := e.accounts.ListByCohort(ctx, cohortID)
	if err != nil {
		return res, err
	}

	var activated []string // members this batch actually turned on
	for _, m := range members {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		wasEnabled := m.Enabled()
		if err := e.Provision(ctx, m.Username); err != nil {
			res.FailedCount++
			res.Errors = append(res.Errors, BatchError{Username: m.Username, Error: err.Error()})
			continue
		}
		res.ActivatedCount++
		if !wasEnabled {
			activated = append(activated, m.Username)
		}
	}

	if e.thresholdExceeded(res.FailedCount, len(members)) {
		e.rollbackActivations(ctx, activated)
		res.RolledBack = true
		return res, fmt.Errorf("%w: %d of %d accounts failed", ErrBatchAborted, res.FailedCount, len(members))
	}
	return res, nil
}

// DeprovisionCohort deactivates every enabled member of a cohort. Members
// already carrying an active disconnection are skipped and counted as
// successes. Above the failure threshold the members disabled by this batch
// are reactivated again and ErrBatchAborted is returned.
func (e *Engine) DeprovisionCohort(ctx context.Context, cohortID string, d Disconnect) (BatchResult, error) {
	var res BatchResult

	cat, err := e.accounts.Catalog(ctx)
	if err != nil {
		return res, err
	}
	if _, ok := cat.Cohort(cohortID); !ok {
		return res, fmt.Errorf("deprovision cohort %s: %w", cohortID, account.ErrNotFound)
	}

	members, err := e.accounts.ListByCohort(ctx, cohortID)
	if err != nil {
		return res, err
	}

	var disabled []string // record IDs created by this batch
	for _, m := range members {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if !m.Provisioned() {
			continue
		}
		rec, err := e.Deprovision(ctx, m.Username, d)
		switch {
		case err == nil:
			res.ActivatedCount++
			disabled = append(disabled, rec.ID)
		case errors.Is(err, account.ErrAlreadyDisabled):
			res.ActivatedCount++
		default:
			res.FailedCount++
			res.Errors = append(res.Errors, BatchError{Username: m.Username, Error: err.Error()})
		}
	}

	if e.thresholdExceeded(res.FailedCount, len(members)) {
		e.rollbackDeactivations(ctx, disabled)
		res.RolledBack = true
		return res, fmt.Errorf("%w: %d of %d accounts failed", ErrBatchAborted, res.FailedCount, len(members))
	}
	return res, nil
}

func (e *Engine) thresholdExceeded(failed, total int) bool {
	if total == 0 || failed == 0 {
		return false
	}
	return float64(failed)/float64(total) > e.batchThreshold
}

func (e *Engine) rollbackActivations(ctx context.Context, usernames []string) {
	for _, u := range usernames {
		_, err := e.Deprovision(ctx, u, Disconnect{
			Reason: account.ReasonManual,
			Detail: "cohort batch rolled back",
		})
		if err != nil && !errors.Is(err, account.ErrAlreadyDisabled) {
			obs.LogEvent("batch_rollback_failed", map[string]any{
				"username": u,
				"error":    err.Error(),
			})
		}
	}
}

func (e *Engine) rollbackDeactivations(ctx context.Context, recordIDs []string) {
	for _, id := range recordIDs {
		_, err := e.Reactivate(ctx, id, "system:batch-rollback")
		if err != nil && !errors.Is(err, account.ErrNotDisabled) {
			obs.LogEvent("batch_rollback_failed", map[string]any{
				"record_id": id,
				"error":     err.Error(),
			})
		}
	}
}
