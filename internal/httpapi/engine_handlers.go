package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"radgate.org/internal/account"
	"radgate.org/internal/adminauth"
	"radgate.org/internal/provision"
	"radgate.org/internal/syncfail"
)

func disconnectFor(reason account.Reason, detail string) provision.Disconnect {
	return provision.Disconnect{Reason: reason, Detail: detail}
}

func (a *API) handleCohortResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/cohorts/")
	cohortID, action, _ := strings.Cut(path, "/")
	if cohortID == "" || strings.Contains(action, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	switch action {
	case "activate":
		a.activateCohort(w, r, cohortID)
	case "deactivate":
		a.deactivateCohort(w, r, cohortID)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) activateCohort(w http.ResponseWriter, r *http.Request, cohortID string) {
	res, err := a.engine.ProvisionCohort(r.Context(), cohortID)
	if errors.Is(err, provision.ErrBatchAborted) {
		// The partial result explains what was rolled back.
		a.audit(r.Context(), "cohort.activate.aborted", map[string]any{
			"cohort_id": cohortID, "failed": res.FailedCount,
		})
		writeJSON(w, http.StatusConflict, res)
		return
	}
	if err != nil {
		handleEngineError(w, r, err)
		return
	}

	a.audit(r.Context(), "cohort.activate", map[string]any{
		"cohort_id": cohortID,
		"activated": res.ActivatedCount,
		"failed":    res.FailedCount,
	})
	writeJSON(w, http.StatusOK, res)
}

func (a *API) deactivateCohort(w http.ResponseWriter, r *http.Request, cohortID string) {
	req := deactivateRequest{Reason: string(account.ReasonManual)}
	if r.ContentLength > 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
	}
	reason, err := parseReason(req.Reason)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	res, err := a.engine.DeprovisionCohort(r.Context(), cohortID, disconnectFor(reason, req.Detail))
	if errors.Is(err, provision.ErrBatchAborted) {
		a.audit(r.Context(), "cohort.deactivate.aborted", map[string]any{
			"cohort_id": cohortID, "failed": res.FailedCount,
		})
		writeJSON(w, http.StatusConflict, res)
		return
	}
	if err != nil {
		handleEngineError(w, r, err)
		return
	}

	a.audit(r.Context(), "cohort.deactivate", map[string]any{
		"cohort_id":   cohortID,
		"deactivated": res.ActivatedCount,
		"failed":      res.FailedCount,
		"reason":      string(reason),
	})
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleDisconnectionResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/disconnections/")
	recordID, action, _ := strings.Cut(path, "/")
	if recordID == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch action {
	case "":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		rec, err := a.accounts.GetDisconnection(r.Context(), recordID)
		if err != nil {
			handleEngineError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	case "reactivate":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.reactivate(w, r, recordID)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) reactivate(w http.ResponseWriter, r *http.Request, recordID string) {
	operator, _ := adminauth.OperatorFromContext(r.Context())
	if operator == "" {
		operator = "unknown"
	}

	rec, err := a.engine.Reactivate(r.Context(), recordID, operator)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}

	a.audit(r.Context(), "disconnection.reactivate", map[string]any{
		"record_id": recordID,
		"username":  rec.Username,
	})
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) handleSweep(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	dryRun := false
	switch v := strings.TrimSpace(r.URL.Query().Get("dry_run")); v {
	case "", "false", "0":
	case "true", "1":
		dryRun = true
	default:
		writeError(w, r, http.StatusBadRequest, "dry_run must be true or false")
		return
	}

	rep, err := a.sweeper.Run(r.Context(), dryRun)
	if err != nil {
		// Report what was covered before the abort alongside the error.
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"error":  err.Error(),
			"report": rep,
		})
		return
	}

	a.audit(r.Context(), "sweep.run", map[string]any{
		"dry_run":      dryRun,
		"checked":      rep.Checked,
		"disconnected": rep.Disconnected,
	})
	writeJSON(w, http.StatusOK, rep)
}

func (a *API) handleSyncFailures(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	limit, err := parsePositiveInt(r.URL.Query().Get("limit"), 100, 1, 1000)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	status := syncfail.Status(strings.TrimSpace(r.URL.Query().Get("status")))
	switch status {
	case "", syncfail.StatusPending, syncfail.StatusRetrying, syncfail.StatusResolved,
		syncfail.StatusFailed, syncfail.StatusIgnored:
	default:
		writeError(w, r, http.StatusBadRequest, "unknown status")
		return
	}

	entries, err := a.failures.List(r.Context(), status, limit)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": entries,
		"as_of": time.Now().UTC(),
	})
}

func (a *API) handleSyncFailureRetry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	rep, err := a.retries.Run(r.Context())
	if err != nil {
		handleEngineError(w, r, err)
		return
	}

	a.audit(r.Context(), "sync_failures.retry", map[string]any{
		"claimed":  rep.Claimed,
		"resolved": rep.Resolved,
		"failed":   rep.Failed,
	})
	writeJSON(w, http.StatusOK, rep)
}

func (a *API) handleOrphans(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	orphans, err := a.reconciler.Orphans(r.Context())
	if err != nil {
		writeError(w, r, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"orphans": orphans,
		"count":   len(orphans),
		"as_of":   time.Now().UTC(),
	})
}

func (a *API) handleNASSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if a.nas == nil {
		writeError(w, r, http.StatusNotImplemented, "no network access device configured")
		return
	}
	sessions, err := a.nas.Sessions(r.Context())
	if err != nil {
		writeError(w, r, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": sessions,
		"as_of": time.Now().UTC(),
	})
}
