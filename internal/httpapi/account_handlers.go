package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"radgate.org/internal/account"
)

type createAccountRequest struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	ProfileID string `json:"profile_id"`
	CohortID  string `json:"cohort_id"`
}

type deactivateRequest struct {
	Reason string `json:"reason"`
	Detail string `json:"detail"`
}

type usageResponse struct {
	Username      string    `json:"username"`
	TodayBytes    int64     `json:"today_bytes"`
	WeekBytes     int64     `json:"week_bytes"`
	MonthBytes    int64     `json:"month_bytes"`
	LifetimeBytes int64     `json:"lifetime_bytes"`
	ActivatedAt   time.Time `json:"activated_at"`
	AsOf          time.Time `json:"as_of"`
}

func (a *API) handleAccountsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createAccount(w, r)
	default:
		methodNotAllowed(w, r, http.MethodPost)
	}
}

func (a *API) handleAccountResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/accounts/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	username, action, _ := strings.Cut(path, "/")
	if username == "" || strings.Contains(action, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch action {
	case "":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.getAccount(w, r, username)
	case "activate":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.activateAccount(w, r, username)
	case "deactivate":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.deactivateAccount(w, r, username)
	case "usage":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.getUsage(w, r, username)
	case "disconnections":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.listDisconnections(w, r, username)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) createAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	username := strings.TrimSpace(req.Username)
	if username == "" {
		writeError(w, r, http.StatusBadRequest, "username is required")
		return
	}
	if len(username) > 64 {
		writeError(w, r, http.StatusBadRequest, "username must be <=64 characters")
		return
	}
	if req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "password is required")
		return
	}

	acc := &account.Account{
		Username:  username,
		Password:  req.Password,
		ProfileID: strings.TrimSpace(req.ProfileID),
		CohortID:  strings.TrimSpace(req.CohortID),
	}
	if err := a.accounts.Create(r.Context(), acc); err != nil {
		handleEngineError(w, r, err)
		return
	}

	a.audit(r.Context(), "account.create", map[string]any{
		"username":   username,
		"profile_id": acc.ProfileID,
		"cohort_id":  acc.CohortID,
	})

	w.Header().Set("Location", "/v1/accounts/"+username)
	writeJSON(w, http.StatusCreated, acc)
}

func (a *API) getAccount(w http.ResponseWriter, r *http.Request, username string) {
	acc, err := a.accounts.Get(r.Context(), username)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

func (a *API) activateAccount(w http.ResponseWriter, r *http.Request, username string) {
	if err := a.engine.Provision(r.Context(), username); err != nil {
		handleEngineError(w, r, err)
		return
	}
	acc, err := a.accounts.Get(r.Context(), username)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}

	a.audit(r.Context(), "account.activate", map[string]any{"username": username})
	writeJSON(w, http.StatusOK, acc)
}

func (a *API) deactivateAccount(w http.ResponseWriter, r *http.Request, username string) {
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

	rec, err := a.engine.Deprovision(r.Context(), username, disconnectFor(reason, req.Detail))
	if errors.Is(err, account.ErrAlreadyDisabled) {
		// Idempotent from the operator's point of view.
		writeJSON(w, http.StatusOK, rec)
		return
	}
	if err != nil {
		handleEngineError(w, r, err)
		return
	}

	a.audit(r.Context(), "account.deactivate", map[string]any{
		"username": username,
		"reason":   string(reason),
		"detail":   req.Detail,
	})
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) getUsage(w http.ResponseWriter, r *http.Request, username string) {
	rec, err := a.accounts.UsageRecord(r.Context(), username)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}
	totals, err := a.usage.Usage(r.Context(), username, time.Now().UTC())
	if err != nil {
		writeError(w, r, http.StatusBadGateway, "accounting relation unavailable")
		return
	}
	writeJSON(w, http.StatusOK, usageResponse{
		Username:      username,
		TodayBytes:    totals.Today,
		WeekBytes:     totals.Week,
		MonthBytes:    totals.Month,
		LifetimeBytes: totals.Lifetime,
		ActivatedAt:   rec.ActivatedAt,
		AsOf:          totals.AsOf,
	})
}

func (a *API) listDisconnections(w http.ResponseWriter, r *http.Request, username string) {
	limit, err := parsePositiveInt(r.URL.Query().Get("limit"), 100, 1, 1000)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	recs, err := a.accounts.ListDisconnections(r.Context(), username, limit)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": recs,
		"as_of": time.Now().UTC(),
	})
}

func parseReason(raw string) (account.Reason, error) {
	reason := account.Reason(strings.TrimSpace(raw))
	if reason == "" {
		return account.ReasonManual, nil
	}
	switch reason {
	case account.ReasonQuotaExceeded, account.ReasonDailyLimit, account.ReasonWeeklyLimit,
		account.ReasonMonthlyLimit, account.ReasonValidityExpired,
		account.ReasonSessionExpired, account.ReasonManual:
		return reason, nil
	}
	return "", errors.New("unknown reason " + strconv.Quote(raw))
}

func parsePositiveInt(raw string, def, min, max int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("limit must be an integer")
	}
	if val < min || val > max {
		return 0, errors.New("limit must be between 1 and 1000")
	}
	return val, nil
}
