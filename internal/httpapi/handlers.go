// Package httpapi is the administrative HTTP surface: account and cohort
// activation, manual reconnections, sweep and retry triggers, and the
// operational read endpoints.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"radgate.org/internal/account"
	"radgate.org/internal/adminauth"
	"radgate.org/internal/audit"
	"radgate.org/internal/enforce"
	"radgate.org/internal/nas"
	"radgate.org/internal/obs"
	"radgate.org/internal/policy"
	"radgate.org/internal/provision"
	"radgate.org/internal/radius"
	"radgate.org/internal/reconcile"
	"radgate.org/internal/syncfail"
	"radgate.org/internal/usage"
)

// ReadyProbe reports whether the backing databases answer.
type ReadyProbe struct {
	AppDB    *sql.DB
	RadiusDB interface {
		PingContext(ctx context.Context) error
	}
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.AppDB != nil {
		if err := rp.AppDB.PingContext(ctx); err != nil {
			return err
		}
	}
	if rp.RadiusDB != nil {
		return rp.RadiusDB.PingContext(ctx)
	}
	return nil
}

// SessionLister is the slice of the device client the API needs.
type SessionLister interface {
	Sessions(ctx context.Context) ([]nas.Session, error)
}

// Config carries the engine components the API fronts.
type Config struct {
	Accounts   account.Store
	Engine     *provision.Engine
	Sweeper    *enforce.Sweeper
	Retries    *syncfail.Worker
	Failures   syncfail.Ledger
	Usage      *usage.Aggregator
	Reconciler *reconcile.Reconciler
	NAS        SessionLister // optional
	Auth       *adminauth.Authenticator
	Ready      ReadyProbe
	Version    string
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	accounts   account.Store
	engine     *provision.Engine
	sweeper    *enforce.Sweeper
	retries    *syncfail.Worker
	failures   syncfail.Ledger
	usage      *usage.Aggregator
	reconciler *reconcile.Reconciler
	nas        SessionLister
	authn      *adminauth.Authenticator
	readyProbe ReadyProbe
	version    string
}

func New(cfg Config) *API {
	a := &API{
		mux:        http.NewServeMux(),
		accounts:   cfg.Accounts,
		engine:     cfg.Engine,
		sweeper:    cfg.Sweeper,
		retries:    cfg.Retries,
		failures:   cfg.Failures,
		usage:      cfg.Usage,
		reconciler: cfg.Reconciler,
		nas:        cfg.NAS,
		authn:      cfg.Auth,
		readyProbe: cfg.Ready,
		version:    cfg.Version,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/accounts", a.handleAccountsCollection)
	a.mux.HandleFunc("/v1/accounts/", a.handleAccountResource)
	a.mux.HandleFunc("/v1/cohorts/", a.handleCohortResource)
	a.mux.HandleFunc("/v1/disconnections/", a.handleDisconnectionResource)
	a.mux.HandleFunc("/v1/sweep", a.handleSweep)
	a.mux.HandleFunc("/v1/sync-failures", a.handleSyncFailures)
	a.mux.HandleFunc("/v1/sync-failures/retry", a.handleSyncFailureRetry)
	a.mux.HandleFunc("/v1/reconciliation/orphans", a.handleOrphans)
	a.mux.HandleFunc("/v1/nas/sessions", a.handleNASSessions)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

const (
	maxRequestBody = 1 << 20
	rateBurst      = 100
	ratePerSecond  = 50
)

// Handler wraps the mux with metrics, request ids, logging, security
// headers, per-IP rate limiting, a body-size cap and auth.
func (a *API) Handler() http.Handler {
	h := a.withAuth(a.mux)
	h = MaxBodyBytes(h, maxRequestBody)
	h = RateLimit(h, rateBurst, ratePerSecond)
	h = SecurityHeaders(h)
	h = Logging(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "radgate-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "radgate-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := audit.RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func handleEngineError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, policy.ErrValidation):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, account.ErrNotFound),
		errors.Is(err, policy.ErrNotFound),
		errors.Is(err, syncfail.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, account.ErrAlreadyExists),
		errors.Is(err, account.ErrAlreadyDisabled),
		errors.Is(err, account.ErrNotDisabled),
		errors.Is(err, radius.ErrNoCredential),
		errors.Is(err, provision.ErrBatchAborted):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, provision.ErrCohortNoProfile):
		writeError(w, r, http.StatusUnprocessableEntity, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func (a *API) audit(ctx context.Context, event string, fields map[string]any) {
	if err := audit.LogEvent(ctx, event, fields); err != nil {
		obs.LogEvent("audit_log_error", map[string]any{"event": event, "error": err.Error()})
	}
}
