package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"radgate.org/internal/account"
	"radgate.org/internal/adminauth"
	"radgate.org/internal/enforce"
	"radgate.org/internal/nas"
	"radgate.org/internal/policy"
	"radgate.org/internal/provision"
	"radgate.org/internal/radius"
	"radgate.org/internal/reconcile"
	"radgate.org/internal/syncfail"
	"radgate.org/internal/usage"
)

type testWorld struct {
	accounts *account.InMemory
	radius   *radius.InMemory
	failures *syncfail.InMemory
	engine   *provision.Engine
	now      time.Time
}

type apiClient struct {
	baseURL string
	client  *http.Client
	token   string
	t       *testing.T
}

func newTestAPI(t *testing.T, opts ...func(*Config)) (*apiClient, *testWorld) {
	t.Helper()

	w := &testWorld{
		accounts: account.NewInMemory(),
		radius:   radius.NewInMemory(),
		failures: syncfail.NewInMemory(),
		now:      time.Date(2026, 3, 18, 12, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return w.now }
	w.engine = provision.New(w.accounts, w.radius, w.failures, provision.WithClock(clock))
	agg := usage.New(w.radius)

	cfg := Config{
		Accounts: w.accounts,
		Engine:   w.engine,
		Sweeper: enforce.NewSweeper(w.accounts, agg, w.engine,
			enforce.WithClock(clock), enforce.WithWorkers(1)),
		Retries:    syncfail.NewWorker(w.failures, w.engine, syncfail.WithClock(clock)),
		Failures:   w.failures,
		Usage:      agg,
		Reconciler: reconcile.New(w.accounts, w.radius),
		Version:    "test",
	}
	for _, o := range opts {
		o(&cfg)
	}

	srv := httptest.NewServer(New(cfg).Handler())
	t.Cleanup(srv.Close)

	return &apiClient{baseURL: srv.URL, client: srv.Client(), t: t}, w
}

func (c *apiClient) do(method, path string, body any) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) post(path string, body any) *http.Response {
	return c.do(http.MethodPost, path, body)
}

func (c *apiClient) get(path string) *http.Response {
	return c.do(http.MethodGet, path, nil)
}

func decode[T any](t *testing.T, resp *http.Response, want int) T {
	t.Helper()
	defer resp.Body.Close()
	if resp.StatusCode != want {
		t.Fatalf("status = %d, want %d", resp.StatusCode, want)
	}
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestHealthz(t *testing.T) {
	c, _ := newTestAPI(t)
	body := decode[map[string]any](t, c.get("/healthz"), http.StatusOK)
	if body["status"] != "ok" || body["service"] != "radgate-api" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestAccountLifecycle(t *testing.T) {
	c, w := newTestAPI(t)
	limit := int64(10 << 30)
	w.accounts.PutProfile(&policy.Profile{
		ID: "p1", Name: "basic", Mode: policy.QuotaUnlimited, DailyLimit: &limit,
	})

	resp := c.post("/v1/accounts", map[string]any{
		"username": "alice", "password": "pw", "profile_id": "p1",
	})
	created := decode[account.Account](t, resp, http.StatusCreated)
	if created.State != account.StateUnprovisioned {
		t.Fatalf("state = %s", created.State)
	}

	activated := decode[account.Account](t, c.post("/v1/accounts/alice/activate", nil), http.StatusOK)
	if activated.State != account.StateActive {
		t.Fatalf("state = %s after activation", activated.State)
	}
	check, err := w.radius.Check(context.Background(), "alice")
	if err != nil || !check.Enabled {
		t.Fatalf("credential row not written: %v", err)
	}

	w.radius.AddSession(radius.Session{
		Username: "alice", SessionID: "s1", OutputOctets: 1 << 30, StartTime: w.now.Add(-time.Hour),
	})
	used := decode[usageResponse](t, c.get("/v1/accounts/alice/usage"), http.StatusOK)
	if used.TodayBytes != 1<<30 || used.LifetimeBytes != 1<<30 {
		t.Fatalf("usage = %+v", used)
	}

	rec := decode[account.DisconnectionRecord](t,
		c.post("/v1/accounts/alice/deactivate", map[string]any{"detail": "fraud review"}),
		http.StatusOK)
	if rec.Reason != account.ReasonManual || !rec.Active {
		t.Fatalf("record = %+v", rec)
	}

	// Deactivating again is idempotent and returns the same record.
	again := decode[account.DisconnectionRecord](t,
		c.post("/v1/accounts/alice/deactivate", nil), http.StatusOK)
	if again.ID != rec.ID {
		t.Fatalf("second deactivate returned %s, want %s", again.ID, rec.ID)
	}

	list := decode[struct {
		Items []account.DisconnectionRecord `json:"items"`
	}](t, c.get("/v1/accounts/alice/disconnections"), http.StatusOK)
	if len(list.Items) != 1 {
		t.Fatalf("expected one record, got %d", len(list.Items))
	}

	reactivated := decode[account.DisconnectionRecord](t,
		c.post("/v1/disconnections/"+rec.ID+"/reactivate", nil), http.StatusOK)
	if reactivated.Active || reactivated.ReconnectedAt == nil {
		t.Fatalf("record not closed: %+v", reactivated)
	}
	acc := decode[account.Account](t, c.get("/v1/accounts/alice"), http.StatusOK)
	if acc.State != account.StateActive {
		t.Fatalf("state = %s after reactivation", acc.State)
	}
}

func TestDeactivateUnknownReason(t *testing.T) {
	c, _ := newTestAPI(t)
	resp := c.post("/v1/accounts/alice/deactivate", map[string]any{"reason": "sunspots"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestActivateUnknownAccount(t *testing.T) {
	c, _ := newTestAPI(t)
	resp := c.post("/v1/accounts/ghost/activate", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestActivateDisabledAccountConflict(t *testing.T) {
	c, w := newTestAPI(t)
	decode[account.Account](t, c.post("/v1/accounts", map[string]any{
		"username": "alice", "password": "pw",
	}), http.StatusCreated)
	decode[account.Account](t, c.post("/v1/accounts/alice/activate", nil), http.StatusOK)
	decode[account.DisconnectionRecord](t, c.post("/v1/accounts/alice/deactivate", nil), http.StatusOK)

	// Activation must not reopen access behind the disconnection record;
	// the caller is pointed at the reactivate operation instead.
	body := decode[map[string]any](t, c.post("/v1/accounts/alice/activate", nil), http.StatusConflict)
	if body["error"] == "" {
		t.Fatal("expected error body")
	}
	a, _ := w.accounts.Get(context.Background(), "alice")
	if a.Enabled() {
		t.Fatal("disabled account re-enabled via activate")
	}
}

func TestCohortActivate(t *testing.T) {
	c, w := newTestAPI(t)
	w.accounts.PutProfile(&policy.Profile{ID: "p1", Name: "basic", Mode: policy.QuotaUnlimited})
	w.accounts.PutCohort(&policy.Cohort{ID: "g1", Name: "dorm-a", ProfileID: "p1"})
	for i := 0; i < 3; i++ {
		u := fmt.Sprintf("user-%d", i)
		if err := w.accounts.Create(context.Background(), &account.Account{
			Username: u, Password: "pw", CohortID: "g1",
		}); err != nil {
			t.Fatal(err)
		}
	}

	res := decode[provision.BatchResult](t, c.post("/v1/cohorts/g1/activate", nil), http.StatusOK)
	if res.ActivatedCount != 3 || res.FailedCount != 0 {
		t.Fatalf("result = %+v", res)
	}

	resp := c.post("/v1/cohorts/missing/activate", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestSweepEndpointDryRun(t *testing.T) {
	c, w := newTestAPI(t)
	limit := int64(1 << 30)
	w.accounts.PutProfile(&policy.Profile{
		ID: "p1", Name: "capped", Mode: policy.QuotaUnlimited, DailyLimit: &limit,
	})
	if err := w.accounts.Create(context.Background(), &account.Account{
		Username: "alice", Password: "pw", ProfileID: "p1",
	}); err != nil {
		t.Fatal(err)
	}
	if err := w.engine.Provision(context.Background(), "alice"); err != nil {
		t.Fatal(err)
	}
	w.radius.AddSession(radius.Session{
		Username: "alice", SessionID: "s1", OutputOctets: 2 << 30, StartTime: w.now.Add(-time.Hour),
	})

	rep := decode[enforce.Report](t, c.post("/v1/sweep?dry_run=true", nil), http.StatusOK)
	if !rep.DryRun || rep.Breached != 1 || rep.Disconnected != 0 {
		t.Fatalf("report = %+v", rep)
	}

	rep = decode[enforce.Report](t, c.post("/v1/sweep", nil), http.StatusOK)
	if rep.Disconnected != 1 {
		t.Fatalf("report = %+v", rep)
	}
}

func TestSyncFailuresListAndRetry(t *testing.T) {
	c, w := newTestAPI(t)
	err := w.failures.Record(context.Background(), &syncfail.Entry{
		Store:      syncfail.StoreRADIUS,
		Op:         syncfail.OpDisableUser,
		EntityType: "account",
		EntityID:   "ghost",
		Detail:     "connection refused",
		MaxRetries: 3,
	})
	if err != nil {
		t.Fatal(err)
	}

	list := decode[struct {
		Items []syncfail.Entry `json:"items"`
	}](t, c.get("/v1/sync-failures?status=pending"), http.StatusOK)
	if len(list.Items) != 1 || list.Items[0].EntityID != "ghost" {
		t.Fatalf("items = %+v", list.Items)
	}

	// The retry worker runs; the entry targets an unknown account so the
	// attempt is consumed rather than resolved.
	rep := decode[syncfail.Report](t, c.post("/v1/sync-failures/retry", nil), http.StatusOK)
	if rep.Claimed != 1 {
		t.Fatalf("report = %+v", rep)
	}

	resp := c.get("/v1/sync-failures?status=bogus")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestOrphansEndpoint(t *testing.T) {
	c, w := newTestAPI(t)
	err := w.radius.SetupUser(context.Background(), radius.User{
		Username: "zombie", Password: "pw", Group: radius.DefaultGroup,
	})
	if err != nil {
		t.Fatal(err)
	}

	body := decode[struct {
		Orphans []string `json:"orphans"`
		Count   int      `json:"count"`
	}](t, c.get("/v1/reconciliation/orphans"), http.StatusOK)
	if body.Count != 1 || body.Orphans[0] != "zombie" {
		t.Fatalf("body = %+v", body)
	}
}

type fakeSessions struct{ items []nas.Session }

func (f fakeSessions) Sessions(ctx context.Context) ([]nas.Session, error) { return f.items, nil }

func TestNASSessions(t *testing.T) {
	c, _ := newTestAPI(t, func(cfg *Config) {
		cfg.NAS = fakeSessions{items: []nas.Session{{Username: "alice", Address: "10.0.0.5"}}}
	})

	body := decode[struct {
		Items []nas.Session `json:"items"`
	}](t, c.get("/v1/nas/sessions"), http.StatusOK)
	if len(body.Items) != 1 || body.Items[0].Username != "alice" {
		t.Fatalf("body = %+v", body)
	}
}

func TestNASSessionsUnconfigured(t *testing.T) {
	c, _ := newTestAPI(t)
	resp := c.get("/v1/nas/sessions")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotImplemented {
		t.Fatalf("status = %d, want 501", resp.StatusCode)
	}
}

func TestAuthGuardsAdminRoutes(t *testing.T) {
	authn, err := adminauth.New("test-secret")
	if err != nil {
		t.Fatal(err)
	}
	c, _ := newTestAPI(t, func(cfg *Config) { cfg.Auth = authn })

	resp := c.get("/v1/sync-failures")
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status without token = %d, want 401", resp.StatusCode)
	}

	// Health stays public.
	resp = c.get("/healthz")
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", resp.StatusCode)
	}

	c.token, err = authn.GenerateToken("ops@example.org", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	resp = c.get("/v1/sync-failures")
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status with token = %d, want 200", resp.StatusCode)
	}
}

func TestRequestIDEchoed(t *testing.T) {
	c, _ := newTestAPI(t)
	resp := c.get("/healthz")
	resp.Body.Close()
	if resp.Header.Get("X-Request-Id") == "" {
		t.Fatal("missing X-Request-Id header")
	}
}
