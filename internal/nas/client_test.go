package nas

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newDevice(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *Client) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv, New(srv.URL, "secret", WithRateLimit(1000, 100))
}

func TestSyncUserSendsEnabledFlag(t *testing.T) {
	var got HotspotUser
	var path, auth string
	_, c := newDevice(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		auth = r.Header.Get("Authorization")
		if r.Method != http.MethodPut {
			t.Errorf("method = %s, want PUT", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Error(err)
		}
		w.WriteHeader(http.StatusOK)
	})

	if err := c.SyncUser(context.Background(), "alice", false); err != nil {
		t.Fatal(err)
	}
	if path != "/api/hotspot/users/alice" {
		t.Fatalf("path = %s", path)
	}
	if auth != "Bearer secret" {
		t.Fatalf("auth header = %q", auth)
	}
	if got.Username != "alice" || got.Enabled {
		t.Fatalf("payload = %+v", got)
	}
}

func TestSessionsDecodesList(t *testing.T) {
	_, c := newDevice(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/sessions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"username":"alice","address":"10.0.0.5","bytes_in":1024,"bytes_out":2048}]`))
	})

	sessions, err := c.Sessions(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 1 || sessions[0].Username != "alice" || sessions[0].BytesOut != 2048 {
		t.Fatalf("sessions = %+v", sessions)
	}
}

func TestDeviceErrorSurfacesDetail(t *testing.T) {
	_, c := newDevice(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error":"user busy"}`))
	})

	err := c.RemoveUser(context.Background(), "alice")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "409") || !strings.Contains(err.Error(), "user busy") {
		t.Fatalf("err = %v", err)
	}
}

func TestRateLimiterHonorsContext(t *testing.T) {
	srv, _ := newDevice(t, func(w http.ResponseWriter, r *http.Request) {})
	// Zero-rate limiter: the first call exhausts the burst, the second blocks
	// until the context expires.
	c := New(srv.URL, "", WithRateLimit(0, 1))

	if err := c.SyncUser(context.Background(), "alice", true); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.SyncUser(ctx, "alice", true); err == nil {
		t.Fatal("expected context error from limiter")
	}
}
