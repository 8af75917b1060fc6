// Package nas talks to the network access device's JSON management API. All
// calls here are best-effort from the engine's point of view: RADIUS is the
// source of truth for credentials, the device is only nudged so state changes
// take effect before the next reauthentication.
package nas

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"radgate.org/internal/provision"
)

// Session is one active hotspot session as reported by the device.
type Session struct {
	Username   string    `json:"username"`
	Address    string    `json:"address"`
	MACAddress string    `json:"mac_address"`
	StartedAt  time.Time `json:"started_at"`
	BytesIn    int64     `json:"bytes_in"`
	BytesOut   int64     `json:"bytes_out"`
}

// HotspotUser is the device-side mirror of a credential row.
type HotspotUser struct {
	Username string `json:"username"`
	Password string `json:"password,omitempty"`
	Enabled  bool   `json:"enabled"`
	Group    string `json:"group,omitempty"`
}

// Client is a rate-limited HTTP client for the device API. The device's
// management plane is a small embedded server; the limiter keeps bursts of
// cohort operations from knocking it over.
type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
	limiter *rate.Limiter
}

var _ provision.Notifier = (*Client)(nil)

type Option func(*Client)

// WithHTTPClient overrides the underlying transport (tests).
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpc = h }
}

// WithRateLimit bounds outgoing calls to rps requests per second with the
// given burst.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		token:   token,
		httpc:   &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(10), 5),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Sessions lists the device's active hotspot sessions.
func (c *Client) Sessions(ctx context.Context) ([]Session, error) {
	var out []Session
	if err := c.do(ctx, http.MethodGet, "/api/sessions", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// PutUser creates or updates a hotspot user on the device.
func (c *Client) PutUser(ctx context.Context, u HotspotUser) error {
	return c.do(ctx, http.MethodPut, "/api/hotspot/users/"+url.PathEscape(u.Username), u, nil)
}

// RemoveUser deletes a hotspot user from the device.
func (c *Client) RemoveUser(ctx context.Context, username string) error {
	return c.do(ctx, http.MethodDelete, "/api/hotspot/users/"+url.PathEscape(username), nil, nil)
}

// SyncUser flips the enabled flag on the device-side user, implementing the
// engine's notifier hook.
func (c *Client) SyncUser(ctx context.Context, username string, enabled bool) error {
	return c.PutUser(ctx, HotspotUser{Username: username, Enabled: enabled})
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("nas: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := readError(resp.Body)
		return fmt.Errorf("nas: %s %s: device returned %d: %s", method, path, resp.StatusCode, msg)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("nas: decode %s response: %w", path, err)
		}
	}
	return nil
}

func readError(r io.Reader) string {
	var e struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(r, 4096)).Decode(&e); err == nil && e.Error != "" {
		return e.Error
	}
	return "no detail"
}
