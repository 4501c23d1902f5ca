// Package daemon provides the HTTP client for the local robot daemon.
//
// The client handles one daemon instance and provides methods for:
//   - Health probes and full state reads
//   - Daemon version/info
//   - App install/remove jobs and job-status polling
//   - Fire-and-forget move commands
//
// Every method bounds its request with a context deadline and converts
// transport failures into classified *Error values (see errors.go); no
// raw net/http errors escape this package.
package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	neturl "net/url"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/robokit-dev/panel/internal/buildinfo"
)

const (
	// DefaultBaseURL is the default daemon endpoint.
	DefaultBaseURL = "http://localhost:8000"
	// DefaultTimeout is the default HTTP request timeout for non-probe
	// calls. Probes carry their own, tighter deadline.
	DefaultTimeout = 10 * time.Second
)

// Client is the daemon API client.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// StateQuery selects which sub-fields of the full state are populated.
// Probes request nothing extra; the UI requests what it renders.
type StateQuery struct {
	Motors  bool
	Sensors bool
	Apps    bool
}

// FullState is the daemon's full state document.
type FullState struct {
	Status        string    `json:"status"`
	UptimeSeconds float64   `json:"uptime_seconds"`
	Motors        *Motors   `json:"motors,omitempty"`
	Sensors       *Sensors  `json:"sensors,omitempty"`
	Apps          []AppInfo `json:"apps,omitempty"`
}

// Healthy reports whether the daemon considers itself operational.
func (s *FullState) Healthy() bool {
	return s.Status == "ok" || s.Status == "running"
}

// Motors is the motor sub-state.
type Motors struct {
	Enabled bool    `json:"enabled"`
	Temp    float64 `json:"temperature_c"`
}

// Sensors is the sensor sub-state.
type Sensors struct {
	CameraOK bool `json:"camera_ok"`
	MicOK    bool `json:"mic_ok"`
}

// AppInfo describes one installed app.
type AppInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Running bool   `json:"running"`
}

// Status is the lightweight daemon info document.
type Status struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	PID     int    `json:"pid,omitempty"`
}

// New creates a new daemon client. The transport is wrapped with
// otelhttp so every call carries a client span when tracing is enabled.
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout:   DefaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// WithHTTPClient replaces the underlying HTTP client (tests).
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// BaseURL returns the configured base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Probe issues one bounded health probe against the full-state endpoint
// with no sub-fields selected. The timeout is enforced via the context
// deadline so a hung daemon surfaces as KindTimeout, not a stuck call.
func (c *Client) Probe(ctx context.Context, timeout time.Duration) (*FullState, error) {
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return c.GetFullState(probeCtx, StateQuery{})
}

// GetFullState reads the daemon state, populating the sub-fields
// selected by q.
func (c *Client) GetFullState(ctx context.Context, q StateQuery) (*FullState, error) {
	const op = "probe"

	endpoint, err := neturl.Parse(c.baseURL + "/state/full")
	if err != nil {
		return nil, fmt.Errorf("parse state endpoint: %w", err)
	}

	query := endpoint.Query()
	if q.Motors {
		query.Set("motors", "1")
	}
	if q.Sensors {
		query.Set("sensors", "1")
	}
	if q.Apps {
		query.Set("apps", "1")
	}
	endpoint.RawQuery = query.Encode()

	req, err := c.newRequest(ctx, http.MethodGet, endpoint.String(), http.NoBody)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classify(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, httpError(op, resp.StatusCode)
	}

	var state FullState
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		return nil, fmt.Errorf("parse daemon state: %w", err)
	}

	return &state, nil
}

// GetStatus reads the lightweight daemon version/info document.
func (c *Client) GetStatus(ctx context.Context) (*Status, error) {
	const op = "daemon status"

	req, err := c.newRequest(ctx, http.MethodGet, c.baseURL+"/daemon/status", http.NoBody)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classify(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, httpError(op, resp.StatusCode)
	}

	var status Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("parse daemon status: %w", err)
	}

	return &status, nil
}

func (c *Client) newRequest(ctx context.Context, method, url string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "panel/"+buildinfo.Version)

	return req, nil
}

func encodeJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
