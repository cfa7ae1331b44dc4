// Package actuator implements the thin HTTP client over a greenhouse pump
// node.
package actuator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/trellis-farm/trellis/internal/netutil"
)

// ObserveFunc receives the round-trip latency of each actuator call.
type ObserveFunc func(host string, latency time.Duration)

// Config configures a Client.
type Config struct {
	Timeout time.Duration // per-call; default 10s
	Observe ObserveFunc   // optional latency hook
}

// Client talks to pump actuator nodes. One client serves all greenhouses;
// the endpoint is passed per call. Writes are never retried: retrying an
// actuator write without reading back is unsafe.
type Client struct {
	timeout    time.Duration
	observe    ObserveFunc
	httpClient *http.Client
}

// NewClient creates an actuator client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		timeout:    timeout,
		observe:    cfg.Observe,
		httpClient: &http.Client{},
	}
}

// ActivatePulse asks the pump at endpoint (host:port) to run for durationMs
// milliseconds. Any non-2xx status is an error.
func (c *Client) ActivatePulse(ctx context.Context, endpoint string, durationMs int) error {
	if durationMs <= 0 {
		return fmt.Errorf("actuator: duration_ms must be positive, got %d", durationMs)
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(map[string]int{"duration_ms": durationMs})
	if err != nil {
		return fmt.Errorf("actuator: marshal body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, netutil.BaseURL(endpoint)+"/pump/activate", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("actuator: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.doObserved(req)
	if err != nil {
		return fmt.Errorf("actuator: activate %s: %w", endpoint, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096)) //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("actuator: activate %s: status %d", endpoint, resp.StatusCode)
	}
	return nil
}

// Deactivate asks the pump to stop immediately. Best-effort; used during
// shutdown to leave the pump in a known state.
func (c *Client) Deactivate(ctx context.Context, endpoint string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, netutil.BaseURL(endpoint)+"/pump/deactivate", nil)
	if err != nil {
		return fmt.Errorf("actuator: build request: %w", err)
	}
	resp, err := c.doObserved(req)
	if err != nil {
		return fmt.Errorf("actuator: deactivate %s: %w", endpoint, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096)) //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("actuator: deactivate %s: status %d", endpoint, resp.StatusCode)
	}
	return nil
}

// PumpStatus fetches the pump's diagnostic status. The payload is opaque to
// the controller and surfaced as-is in analyze responses.
func (c *Client) PumpStatus(ctx context.Context, endpoint string) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, netutil.BaseURL(endpoint)+"/pump/status", nil)
	if err != nil {
		return nil, fmt.Errorf("actuator: build request: %w", err)
	}
	resp, err := c.doObserved(req)
	if err != nil {
		return nil, fmt.Errorf("actuator: status %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("actuator: status %s: status %d", endpoint, resp.StatusCode)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, fmt.Errorf("actuator: read status: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("actuator: decode status: %w", err)
	}
	return out, nil
}

func (c *Client) doObserved(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if c.observe != nil && err == nil {
		c.observe(req.URL.Host, time.Since(start))
	}
	return resp, err
}
