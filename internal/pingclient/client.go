// Package pingclient talks to the external probe service that performs ICMP
// reachability checks on behalf of the scanner.
package pingclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrDisabled is returned when no probe service is configured.
var ErrDisabled = errors.New("ping service not configured")

// Request is the payload accepted by the probe service.
type Request struct {
	IP      string `json:"ip"`
	Count   int    `json:"count"`
	Timeout int    `json:"timeout"` // seconds per echo
}

// Result is the probe service answer for a single address.
type Result struct {
	Success    bool    `json:"success"`
	Latency    float64 `json:"latency"`     // milliseconds
	PacketLoss float64 `json:"packet_loss"` // percent
	TTL        int     `json:"ttl"`
	Error      string  `json:"error,omitempty"`
}

// Failed builds the result recorded when the probe service could not be used.
func Failed(err error) Result {
	r := Result{PacketLoss: 100}
	if err != nil {
		r.Error = err.Error()
	}
	return r
}

// Client sends ping requests to the probe service.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *zap.SugaredLogger
}

// New creates a probe service client. An empty baseURL yields a client whose
// Ping always fails with ErrDisabled.
func New(baseURL string, logger *zap.SugaredLogger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// Enabled reports whether a probe service URL is configured.
func (c *Client) Enabled() bool {
	return c.baseURL != ""
}

// Ping asks the probe service to ping req.IP. The call is bounded by the echo
// budget (count * timeout) plus two seconds of slack for the service itself.
func (c *Client) Ping(ctx context.Context, req Request) (Result, error) {
	if !c.Enabled() {
		return Failed(ErrDisabled), ErrDisabled
	}

	body, err := json.Marshal(req)
	if err != nil {
		return Failed(err), fmt.Errorf("failed to marshal ping request: %w", err)
	}

	budget := time.Duration(req.Count*req.Timeout)*time.Second + 2*time.Second
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/ping", bytes.NewReader(body))
	if err != nil {
		return Failed(err), fmt.Errorf("failed to create ping request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return Failed(err), fmt.Errorf("ping request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		err := fmt.Errorf("ping service returned status %d", resp.StatusCode)
		return Failed(err), err
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Failed(err), fmt.Errorf("failed to decode ping response: %w", err)
	}

	c.logger.Debugw("Ping completed",
		"ip", req.IP,
		"success", result.Success,
		"latency_ms", result.Latency,
	)
	return result, nil
}
