// Package callback reports scan progress, discovered devices and completion
// to an upstream HTTP service.
package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/caihongdao/antbox-monitor/internal/config"
	"github.com/caihongdao/antbox-monitor/internal/scanner"
)

const collectorName = "antbox-scanner"

// Reporter sends scan callbacks. It implements scanner.EventSink.
type Reporter struct {
	progressURL string
	resultURL   string
	completeURL string
	apiKey      string
	throttle    *rate.Limiter
	logger      *zap.SugaredLogger
	client      *http.Client
	sequence    atomic.Int64 // monotonic, lets the receiver drop duplicates
}

// Progress represents a progress update.
type Progress struct {
	ScanID         string  `json:"scan_id"`
	Collector      string  `json:"collector"`
	Sequence       int64   `json:"sequence"`
	Phase          string  `json:"phase"`
	Progress       int     `json:"progress"`
	Scanned        int     `json:"scanned"`
	Total          int     `json:"total"`
	DiscoveryCount int     `json:"discovery_count"`
	CurrentIP      string  `json:"current_ip,omitempty"`
	IPsPerSecond   float64 `json:"ips_per_second"`
	Message        string  `json:"message,omitempty"`
	Timestamp      string  `json:"timestamp"`
}

// Discovery represents a single discovered device.
type Discovery struct {
	EventID   string               `json:"event_id"`
	ScanID    string               `json:"scan_id"`
	Collector string               `json:"collector"`
	Sequence  int64                `json:"sequence"`
	Device    scanner.ProbeOutcome `json:"device"`
	Timestamp string               `json:"timestamp"`
}

// Completion represents a scan completion.
type Completion struct {
	ScanID         string           `json:"scan_id"`
	Collector      string           `json:"collector"`
	Sequence       int64            `json:"sequence"`
	Status         string           `json:"status"` // completed, stopped
	DiscoveryCount int              `json:"discovery_count"`
	Counters       scanner.Counters `json:"counters"`
	ElapsedSeconds float64          `json:"elapsed_seconds"`
	Timestamp      string           `json:"timestamp"`
}

// NewReporter creates a new callback reporter. Progress callbacks are sent at
// most once per cfg.ProgressInterval seconds; zero sends every update.
func NewReporter(cfg config.CallbackConfig, logger *zap.SugaredLogger) *Reporter {
	throttle := rate.NewLimiter(rate.Inf, 1)
	if cfg.ProgressInterval > 0 {
		throttle = rate.NewLimiter(rate.Every(time.Duration(cfg.ProgressInterval)*time.Second), 1)
	}

	return &Reporter{
		progressURL: cfg.ProgressURL,
		resultURL:   cfg.ResultURL,
		completeURL: cfg.CompleteURL,
		apiKey:      cfg.APIKey,
		throttle:    throttle,
		logger:      logger,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Enabled reports whether any callback URL is configured.
func (r *Reporter) Enabled() bool {
	return r.progressURL != "" || r.resultURL != "" || r.completeURL != ""
}

// HandleProgress sends a throttled progress update.
func (r *Reporter) HandleProgress(snapshot scanner.ProgressSnapshot) error {
	if r.progressURL == "" || !r.throttle.Allow() {
		return nil
	}

	payload := Progress{
		ScanID:         scanID(snapshot.SessionID),
		Collector:      collectorName,
		Sequence:       r.sequence.Add(1),
		Phase:          string(snapshot.Status),
		Progress:       snapshot.Percent,
		Scanned:        snapshot.Counters.Scanned,
		Total:          snapshot.Total,
		DiscoveryCount: snapshot.Counters.Found,
		CurrentIP:      snapshot.CurrentAddress,
		IPsPerSecond:   snapshot.Throughput,
		Message:        fmt.Sprintf("Scanned %d of %d addresses", snapshot.Counters.Scanned, snapshot.Total),
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
	}

	return r.sendCallback(r.progressURL, payload)
}

// HandleResult sends a discovered device.
func (r *Reporter) HandleResult(sessionID uint64, outcome scanner.ProbeOutcome) error {
	if r.resultURL == "" {
		return nil
	}

	payload := Discovery{
		EventID:   uuid.New().String(),
		ScanID:    scanID(sessionID),
		Collector: collectorName,
		Sequence:  r.sequence.Add(1),
		Device:    outcome,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	return r.sendCallback(r.resultURL, payload)
}

// HandleSummary sends the completion callback.
func (r *Reporter) HandleSummary(summary scanner.Summary) error {
	if r.completeURL == "" {
		return nil
	}

	payload := Completion{
		ScanID:         scanID(summary.SessionID),
		Collector:      collectorName,
		Sequence:       r.sequence.Add(1),
		Status:         string(summary.Status),
		DiscoveryCount: summary.Counters.Found,
		Counters:       summary.Counters,
		ElapsedSeconds: summary.ElapsedSeconds,
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
	}

	return r.sendCallback(r.completeURL, payload)
}

func scanID(id uint64) string {
	return strconv.FormatUint(id, 10)
}

func (r *Reporter) sendCallback(url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("X-Internal-API-Key", r.apiKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("callback request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("callback to %s returned status %d", url, resp.StatusCode)
	}

	r.logger.Debugw("Callback sent", "url", url, "status", resp.StatusCode)
	return nil
}
