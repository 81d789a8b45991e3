package scanner

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caihongdao/antbox-monitor/internal/config"
)

var (
	// ErrInvalidAddressFormat is returned when a range bound is not a dotted-quad IPv4 address.
	ErrInvalidAddressFormat = errors.New("invalid address format")
	// ErrScanAlreadyRunning is returned by Start while another session is live.
	ErrScanAlreadyRunning = errors.New("scan already running")
	// ErrInvalidScanType is returned for scan type filters other than all, antbox or miner.
	ErrInvalidScanType = errors.New("invalid scan type")
	// ErrRangeTooLarge is returned when a range expands past the configured address ceiling.
	ErrRangeTooLarge = errors.New("address range too large")
	// ErrSessionNotFound is returned for session ids the scanner does not know.
	ErrSessionNotFound = errors.New("scan session not found")
	// ErrProbeAborted is returned by HostProber.Probe when its session was superseded.
	ErrProbeAborted = errors.New("probe aborted")
)

// Category is the device classification bucket of a probed host.
type Category string

const (
	CategoryAntBox  Category = "antbox"
	CategoryMiner   Category = "miner"
	CategoryUnknown Category = "unknown"
)

// Status describes how a host answered.
type Status string

const (
	StatusOnline   Status = "online"
	StatusPingOnly Status = "ping_only"
	StatusAPIOnly  Status = "api_only"
	StatusOffline  Status = "offline"
)

// ScanType filters which device categories a scan is looking for.
type ScanType string

const (
	ScanTypeAll    ScanType = "all"
	ScanTypeAntBox ScanType = "antbox"
	ScanTypeMiner  ScanType = "miner"
)

// ParseScanType validates a scan type name. Empty means all.
func ParseScanType(s string) (ScanType, error) {
	switch ScanType(strings.ToLower(strings.TrimSpace(s))) {
	case "", ScanTypeAll:
		return ScanTypeAll, nil
	case ScanTypeAntBox:
		return ScanTypeAntBox, nil
	case ScanTypeMiner:
		return ScanTypeMiner, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidScanType, s)
	}
}

// Accepts reports whether outcomes of category c pass the filter.
func (t ScanType) Accepts(c Category) bool {
	return t == ScanTypeAll || Category(t) == c
}

// Categories returns the device categories whose API probes the filter allows,
// in precedence order.
func (t ScanType) Categories() []Category {
	switch t {
	case ScanTypeAntBox:
		return []Category{CategoryAntBox}
	case ScanTypeMiner:
		return []Category{CategoryMiner}
	default:
		return []Category{CategoryAntBox, CategoryMiner}
	}
}

// Metadata holds fields opportunistically extracted from a device response.
type Metadata struct {
	Title       string `json:"title,omitempty"`
	Version     string `json:"version,omitempty"`
	Power       string `json:"power,omitempty"`
	Model       string `json:"model,omitempty"`
	Hashrate    string `json:"hashrate,omitempty"`
	Temperature string `json:"temperature,omitempty"`
	API         string `json:"api,omitempty"`
	Note        string `json:"note,omitempty"`
}

// PingMetrics is the reachability measurement reported by the probe service.
type PingMetrics struct {
	Success    bool    `json:"success"`
	LatencyMS  float64 `json:"latency_ms,omitempty"`
	PacketLoss float64 `json:"packet_loss"`
	TTL        int     `json:"ttl,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// ProbeOutcome is the result of probing one address. It is never modified
// after the prober returns it.
type ProbeOutcome struct {
	Address    string       `json:"ip"`
	Port       int          `json:"port"`
	Category   Category     `json:"device_type"`
	Status     Status       `json:"status"`
	Metadata   Metadata     `json:"info"`
	Ping       *PingMetrics `json:"ping,omitempty"`
	DetectedAt time.Time    `json:"detected_at"`
}

// ScanRequest holds the parameters of one scan.
type ScanRequest struct {
	StartAddress string        `json:"start_ip"`
	EndAddress   string        `json:"end_ip"`
	Port         int           `json:"port"`
	Timeout      time.Duration `json:"timeout"`
	Concurrency  int           `json:"max_concurrent"`
	ScanType     ScanType      `json:"scan_type"`
}

const (
	defaultPort        = 80
	defaultTimeout     = 2 * time.Second
	defaultConcurrency = 20
	maxConcurrency     = 999
)

// Normalize validates the request and fills in defaults from cfg. Concurrency above the
// ceiling is clamped to it; concurrency below one falls back to the default.
func (r ScanRequest) Normalize(cfg config.ScannerConfig) (ScanRequest, error) {
	if _, err := parseIPv4(r.StartAddress); err != nil {
		return r, err
	}
	if _, err := parseIPv4(r.EndAddress); err != nil {
		return r, err
	}

	raw := string(r.ScanType)
	if strings.TrimSpace(raw) == "" {
		raw = cfg.ScanType
	}
	scanType, err := ParseScanType(raw)
	if err != nil {
		return r, err
	}
	r.ScanType = scanType

	if r.Port <= 0 || r.Port > 65535 {
		r.Port = cfg.Port
		if r.Port <= 0 || r.Port > 65535 {
			r.Port = defaultPort
		}
	}

	if r.Timeout <= 0 {
		r.Timeout = time.Duration(cfg.Timeout) * time.Millisecond
		if r.Timeout <= 0 {
			r.Timeout = defaultTimeout
		}
	}

	ceiling := cfg.MaxConcurrency
	if ceiling <= 0 || ceiling > maxConcurrency {
		ceiling = maxConcurrency
	}
	switch {
	case r.Concurrency > ceiling:
		r.Concurrency = ceiling
	case r.Concurrency < 1:
		r.Concurrency = cfg.Concurrency
		if r.Concurrency < 1 || r.Concurrency > ceiling {
			r.Concurrency = defaultConcurrency
		}
	}

	return r, nil
}
