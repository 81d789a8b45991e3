package api

import "github.com/caihongdao/antbox-monitor/internal/scanner"

// StartScanRequest is the body of POST /api/v1/scan/start. Range and filter
// validation happen in the scanner so every entry point shares it.
type StartScanRequest struct {
	StartIP       string `json:"start_ip" binding:"required"`
	EndIP         string `json:"end_ip" binding:"required"`
	Port          int    `json:"port"`
	Timeout       int    `json:"timeout"` // milliseconds
	MaxConcurrent int    `json:"max_concurrent"`
	ScanType      string `json:"scan_type"`
}

// StopScanRequest is the optional body of POST /api/v1/scan/stop. Without a
// scan id the live scan is stopped.
type StopScanRequest struct {
	ScanID uint64 `json:"scan_id"`
}

// TargetRequest is the body of POST /api/v1/scan/target.
type TargetRequest struct {
	Target   string `json:"target" binding:"required"`
	Port     int    `json:"port"`
	ScanType string `json:"scan_type"`
}

// StartScanResponse is returned once a scan was accepted.
type StartScanResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	ScanID  uint64 `json:"scan_id"`
	Total   int    `json:"total"`
}

// ResultsResponse lists the devices found by a scan.
type ResultsResponse struct {
	ScanID  uint64                 `json:"scan_id"`
	Status  scanner.SessionStatus  `json:"status"`
	Count   int                    `json:"count"`
	Devices []scanner.ProbeOutcome `json:"devices"`
}

// TargetResponse reports a single-host probe.
type TargetResponse struct {
	Target string                `json:"target"`
	Found  bool                  `json:"found"`
	Device *scanner.ProbeOutcome `json:"device,omitempty"`
}

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Error string `json:"error"`
}
