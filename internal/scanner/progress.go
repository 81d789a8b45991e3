package scanner

import "time"

// SessionStatus is the lifecycle state of a scan session.
type SessionStatus string

const (
	SessionScanning  SessionStatus = "scanning"
	SessionCompleted SessionStatus = "completed"
	SessionStopped   SessionStatus = "stopped"
)

// Counters are the per-session tallies. Offline counts scanned addresses that
// produced no outcome.
type Counters struct {
	Scanned int `json:"scanned"`
	Found   int `json:"found"`
	AntBox  int `json:"antbox"`
	Miner   int `json:"miner"`
	Unknown int `json:"unknown"`
	Offline int `json:"offline"`
}

func (c *Counters) record(outcome *ProbeOutcome) {
	c.Scanned++
	if outcome == nil {
		c.Offline++
		return
	}

	c.Found++
	switch outcome.Category {
	case CategoryAntBox:
		c.AntBox++
	case CategoryMiner:
		c.Miner++
	default:
		c.Unknown++
	}
}

// ProgressSnapshot is a point-in-time view of a session.
type ProgressSnapshot struct {
	SessionID        uint64        `json:"scan_id"`
	Status           SessionStatus `json:"status"`
	StartAddress     string        `json:"start_ip"`
	EndAddress       string        `json:"end_ip"`
	ScanType         ScanType      `json:"scan_type"`
	Total            int           `json:"total"`
	Cursor           int           `json:"cursor"`
	CurrentAddress   string        `json:"current_ip,omitempty"`
	Percent          int           `json:"progress"`
	Counters         Counters      `json:"counters"`
	Throughput       float64       `json:"ips_per_second"`
	ElapsedSeconds   float64       `json:"elapsed_seconds"`
	RemainingSeconds float64       `json:"remaining_seconds"`
	StartedAt        time.Time     `json:"started_at"`
	EndedAt          *time.Time    `json:"ended_at,omitempty"`
}

// Summary is emitted once when a session ends.
type Summary struct {
	SessionID      uint64        `json:"scan_id"`
	Status         SessionStatus `json:"status"`
	StartAddress   string        `json:"start_ip"`
	EndAddress     string        `json:"end_ip"`
	ScanType       ScanType      `json:"scan_type"`
	Total          int           `json:"total"`
	Counters       Counters      `json:"counters"`
	ElapsedSeconds float64       `json:"elapsed_seconds"`
	StartedAt      time.Time     `json:"started_at"`
	EndedAt        time.Time     `json:"ended_at"`
}
