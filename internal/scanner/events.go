package scanner

//go:generate mockgen -source=events.go -destination=mock_events_test.go -package=scanner

// EventSink receives scan events. Calls are made synchronously from worker
// goroutines, so implementations must be safe for concurrent use and should
// not block for long.
type EventSink interface {
	HandleResult(sessionID uint64, outcome ProbeOutcome) error
	HandleProgress(snapshot ProgressSnapshot) error
	HandleSummary(summary Summary) error
}

func (s *Scanner) emitResult(sessionID uint64, outcome ProbeOutcome) {
	for _, sink := range s.sinks {
		if err := sink.HandleResult(sessionID, outcome); err != nil {
			s.logger.Warnw("Failed to deliver result event", "scan_id", sessionID, "ip", outcome.Address, "error", err)
		}
	}
}

func (s *Scanner) emitProgress(snapshot ProgressSnapshot) {
	for _, sink := range s.sinks {
		if err := sink.HandleProgress(snapshot); err != nil {
			s.logger.Warnw("Failed to deliver progress event", "scan_id", snapshot.SessionID, "error", err)
		}
	}
}

func (s *Scanner) emitSummary(summary Summary) {
	for _, sink := range s.sinks {
		if err := sink.HandleSummary(summary); err != nil {
			s.logger.Warnw("Failed to deliver summary event", "scan_id", summary.SessionID, "error", err)
		}
	}
}
