package scanner

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// session is the state of one scan. The address list and request are
// immutable; cursor is claimed lock-free; everything else is guarded by mu.
type session struct {
	id        uint64
	request   ScanRequest
	addresses []string
	cursor    atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc

	wg       sync.WaitGroup
	finished sync.Once
	done     chan struct{}
	logEvery rate.Sometimes

	mu        sync.RWMutex
	live      bool
	stopped   bool
	startedAt time.Time
	endedAt   time.Time
	counters  Counters
	outcomes  []ProbeOutcome
}

func newSession(parent context.Context, id uint64, req ScanRequest, addresses []string, logInterval time.Duration) *session {
	ctx, cancel := context.WithCancel(parent)
	return &session{
		id:        id,
		request:   req,
		addresses: addresses,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		logEvery:  rate.Sometimes{Interval: logInterval},
		live:      true,
		startedAt: time.Now(),
	}
}

// claim hands out the next unclaimed index. Each index is returned at most
// once and the cursor never passes len(addresses).
func (s *session) claim() (int, bool) {
	total := int64(len(s.addresses))
	for {
		cur := s.cursor.Load()
		if cur >= total {
			return 0, false
		}
		if s.cursor.CompareAndSwap(cur, cur+1) {
			return int(cur), true
		}
	}
}

func (s *session) isLive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.live
}

// commit records an outcome if the session is still live and current.
// current is evaluated under the session lock so a concurrent stop cannot
// slip in between the check and the write.
func (s *session) commit(outcome *ProbeOutcome, current func() bool) (ProgressSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.live || !current() {
		return ProgressSnapshot{}, false
	}

	s.counters.record(outcome)
	if outcome != nil {
		s.outcomes = append(s.outcomes, *outcome)
	}
	return s.snapshotLocked(time.Now()), true
}

// stop marks the session stopped. It reports false if it already ended.
func (s *session) stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.live {
		return false
	}
	s.live = false
	s.stopped = true
	return true
}

// finish ends the session once all workers exited. It reports false on
// every call after the first.
func (s *session) finish() (Summary, bool) {
	var (
		summary Summary
		ok      bool
	)
	s.finished.Do(func() {
		s.mu.Lock()
		s.live = false
		s.endedAt = time.Now()
		summary = s.summaryLocked()
		s.mu.Unlock()

		s.cancel()
		ok = true
	})
	return summary, ok
}

// release wakes up waiters. Called after the summary has been delivered.
func (s *session) release() {
	close(s.done)
}

func (s *session) status() SessionStatus {
	switch {
	case s.live:
		return SessionScanning
	case s.stopped:
		return SessionStopped
	default:
		return SessionCompleted
	}
}

func (s *session) snapshot() ProgressSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked(time.Now())
}

func (s *session) snapshotLocked(now time.Time) ProgressSnapshot {
	total := len(s.addresses)
	cursor := int(s.cursor.Load())
	if cursor > total {
		cursor = total
	}

	end := now
	var endedAt *time.Time
	if !s.endedAt.IsZero() {
		end = s.endedAt
		t := s.endedAt
		endedAt = &t
	}
	elapsed := end.Sub(s.startedAt).Seconds()

	snap := ProgressSnapshot{
		SessionID:      s.id,
		Status:         s.status(),
		StartAddress:   s.request.StartAddress,
		EndAddress:     s.request.EndAddress,
		ScanType:       s.request.ScanType,
		Total:          total,
		Cursor:         cursor,
		Counters:       s.counters,
		ElapsedSeconds: elapsed,
		StartedAt:      s.startedAt,
		EndedAt:        endedAt,
	}

	if cursor > 0 {
		snap.CurrentAddress = s.addresses[cursor-1]
	}

	switch {
	case total > 0:
		snap.Percent = s.counters.Scanned * 100 / total
	case !s.live:
		snap.Percent = 100
	}

	if elapsed > 0 {
		snap.Throughput = float64(s.counters.Scanned) / elapsed
	}
	if snap.Throughput > 0 {
		snap.RemainingSeconds = float64(total-s.counters.Scanned) / snap.Throughput
	}

	return snap
}

func (s *session) summaryLocked() Summary {
	end := s.endedAt
	if end.IsZero() {
		end = time.Now()
	}
	return Summary{
		SessionID:      s.id,
		Status:         s.status(),
		StartAddress:   s.request.StartAddress,
		EndAddress:     s.request.EndAddress,
		ScanType:       s.request.ScanType,
		Total:          len(s.addresses),
		Counters:       s.counters,
		ElapsedSeconds: end.Sub(s.startedAt).Seconds(),
		StartedAt:      s.startedAt,
		EndedAt:        end,
	}
}

func (s *session) summary() Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.summaryLocked()
}

func (s *session) results() []ProbeOutcome {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]ProbeOutcome(nil), s.outcomes...)
}
