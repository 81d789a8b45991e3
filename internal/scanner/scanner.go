// Package scanner discovers AntBox coolers and mining devices across IPv4 ranges.
package scanner

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/caihongdao/antbox-monitor/internal/config"
)

// Scanner coordinates scan sessions. At most one session is live at a time;
// the most recent session stays queryable after it ends.
type Scanner struct {
	config  config.ScannerConfig
	prober  *HostProber
	sinks   []EventSink
	logger  *zap.SugaredLogger
	limiter *rate.Limiter

	// generation is the id of the session workers may commit for. Stopping a
	// session moves it forward so in-flight workers discard their results.
	generation atomic.Uint64

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	session *session
}

// New creates a new Scanner instance.
func New(cfg config.ScannerConfig, prober *HostProber, logger *zap.SugaredLogger, sinks ...EventSink) *Scanner {
	ctx, cancel := context.WithCancel(context.Background())

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimit)
	}

	return &Scanner{
		config:  cfg,
		prober:  prober,
		sinks:   sinks,
		logger:  logger,
		limiter: limiter,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// ResumeAfter makes the next session id greater than id, so results exported
// by an earlier process keep their own ids. It never lowers the counter and is
// ignored while a session is live.
func (s *Scanner) ResumeAfter(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session != nil && s.session.isLive() {
		return
	}
	for {
		cur := s.generation.Load()
		if cur >= id || s.generation.CompareAndSwap(cur, id) {
			return
		}
	}
}

// Start validates req, creates a session and launches its workers. It
// returns without waiting for the scan.
func (s *Scanner) Start(req ScanRequest) (uint64, error) {
	s.mu.Lock()
	if s.session != nil && s.session.isLive() {
		s.mu.Unlock()
		return 0, ErrScanAlreadyRunning
	}

	sess, err := s.newSessionLocked(req)
	if err != nil {
		s.mu.Unlock()
		return 0, err
	}
	s.session = sess
	s.mu.Unlock()

	workers := sess.request.Concurrency
	if workers > len(sess.addresses) {
		workers = len(sess.addresses)
	}

	s.logger.Infow("Starting device scan",
		"scan_id", sess.id,
		"start_ip", sess.request.StartAddress,
		"end_ip", sess.request.EndAddress,
		"total", len(sess.addresses),
		"port", sess.request.Port,
		"scan_type", sess.request.ScanType,
		"workers", workers,
	)

	sess.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go s.worker(sess)
	}
	go s.awaitCompletion(sess)

	return sess.id, nil
}

func (s *Scanner) newSessionLocked(req ScanRequest) (*session, error) {
	req, err := req.Normalize(s.config)
	if err != nil {
		return nil, err
	}

	size, err := RangeSize(req.StartAddress, req.EndAddress)
	if err != nil {
		return nil, err
	}
	if limit := s.config.MaxAddresses; limit > 0 && size > limit {
		return nil, fmt.Errorf("%w: %d addresses exceeds limit of %d", ErrRangeTooLarge, size, limit)
	}

	addresses, err := ExpandRange(req.StartAddress, req.EndAddress)
	if err != nil {
		return nil, err
	}

	id := s.generation.Add(1)
	return newSession(s.ctx, id, req, addresses, s.progressLogInterval()), nil
}

func (s *Scanner) progressLogInterval() time.Duration {
	if s.config.ProgressLogInterval <= 0 {
		return 5 * time.Second
	}
	return time.Duration(s.config.ProgressLogInterval) * time.Second
}

func (s *Scanner) awaitCompletion(sess *session) {
	sess.wg.Wait()

	summary, ok := sess.finish()
	if !ok {
		return
	}

	s.logger.Infow("Device scan finished",
		"scan_id", summary.SessionID,
		"status", summary.Status,
		"scanned", summary.Counters.Scanned,
		"found", summary.Counters.Found,
		"antbox", summary.Counters.AntBox,
		"miner", summary.Counters.Miner,
		"elapsed_seconds", summary.ElapsedSeconds,
	)
	s.emitSummary(summary)
	sess.release()
}

// Stop ends the session with the given id. Workers finish their current probe
// but nothing they produce afterwards is recorded. Stopping a session that
// already ended is a no-op.
func (s *Scanner) Stop(id uint64) error {
	sess, err := s.lookup(id)
	if err != nil {
		return err
	}

	if sess.stop() {
		s.generation.CompareAndSwap(id, id+1)
		sess.cancel()
		s.logger.Infow("Stopping device scan", "scan_id", id)
	}
	return nil
}

// StopCurrent stops the live session, if any.
func (s *Scanner) StopCurrent() (uint64, bool) {
	s.mu.RLock()
	sess := s.session
	s.mu.RUnlock()

	if sess == nil || !sess.isLive() {
		return 0, false
	}
	return sess.id, s.Stop(sess.id) == nil
}

// Current returns the id of the most recent session.
func (s *Scanner) Current() (uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.session == nil {
		return 0, false
	}
	return s.session.id, true
}

// IsRunning returns whether a session is currently live.
func (s *Scanner) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session != nil && s.session.isLive()
}

// Progress returns a snapshot of the session.
func (s *Scanner) Progress(id uint64) (ProgressSnapshot, error) {
	sess, err := s.lookup(id)
	if err != nil {
		return ProgressSnapshot{}, err
	}
	return sess.snapshot(), nil
}

// Results returns the outcomes recorded so far, in commit order.
func (s *Scanner) Results(id uint64) ([]ProbeOutcome, error) {
	sess, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	return sess.results(), nil
}

// Wait blocks until the session ends or ctx is done.
func (s *Scanner) Wait(ctx context.Context, id uint64) (Summary, error) {
	sess, err := s.lookup(id)
	if err != nil {
		return Summary{}, err
	}

	select {
	case <-sess.done:
		return sess.summary(), nil
	case <-ctx.Done():
		return Summary{}, ctx.Err()
	}
}

// ProbeTarget probes a single address outside of any session.
func (s *Scanner) ProbeTarget(ctx context.Context, address string, port int, scanType ScanType) (*ProbeOutcome, error) {
	req, err := ScanRequest{
		StartAddress: address,
		EndAddress:   address,
		Port:         port,
		ScanType:     scanType,
	}.Normalize(s.config)
	if err != nil {
		return nil, err
	}

	return s.prober.Probe(ctx, req.StartAddress, req)
}

// Close stops any live session and releases the scanner.
func (s *Scanner) Close() {
	s.StopCurrent()
	s.cancel()
}

func (s *Scanner) lookup(id uint64) (*session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.session == nil || s.session.id != id {
		return nil, fmt.Errorf("%w: %d", ErrSessionNotFound, id)
	}
	return s.session, nil
}

func (s *Scanner) isCurrent(sess *session) bool {
	return s.generation.Load() == sess.id
}
