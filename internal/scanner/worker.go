package scanner

import "errors"

// worker claims addresses until the range is exhausted or the session is
// superseded. Results from a superseded session are dropped.
func (s *Scanner) worker(sess *session) {
	defer sess.wg.Done()

	current := func() bool { return s.isCurrent(sess) }

	for current() {
		idx, ok := sess.claim()
		if !ok {
			return
		}
		address := sess.addresses[idx]

		if s.limiter != nil {
			if err := s.limiter.Wait(sess.ctx); err != nil {
				return
			}
		}

		outcome, err := s.prober.Probe(sess.ctx, address, sess.request)
		if err != nil {
			if !errors.Is(err, ErrProbeAborted) {
				s.logger.Warnw("Probe failed", "scan_id", sess.id, "ip", address, "error", err)
			}
			return
		}

		snapshot, ok := sess.commit(outcome, current)
		if !ok {
			s.logger.Debugw("Discarding result of superseded scan", "scan_id", sess.id, "ip", address)
			return
		}

		if outcome != nil {
			s.logger.Infow("Device found",
				"scan_id", sess.id,
				"ip", outcome.Address,
				"device_type", outcome.Category,
				"status", outcome.Status,
			)
			s.emitResult(sess.id, *outcome)
		}
		s.emitProgress(snapshot)

		sess.logEvery.Do(func() {
			s.logger.Infow("Scan progress",
				"scan_id", sess.id,
				"progress", snapshot.Percent,
				"scanned", snapshot.Counters.Scanned,
				"total", snapshot.Total,
				"found", snapshot.Counters.Found,
				"current_ip", address,
				"ips_per_second", snapshot.Throughput,
			)
		})
	}
}
