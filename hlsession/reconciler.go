package hlsession

import (
	"math"
	"os"
	"path/filepath"
	"time"

	"seekstream/internal/metrics"
)

// startMonitor runs the segment reconciler on a fixed-interval ticker for as
// long as the session is encoding. At most one monitor per session.
func (r *Registry) startMonitor(s *Session) {
	s.mu.Lock()
	if s.monitorStop != nil {
		s.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	s.monitorStop = stop
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(r.config.ReconcileInterval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				r.reconcilePass(s)

				if s.isComplete() {
					r.stopMonitor(s)
					s.markCompleted()
					s.logger.Info().Msg("all segments reconciled, session completed")
					return
				}
			}
		}
	}()
}

// stopMonitor is idempotent and always safe to call mid-teardown; teardown
// paths call it before killing the encoder so a tick never touches a session
// being torn down.
func (r *Registry) stopMonitor(s *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.monitorStop != nil {
		close(s.monitorStop)
		s.monitorStop = nil
	}
}

// reconcilePass bridges encoder-local segment numbering (always starting at
// 0 for the current run) to the absolute timeline numbering served to
// clients. It scans a bounded window of local indices past current progress
// and stops at the first missing one, since the encoder writes segments in
// order. Every filesystem failure here is expected steady-state noise: it is
// swallowed and the index retried on the next tick.
func (r *Registry) reconcilePass(s *Session) bool {
	s.mu.Lock()
	startSegment := int(math.Floor(s.startTime / s.segmentDuration))
	local := s.reconciled
	total := s.totalSegments
	s.mu.Unlock()

	limit := local + r.config.SegmentLookahead
	progress := false

	for ; local < limit; local++ {
		absolute := startSegment + local

		var localPath string
		if startSegment == 0 {
			// local and absolute numbering coincide, nothing to rename
			localPath = s.absoluteSegmentPath(local)
		} else {
			localPath = filepath.Join(s.workDir(), segmentName(local))
		}

		if _, err := os.Stat(localPath); err != nil {
			break
		}

		if absolute >= total {
			// stray tail past the timeline, never served or counted
			if err := os.Remove(localPath); err != nil {
				s.logger.Debug().Err(err).Int("local", local).Msg("stray segment not removed")
			}
		} else if startSegment != 0 {
			if err := os.Rename(localPath, s.absoluteSegmentPath(absolute)); err != nil {
				// still being written or already moved, retry next tick
				s.logger.Debug().Err(err).Int("local", local).Msg("segment rename deferred")
				break
			}
		}

		if s.addCompleted(absolute) {
			metrics.SegmentsCompleted.Inc()
		}
		progress = true

		s.mu.Lock()
		s.reconciled = local + 1
		s.mu.Unlock()
	}

	return progress
}

// reconcileDrain runs passes until no further progress is made; used when a
// clean encoder exit races the final segment writes.
func (r *Registry) reconcileDrain(s *Session) {
	for r.reconcilePass(s) {
	}
}
