package hlsession

import (
	"math"
	"os"
	"path/filepath"
	"time"

	"seekstream/internal/metrics"
)

// HandleSeek decides whether a seek to newStartTime can be absorbed by the
// running encoder or requires a restart from a new offset. It returns
// whether a restart happened; after a restart the caller must invoke
// StartTranscoding again, HandleSeek itself never spawns.
func (r *Registry) HandleSeek(s *Session, newStartTime float64) (restarted bool, err error) {
	segmentDuration := r.config.SegmentDuration
	targetSegment := int(math.Floor(newStartTime / segmentDuration))
	currentSegment := s.startSegment()

	// common case: a small seek back into already buffered content
	if s.HasSegment(targetSegment) {
		return false, nil
	}

	// seeking at or ahead of the run's offset: leave the encoder alone if it
	// will organically reach the target before the delivery endpoint's poll
	// timeout expires. target == current is the segment being produced right
	// now, estimate zero.
	if targetSegment >= currentSegment {
		catchUp := float64(targetSegment-currentSegment) * segmentDuration / r.config.EncodeSpeedFactor
		if time.Duration(catchUp*float64(time.Second)) <= r.config.SeekWaitBudget {
			s.logger.Debug().
				Int("target", targetSegment).
				Int("current", currentSegment).
				Float64("catch-up-estimate", catchUp).
				Msg("seek within catch-up budget, encoder left running")
			return false, nil
		}
	}

	s.logger.Info().
		Int("target", targetSegment).
		Int("current", currentSegment).
		Msg("seek requires encoder restart")

	// timers stop before the process dies so no tick lands mid-teardown
	r.stopMonitor(s)
	s.killEncoder(r.config.KillGracePeriod)

	preserved := r.preserveSegments(s, targetSegment)

	// realign down to a segment boundary so the new run's local segment 0
	// lines up exactly with an absolute segment boundary
	realigned := float64(targetSegment) * segmentDuration

	s.mu.Lock()
	s.startTime = realigned
	s.status = StatusStarting
	s.completed = preserved
	// always from the full duration, so absolute numbering stays stable
	s.totalSegments = int(math.Ceil(s.Duration / segmentDuration))
	s.reconciled = 0
	s.mu.Unlock()

	metrics.EncoderRestarts.Inc()
	return true, nil
}

// preserveSegments keeps already encoded segments whose absolute index falls
// at or past the new start by moving them out to a holding dir, clearing the
// working directories, and moving them back. Moves, not copies; a segment
// that cannot be moved is skipped, costing only a redundant re-encode.
func (r *Registry) preserveSegments(s *Session, fromSegment int) map[int]struct{} {
	preserved := map[int]struct{}{}
	segmentDir := s.segmentDir()
	total := s.TotalSegments()

	holding, err := os.MkdirTemp(s.OutputDir, "preserve-")
	if err != nil {
		s.logger.Warn().Err(err).Msg("unable to create holding dir, dropping encoded segments")
		removeContents(s.logger, segmentDir)
		removeContents(s.logger, s.workDir())
		_ = os.Remove(s.workDir())
		return preserved
	}

	entries, err := os.ReadDir(segmentDir)
	if err != nil {
		s.logger.Warn().Err(err).Msg("unable to scan segment dir")
		entries = nil
	}

	for _, entry := range entries {
		// anything unparseable, below the new start or past the timeline is
		// left behind for the clear below
		index, ok := ParseSegmentName(entry.Name())
		if !ok || index < fromSegment || index >= total {
			continue
		}

		if err := os.Rename(filepath.Join(segmentDir, entry.Name()), filepath.Join(holding, entry.Name())); err != nil {
			s.logger.Debug().Err(err).Int("segment", index).Msg("segment not preserved")
		}
	}

	removeContents(s.logger, segmentDir)
	removeContents(s.logger, s.workDir())
	_ = os.Remove(s.workDir())

	held, err := os.ReadDir(holding)
	if err != nil {
		held = nil
	}

	for _, entry := range held {
		index, ok := ParseSegmentName(entry.Name())
		if !ok || index >= total {
			continue
		}

		if err := os.Rename(filepath.Join(holding, entry.Name()), filepath.Join(segmentDir, entry.Name())); err != nil {
			s.logger.Debug().Err(err).Int("segment", index).Msg("segment not restored")
			continue
		}

		preserved[index] = struct{}{}
	}

	_ = os.Remove(holding)

	s.logger.Info().Int("preserved", len(preserved)).Msg("segments carried across restart")
	return preserved
}
