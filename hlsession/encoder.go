package hlsession

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"seekstream/internal/metrics"
	"seekstream/internal/utils"
)

// how often the first-segment wait re-checks the filesystem
const firstSegmentPollInterval = 250 * time.Millisecond

// encoderRun is one subprocess lifetime. done is closed exactly once, after
// exitErr is set, so callers can select on process exit.
type encoderRun struct {
	cmd     *exec.Cmd
	done    chan struct{}
	exitErr error

	mu     sync.Mutex
	killed bool
}

func (run *encoderRun) markKilled() {
	run.mu.Lock()
	defer run.mu.Unlock()

	run.killed = true
}

func (run *encoderRun) isKilled() bool {
	run.mu.Lock()
	defer run.mu.Unlock()

	return run.killed
}

// encoderArgs builds the single-pass ffmpeg invocation: fast seek before
// decode, keyframe interval locked to the segment duration so every segment
// is independently decodable, fixed audio layout, HLS mux with unbounded VOD
// playlist and local numbering starting at 0 regardless of the seek offset.
func encoderArgs(config Config, mediaPath string, startTime float64, outputDir string) []string {
	args := []string{
		"-loglevel", "warning",
		"-nostdin",
	}

	// fast seek: -ss before -i jumps to the nearest keyframe
	if startTime > 0 {
		args = append(args, "-ss", fmt.Sprintf("%.6f", startTime))
	}

	args = append(args,
		"-i", mediaPath,
		"-sn",
	)

	video := config.Quality.Video
	var scale string
	if video.Width >= video.Height {
		scale = fmt.Sprintf("scale=-2:%d", video.Height)
	} else {
		scale = fmt.Sprintf("scale=%d:-2", video.Width)
	}

	args = append(args,
		"-vf", scale,
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-profile:v", "high",
		"-level:v", "4.0",
		"-b:v", fmt.Sprintf("%dk", video.Bitrate),
		"-force_key_frames", fmt.Sprintf("expr:gte(t,n_forced*%.3f)", config.SegmentDuration),
	)

	args = append(args,
		"-c:a", "aac",
		"-b:a", fmt.Sprintf("%dk", config.Quality.Audio.Bitrate),
		"-ar", "44100",
		"-ac", "2",
	)

	args = append(args,
		"-f", "hls",
		"-hls_time", fmt.Sprintf("%.3f", config.SegmentDuration),
		"-hls_list_size", "0",
		"-hls_playlist_type", "vod",
		"-hls_flags", "independent_segments",
		"-hls_segment_filename", filepath.Join(outputDir, "%05d.ts"),
		"-start_number", "0",
		filepath.Join(outputDir, "encoder.m3u8"),
	)

	return args
}

// StartTranscoding spawns the encoder subprocess for the session's current
// start offset and blocks until the first segment appears on disk (bounded
// by FirstSegmentTimeout). Spawn failures and the startup timeout are the
// only errors surfaced synchronously; later failures are reflected through
// the session status.
func (r *Registry) StartTranscoding(ctx context.Context, s *Session) error {
	outputDir := s.encoderOutputDir()
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		s.markError()
		return fmt.Errorf("unable to create encoder output dir: %w", err)
	}

	cmd := exec.Command(r.config.FFmpegBinary, encoderArgs(r.config, s.MediaPath, s.StartTime(), outputDir)...)
	cmd.Stderr = utils.LogWriter(s.logger.With().Str("submodule", "encoder").Logger())
	cmd.SysProcAttr = processGroupAttr()

	run := &encoderRun{
		cmd:  cmd,
		done: make(chan struct{}),
	}

	s.mu.Lock()
	if s.process != nil {
		s.mu.Unlock()
		return fmt.Errorf("session %s already has a running encoder", s.ID)
	}
	s.status = StatusStarting
	s.reconciled = 0
	s.process = run
	s.mu.Unlock()

	if err := cmd.Start(); err != nil {
		s.mu.Lock()
		s.process = nil
		s.mu.Unlock()

		s.markError()
		metrics.EncoderFailures.Inc()
		return fmt.Errorf("unable to spawn encoder: %w", err)
	}

	s.logger.Info().
		Float64("start-time", s.StartTime()).
		Str("output-dir", outputDir).
		Msg("encoder spawned")

	go r.watchEncoderExit(s, run)

	if err := r.awaitFirstSegment(ctx, s, run, outputDir); err != nil {
		s.killEncoder(r.config.KillGracePeriod)
		s.markError()
		metrics.EncoderFailures.Inc()
		return err
	}

	s.markActive()
	r.startMonitor(s)
	return nil
}

func (r *Registry) awaitFirstSegment(ctx context.Context, s *Session, run *encoderRun, outputDir string) error {
	firstSegment := filepath.Join(outputDir, segmentName(0))

	if _, err := os.Stat(firstSegment); err == nil {
		return nil
	}

	deadline := time.NewTimer(r.config.FirstSegmentTimeout)
	defer deadline.Stop()

	ticker := time.NewTicker(firstSegmentPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-run.done:
			// a short encode can finish before the first tick
			if _, err := os.Stat(firstSegment); err == nil {
				return nil
			}

			if run.exitErr == nil {
				return errors.New("encoder exited before producing first segment")
			}
			return fmt.Errorf("encoder exited before producing first segment: %w", run.exitErr)
		case <-deadline.C:
			return ErrFirstSegmentTimeout
		case <-ticker.C:
			if _, err := os.Stat(firstSegment); err == nil {
				return nil
			}
		}
	}
}

// watchEncoderExit performs the single terminal transition for one
// subprocess lifetime. Intentional kills (seek restart, session teardown)
// are handled by the killer, not here.
func (r *Registry) watchEncoderExit(s *Session, run *encoderRun) {
	run.exitErr = run.cmd.Wait()
	close(run.done)

	s.mu.Lock()
	if s.process == run {
		s.process = nil
	}
	s.mu.Unlock()

	if run.isKilled() {
		s.logger.Debug().Msg("encoder terminated on request")
		return
	}

	if run.exitErr != nil {
		s.logger.Warn().Err(run.exitErr).Msg("encoder exited with an error")
		r.stopMonitor(s)
		s.markError()
		metrics.EncoderFailures.Inc()
		return
	}

	s.logger.Info().Msg("encoder finished")

	// exit can race the final segment writes, drain before deciding
	r.reconcileDrain(s)
	r.stopMonitor(s)

	if s.isComplete() {
		s.markCompleted()
		return
	}

	// a run started past offset zero only encodes the tail; the session
	// stays active so a seek below the offset can still restart it
	s.logger.Info().
		Int("completed", len(s.CompletedSegments())).
		Int("total", s.TotalSegments()).
		Msg("encoder finished its tail, head segments not encoded")
}

// killEncoder sends a graceful termination to the encoder's process group,
// escalating to a forced kill after the grace window. Killing an already
// dead or absent encoder is a no-op.
func (s *Session) killEncoder(grace time.Duration) {
	s.mu.Lock()
	run := s.process
	s.process = nil
	s.mu.Unlock()

	if run == nil {
		return
	}

	run.markKilled()

	if err := terminateProcessGroup(run.cmd); err != nil {
		s.logger.Debug().Err(err).Msg("graceful termination failed")
	}

	select {
	case <-run.done:
		return
	case <-time.After(grace):
	}

	s.logger.Warn().Msg("encoder did not exit in time, killing")
	if err := killProcessGroup(run.cmd); err != nil {
		s.logger.Debug().Err(err).Msg("force kill failed")
	}

	<-run.done
}
