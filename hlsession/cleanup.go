package hlsession

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/process"

	"seekstream/internal/metrics"
)

// RunEviction sweeps the session map on a fixed interval and discards any
// session idle past the configured threshold. It blocks until ctx is done.
func (r *Registry) RunEviction(ctx context.Context) {
	r.logger.Info().
		Dur("interval", r.config.EvictionInterval).
		Dur("idle-timeout", r.config.IdleTimeout).
		Msg("idle eviction running")

	ticker := time.NewTicker(r.config.EvictionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Debug().Msg("idle eviction stopped")
			return
		case <-ticker.C:
			r.evictIdle()
		}
	}
}

func (r *Registry) evictIdle() {
	for _, session := range r.snapshot() {
		idle := time.Since(session.LastAccess())
		if idle < r.config.IdleTimeout {
			continue
		}

		session.logger.Info().Dur("idle", idle).Msg("evicting idle session")
		r.KillSession(session.ID)
		metrics.SessionsEvicted.Inc()
	}
}

// SweepOrphans terminates encoder processes left over from a prior crash,
// matched by process command name. Every failure is logged and skipped;
// startup never aborts because of a stubborn process.
func SweepOrphans(logger zerolog.Logger, encoderBinary string) int {
	name := filepath.Base(encoderBinary)

	procs, err := process.Processes()
	if err != nil {
		logger.Warn().Err(err).Msg("unable to list processes for orphan sweep")
		return 0
	}

	killed := 0
	for _, proc := range procs {
		procName, err := proc.Name()
		if err != nil || procName != name {
			continue
		}

		logger.Warn().Int32("pid", proc.Pid).Str("name", procName).Msg("terminating orphaned encoder")

		if err := proc.Terminate(); err != nil {
			logger.Debug().Err(err).Int32("pid", proc.Pid).Msg("terminate failed, killing")
			if err := proc.Kill(); err != nil {
				logger.Debug().Err(err).Int32("pid", proc.Pid).Msg("kill failed")
				continue
			}
		}

		killed++
	}

	return killed
}

// SweepTranscodeRoot best-effort clears the working-directory tree from a
// previous run and recreates it.
func SweepTranscodeRoot(logger zerolog.Logger, dir string) {
	removeContents(logger, dir)

	if err := os.MkdirAll(dir, 0755); err != nil {
		logger.Warn().Err(err).Str("dir", dir).Msg("unable to recreate transcode root")
	}
}

// removeContents deletes a directory tree file by file; a file that cannot
// be removed is skipped and directories are attempted last, allowed to fail
// when non-empty.
func removeContents(logger zerolog.Logger, dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Debug().Err(err).Str("dir", dir).Msg("unable to scan dir for removal")
		}
		return
	}

	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())

		if entry.IsDir() {
			removeContents(logger, path)
		}

		// for files this removes the file; for dirs it attempts the now-empty
		// dir last, allowed to fail when a child was skipped above
		if err := os.Remove(path); err != nil {
			logger.Debug().Err(err).Str("path", path).Msg("unable to remove, skipping")
		}
	}
}

func removeSessionDir(logger zerolog.Logger, dir string) {
	removeContents(logger, dir)

	if err := os.Remove(dir); err != nil && !os.IsNotExist(err) {
		logger.Debug().Err(err).Str("dir", dir).Msg("session dir left behind")
	}
}
