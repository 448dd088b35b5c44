package hlsession

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"seekstream/internal/metrics"
)

// Registry owns the session map. It is constructed once per process and
// injected into whatever serves requests; there is no package-level
// singleton.
type Registry struct {
	logger   zerolog.Logger
	config   Config
	resolver MediaResolver

	mu       sync.RWMutex
	sessions map[string]*Session
}

func New(config Config, resolver MediaResolver) *Registry {
	return &Registry{
		logger:   log.With().Str("module", "hlsession").Logger(),
		config:   config.withDefaults(),
		resolver: resolver,
		sessions: map[string]*Session{},
	}
}

func (r *Registry) Config() Config {
	return r.config
}

// GetOrCreateSession always creates a fresh session; segment preservation
// across seeks is the seek controller's job, not session sharing. Fails
// without creating anything when the source cannot be resolved or has no
// usable duration.
func (r *Registry) GetOrCreateSession(ctx context.Context, videoID string, startTime float64, userID string) (*Session, error) {
	mediaPath, duration, err := r.resolver.Resolve(ctx, videoID)
	if err != nil {
		return nil, err
	}

	if duration <= 0 {
		return nil, fmt.Errorf("source %q has zero duration", videoID)
	}

	if startTime < 0 || startTime >= duration {
		startTime = 0
	}

	segmentDuration := r.config.SegmentDuration
	totalSegments := int(math.Ceil(duration / segmentDuration))

	// unique even for repeated seeks to the same offset
	id := uuid.NewSHA1(uuid.NameSpaceOID,
		[]byte(fmt.Sprintf("%s:%.3f:%d", videoID, startTime, time.Now().UnixNano()))).String()

	outputDir := filepath.Join(r.config.TranscodeDir, id)

	session := &Session{
		ID:      id,
		VideoID: videoID,
		UserID:  userID,

		MediaPath: mediaPath,
		Duration:  duration,

		Quality:            r.config.Quality,
		OutputDir:          outputDir,
		MasterPlaylistPath: filepath.Join(outputDir, "index.m3u8"),

		segmentDuration: segmentDuration,

		startTime:     startTime,
		status:        StatusStarting,
		completed:     map[int]struct{}{},
		totalSegments: totalSegments,
		lastAccess:    time.Now(),

		logger: r.logger.With().Str("session", id).Str("video", videoID).Logger(),
	}

	if err := os.MkdirAll(session.segmentDir(), 0755); err != nil {
		return nil, fmt.Errorf("unable to create session output dir: %w", err)
	}

	if err := session.writePlaylists(); err != nil {
		removeSessionDir(session.logger, outputDir)
		return nil, err
	}

	r.mu.Lock()
	r.sessions[id] = session
	r.mu.Unlock()

	metrics.ActiveSessions.Inc()

	session.logger.Info().
		Float64("start-time", startTime).
		Float64("duration", duration).
		Int("total-segments", totalSegments).
		Msg("session created")

	return session, nil
}

// GetSession bumps lastAccess on every successful lookup.
func (r *Registry) GetSession(id string) (*Session, error) {
	r.mu.RLock()
	session, ok := r.sessions[id]
	r.mu.RUnlock()

	if !ok {
		return nil, ErrSessionNotFound
	}

	session.Touch()
	return session, nil
}

// UpdateSessionAccess is the no-op touch used by segment-serving polling.
func (r *Registry) UpdateSessionAccess(id string) {
	r.mu.RLock()
	session, ok := r.sessions[id]
	r.mu.RUnlock()

	if ok {
		session.Touch()
	}
}

// KillSession tears a session down and discards it. Killing an unknown or
// already killed session is a no-op.
func (r *Registry) KillSession(id string) {
	r.mu.Lock()
	session, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if !ok {
		return
	}

	r.teardown(session)
}

func (r *Registry) teardown(s *Session) {
	r.stopMonitor(s)
	s.killEncoder(r.config.KillGracePeriod)
	removeSessionDir(s.logger, s.OutputDir)
	metrics.ActiveSessions.Dec()

	s.logger.Info().Msg("session discarded")
}

func (r *Registry) snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make([]*Session, 0, len(r.sessions))
	for _, session := range r.sessions {
		sessions = append(sessions, session)
	}
	return sessions
}

// Shutdown discards every session; encoders are killed with the usual
// escalation.
func (r *Registry) Shutdown() {
	for _, session := range r.snapshot() {
		r.KillSession(session.ID)
	}
}
