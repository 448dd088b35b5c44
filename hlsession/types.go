package hlsession

import (
	"errors"
	"time"
)

var (
	// ErrSessionNotFound is returned by lookups for unknown session IDs.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSourceNotFound is returned when the media resolver cannot map a
	// video ID to a local file.
	ErrSourceNotFound = errors.New("media source not found")
	// ErrFirstSegmentTimeout is returned when the encoder produced no
	// segment within the startup ceiling.
	ErrFirstSegmentTimeout = errors.New("timed out waiting for first segment")
)

// Status is the lifecycle state of a transcoding session. Completed and
// error are terminal, except that a seek-triggered restart resets an
// active session back to starting.
type Status string

const (
	StatusStarting  Status = "starting"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

type VideoProfile struct {
	Width   int
	Height  int
	Bitrate int // in kilobits
}

type AudioProfile struct {
	Bitrate int // in kilobits
}

// Quality is the single encoding preset a session is created with.
type Quality struct {
	Name  string
	Video VideoProfile
	Audio AudioProfile
}

type Config struct {
	TranscodeDir  string // root directory for all session output dirs
	FFmpegBinary  string
	FFprobeBinary string

	Quality Quality

	SegmentDuration  float64 // in seconds
	SegmentLookahead int     // local indices scanned past current progress per pass

	FirstSegmentTimeout time.Duration
	KillGracePeriod     time.Duration
	ReconcileInterval   time.Duration

	// seek restart-vs-wait tuning, see HandleSeek
	SeekWaitBudget    time.Duration
	EncodeSpeedFactor float64

	IdleTimeout      time.Duration
	EvictionInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.FFmpegBinary == "" {
		c.FFmpegBinary = "ffmpeg"
	}
	if c.FFprobeBinary == "" {
		c.FFprobeBinary = "ffprobe"
	}
	if c.Quality.Name == "" {
		c.Quality = Quality{
			Name:  "720p",
			Video: VideoProfile{Width: 1280, Height: 720, Bitrate: 3000},
			Audio: AudioProfile{Bitrate: 128},
		}
	}
	if c.SegmentDuration <= 0 {
		c.SegmentDuration = 4
	}
	if c.SegmentLookahead <= 0 {
		c.SegmentLookahead = 5
	}
	if c.FirstSegmentTimeout <= 0 {
		c.FirstSegmentTimeout = 15 * time.Second
	}
	if c.KillGracePeriod <= 0 {
		c.KillGracePeriod = 5 * time.Second
	}
	if c.ReconcileInterval <= 0 {
		c.ReconcileInterval = 500 * time.Millisecond
	}
	if c.SeekWaitBudget <= 0 {
		c.SeekWaitBudget = 12 * time.Second
	}
	if c.EncodeSpeedFactor <= 0 {
		c.EncodeSpeedFactor = 2.5
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 30 * time.Minute
	}
	if c.EvictionInterval <= 0 {
		c.EvictionInterval = 60 * time.Second
	}
	return c
}
