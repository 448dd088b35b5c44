//go:build !windows

package hlsession

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeEncoder(t *testing.T, script string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "fake-ffmpeg")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0755))
	return path
}

// fakeSegmentEncoder produces count local segments at the filename pattern
// from its arguments and exits immediately, like a very fast real encode.
func fakeSegmentEncoder(t *testing.T, count int) string {
	t.Helper()

	script := fmt.Sprintf(`prev=""
pattern=""
for arg in "$@"; do
	if [ "$prev" = "-hls_segment_filename" ]; then
		pattern="$arg"
	fi
	prev="$arg"
done
i=0
while [ "$i" -lt %d ]; do
	touch "$(printf "$pattern" "$i")"
	i=$((i+1))
done`, count)

	return fakeEncoder(t, script)
}

func newEncoderTestRegistry(t *testing.T, config Config) *Registry {
	t.Helper()

	media := filepath.Join(t.TempDir(), "video.mkv")
	require.NoError(t, os.WriteFile(media, []byte("not really a video"), 0644))

	if config.TranscodeDir == "" {
		config.TranscodeDir = t.TempDir()
	}
	config.SegmentDuration = 4

	return New(config, &stubResolver{path: media, duration: 40})
}

func TestEncoderArgsFromZero(t *testing.T) {
	config := Config{SegmentDuration: 4, Quality: testQuality}
	args := encoderArgs(config, "/media/video.mkv", 0, "/out")

	assert.NotContains(t, args, "-ss")
	assert.Contains(t, args, "/media/video.mkv")
	assert.Contains(t, args, "libx264")
	assert.Contains(t, args, "hls")
	assert.Contains(t, args, "vod")
	assert.Contains(t, args, filepath.Join("/out", "%05d.ts"))
	assert.Equal(t, filepath.Join("/out", "encoder.m3u8"), args[len(args)-1])

	// local numbering always restarts at 0
	for i, arg := range args {
		if arg == "-start_number" {
			assert.Equal(t, "0", args[i+1])
		}
	}
}

func TestEncoderArgsSeekBeforeInput(t *testing.T) {
	config := Config{SegmentDuration: 4, Quality: testQuality}
	args := encoderArgs(config, "/media/video.mkv", 16, "/out")

	var ssAt, inputAt int
	for i, arg := range args {
		switch arg {
		case "-ss":
			ssAt = i
		case "-i":
			inputAt = i
		}
	}

	// -ss must precede -i for fast input seeking
	require.NotZero(t, ssAt)
	require.NotZero(t, inputAt)
	assert.Less(t, ssAt, inputAt)
	assert.Equal(t, "16.000000", args[ssAt+1])
}

func TestStartTranscodingSpawnFailure(t *testing.T) {
	registry := newEncoderTestRegistry(t, Config{
		FFmpegBinary: filepath.Join(t.TempDir(), "does-not-exist"),
	})

	session, err := registry.GetOrCreateSession(context.Background(), "movie", 0, "")
	require.NoError(t, err)

	err = registry.StartTranscoding(context.Background(), session)
	assert.Error(t, err)
	assert.Equal(t, StatusError, session.Status())
}

func TestStartTranscodingFirstSegmentTimeout(t *testing.T) {
	registry := newEncoderTestRegistry(t, Config{
		FFmpegBinary:        fakeEncoder(t, "sleep 60"),
		FirstSegmentTimeout: 300 * time.Millisecond,
		KillGracePeriod:     time.Second,
	})

	session, err := registry.GetOrCreateSession(context.Background(), "movie", 0, "")
	require.NoError(t, err)

	err = registry.StartTranscoding(context.Background(), session)
	assert.ErrorIs(t, err, ErrFirstSegmentTimeout)
	assert.Equal(t, StatusError, session.Status())

	// the stuck encoder was torn down with the session handle cleared
	session.mu.Lock()
	assert.Nil(t, session.process)
	session.mu.Unlock()
}

func TestStartTranscodingEncoderExitsEarly(t *testing.T) {
	registry := newEncoderTestRegistry(t, Config{
		FFmpegBinary:        fakeEncoder(t, "exit 1"),
		FirstSegmentTimeout: 5 * time.Second,
	})

	session, err := registry.GetOrCreateSession(context.Background(), "movie", 0, "")
	require.NoError(t, err)

	err = registry.StartTranscoding(context.Background(), session)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrFirstSegmentTimeout)
	assert.Equal(t, StatusError, session.Status())
}

func TestStartTranscodingActivatesOnFirstSegment(t *testing.T) {
	registry := newEncoderTestRegistry(t, Config{
		FFmpegBinary:        fakeEncoder(t, "sleep 60"),
		FirstSegmentTimeout: 5 * time.Second,
		KillGracePeriod:     time.Second,
	})

	session, err := registry.GetOrCreateSession(context.Background(), "movie", 0, "")
	require.NoError(t, err)

	// segment already on disk, the wait returns without polling
	writeSegment(t, session.segmentDir(), 0)

	require.NoError(t, registry.StartTranscoding(context.Background(), session))
	assert.Equal(t, StatusActive, session.Status())

	registry.KillSession(session.ID)
}

func TestStartTranscodingRejectsSecondEncoder(t *testing.T) {
	registry := newEncoderTestRegistry(t, Config{
		FFmpegBinary:        fakeEncoder(t, "sleep 60"),
		FirstSegmentTimeout: 5 * time.Second,
		KillGracePeriod:     time.Second,
	})

	session, err := registry.GetOrCreateSession(context.Background(), "movie", 0, "")
	require.NoError(t, err)

	writeSegment(t, session.segmentDir(), 0)
	require.NoError(t, registry.StartTranscoding(context.Background(), session))

	err = registry.StartTranscoding(context.Background(), session)
	assert.Error(t, err)

	registry.KillSession(session.ID)
}

func TestCleanEncoderExitCompletesSession(t *testing.T) {
	registry := newEncoderTestRegistry(t, Config{
		FFmpegBinary:        fakeEncoder(t, "exit 0"),
		FirstSegmentTimeout: 5 * time.Second,
	})

	session, err := registry.GetOrCreateSession(context.Background(), "movie", 0, "")
	require.NoError(t, err)

	// all segments in place before the encoder's clean exit
	for i := 0; i < 10; i++ {
		writeSegment(t, session.segmentDir(), i)
	}

	require.NoError(t, registry.StartTranscoding(context.Background(), session))

	require.Eventually(t, func() bool {
		return session.Status() == StatusCompleted
	}, 5*time.Second, 20*time.Millisecond)

	assert.Len(t, session.CompletedSegments(), 10)
}

// an encode so fast it exits before the first poll tick must still count as
// started, not as a startup failure.
func TestStartTranscodingFastEncodeCompletes(t *testing.T) {
	registry := newEncoderTestRegistry(t, Config{
		FFmpegBinary:        fakeSegmentEncoder(t, 10),
		FirstSegmentTimeout: 5 * time.Second,
	})

	session, err := registry.GetOrCreateSession(context.Background(), "movie", 0, "")
	require.NoError(t, err)

	require.NoError(t, registry.StartTranscoding(context.Background(), session))

	require.Eventually(t, func() bool {
		return session.Status() == StatusCompleted
	}, 5*time.Second, 20*time.Millisecond)

	assert.Len(t, session.CompletedSegments(), 10)
}

func TestAwaitFirstSegmentAfterExit(t *testing.T) {
	registry := newEncoderTestRegistry(t, Config{
		FirstSegmentTimeout: 5 * time.Second,
	})

	session, err := registry.GetOrCreateSession(context.Background(), "movie", 0, "")
	require.NoError(t, err)

	run := &encoderRun{done: make(chan struct{})}

	// segment lands and the process exits between two poll ticks
	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = os.WriteFile(filepath.Join(session.segmentDir(), segmentName(0)), []byte("ts"), 0644)
		close(run.done)
	}()

	err = registry.awaitFirstSegment(context.Background(), session, run, session.segmentDir())
	assert.NoError(t, err)
}

func TestAwaitFirstSegmentExitWithoutError(t *testing.T) {
	registry := newEncoderTestRegistry(t, Config{
		FirstSegmentTimeout: 5 * time.Second,
	})

	session, err := registry.GetOrCreateSession(context.Background(), "movie", 0, "")
	require.NoError(t, err)

	// exited cleanly but produced nothing
	run := &encoderRun{done: make(chan struct{})}
	close(run.done)

	err = registry.awaitFirstSegment(context.Background(), session, run, session.segmentDir())
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "%!w")
}

// a run started at an offset that exits cleanly has only encoded the tail;
// the session must stay restartable, not declare itself complete.
func TestTailExitLeavesSessionActive(t *testing.T) {
	registry := newEncoderTestRegistry(t, Config{
		FFmpegBinary:        fakeEncoder(t, "exit 0"),
		FirstSegmentTimeout: 5 * time.Second,
	})

	session, err := registry.GetOrCreateSession(context.Background(), "movie", 16, "")
	require.NoError(t, err)

	// local 0..5 = absolute 4..9, the whole remainder of the timeline
	for i := 0; i < 6; i++ {
		writeSegment(t, session.workDir(), i)
	}

	require.NoError(t, registry.StartTranscoding(context.Background(), session))

	require.Eventually(t, func() bool {
		return len(session.CompletedSegments()) == 6
	}, 5*time.Second, 20*time.Millisecond)

	assert.Equal(t, []int{4, 5, 6, 7, 8, 9}, session.CompletedSegments())
	assert.Equal(t, StatusActive, session.Status())

	// a backward seek can still restart it
	restarted, err := registry.HandleSeek(session, 0)
	require.NoError(t, err)
	assert.True(t, restarted)
}

func TestKillEncoderIsPromptAndIdempotent(t *testing.T) {
	registry := newEncoderTestRegistry(t, Config{
		FFmpegBinary:        fakeEncoder(t, "sleep 60"),
		FirstSegmentTimeout: 5 * time.Second,
		KillGracePeriod:     2 * time.Second,
	})

	session, err := registry.GetOrCreateSession(context.Background(), "movie", 0, "")
	require.NoError(t, err)

	writeSegment(t, session.segmentDir(), 0)
	require.NoError(t, registry.StartTranscoding(context.Background(), session))

	started := time.Now()
	session.killEncoder(registry.config.KillGracePeriod)
	session.killEncoder(registry.config.KillGracePeriod)

	// SIGTERM lands well inside the grace window, no escalation needed
	assert.Less(t, time.Since(started), registry.config.KillGracePeriod)

	registry.KillSession(session.ID)
}
