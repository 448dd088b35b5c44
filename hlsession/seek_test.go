package hlsession

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeekToCompletedSegmentIsNoop(t *testing.T) {
	registry := newTestRegistry(t, 40)

	session, err := registry.GetOrCreateSession(context.Background(), "movie", 0, "")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		writeSegment(t, session.segmentDir(), i)
	}
	registry.reconcilePass(session)
	require.True(t, session.HasSegment(4))

	// newStartTime=17 lands in segment 4, which is already on disk
	restarted, err := registry.HandleSeek(session, 17)
	require.NoError(t, err)
	assert.False(t, restarted)
	assert.Equal(t, float64(0), session.StartTime())
}

func TestSeekForwardWithinCatchUpBudget(t *testing.T) {
	registry := newTestRegistry(t, 400)

	session, err := registry.GetOrCreateSession(context.Background(), "movie", 0, "")
	require.NoError(t, err)

	writeSegment(t, session.segmentDir(), 0)
	registry.reconcilePass(session)

	// five segments ahead: 5*4s / 2.5x = 8s of encoding, under the 12s budget
	restarted, err := registry.HandleSeek(session, 20)
	require.NoError(t, err)
	assert.False(t, restarted)
}

func TestSeekFarForwardRestarts(t *testing.T) {
	registry := newTestRegistry(t, 400)

	session, err := registry.GetOrCreateSession(context.Background(), "movie", 0, "")
	require.NoError(t, err)

	// 50 segments ahead: 50*4s / 2.5x = 80s, far past the wait budget
	restarted, err := registry.HandleSeek(session, 200)
	require.NoError(t, err)
	assert.True(t, restarted)

	assert.Equal(t, float64(200), session.StartTime())
	assert.Equal(t, 50, session.startSegment())
	assert.Equal(t, StatusStarting, session.Status())
	assert.Equal(t, 100, session.TotalSegments())
}

func TestSeekBackwardRestartsAndRealigns(t *testing.T) {
	registry := newTestRegistry(t, 40)

	session, err := registry.GetOrCreateSession(context.Background(), "movie", 16, "")
	require.NoError(t, err)

	writeSegment(t, session.workDir(), 0)
	writeSegment(t, session.workDir(), 1)
	registry.reconcilePass(session)
	require.Equal(t, []int{4, 5}, session.CompletedSegments())

	// newStartTime=2 lands in segment 0, which was never encoded
	restarted, err := registry.HandleSeek(session, 2)
	require.NoError(t, err)
	assert.True(t, restarted)

	// realigned down to the segment boundary, total stays derived from the
	// full duration
	assert.Equal(t, float64(0), session.StartTime())
	assert.Equal(t, 10, session.TotalSegments())
	assert.Equal(t, StatusStarting, session.Status())
}

func TestSeekRestartPreservesLaterSegments(t *testing.T) {
	registry := newTestRegistry(t, 40)

	session, err := registry.GetOrCreateSession(context.Background(), "movie", 16, "")
	require.NoError(t, err)

	writeSegment(t, session.workDir(), 0)
	writeSegment(t, session.workDir(), 1)
	registry.reconcileDrain(session)
	require.Equal(t, []int{4, 5}, session.CompletedSegments())

	restarted, err := registry.HandleSeek(session, 0)
	require.NoError(t, err)
	require.True(t, restarted)

	// segments 4 and 5 sit past the new start, so they survive the restart
	assert.Equal(t, []int{4, 5}, session.CompletedSegments())
	assert.FileExists(t, session.SegmentPath(4))
	assert.FileExists(t, session.SegmentPath(5))

	// the work dir is gone, the new run starting at 0 writes into segmentDir
	assert.NoDirExists(t, session.workDir())
	assert.Equal(t, session.segmentDir(), session.encoderOutputDir())

	// segments below the new start were dropped
	assert.NoFileExists(t, session.SegmentPath(0))
}

func TestSeekRestartDropsEarlierSegments(t *testing.T) {
	registry := newTestRegistry(t, 80)

	session, err := registry.GetOrCreateSession(context.Background(), "movie", 0, "")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		writeSegment(t, session.segmentDir(), i)
	}
	registry.reconcilePass(session)
	require.Equal(t, []int{0, 1, 2}, session.CompletedSegments())

	// 15 segments ahead of current progress, past the catch-up budget
	restarted, err := registry.HandleSeek(session, 60)
	require.NoError(t, err)
	require.True(t, restarted)

	// everything encoded so far lies before the new start
	assert.Empty(t, session.CompletedSegments())
	assert.NoFileExists(t, session.SegmentPath(0))
	assert.Equal(t, session.workDir(), session.encoderOutputDir())
}

// a seek landing in the segment the encoder is producing right now is a
// zero-cost catch-up, not a restart
func TestSeekIntoCurrentSegmentIsNoop(t *testing.T) {
	registry := newTestRegistry(t, 40)

	session, err := registry.GetOrCreateSession(context.Background(), "movie", 16, "")
	require.NoError(t, err)
	require.False(t, session.HasSegment(4))

	restarted, err := registry.HandleSeek(session, 18)
	require.NoError(t, err)
	assert.False(t, restarted)
	assert.Equal(t, float64(16), session.StartTime())
}

// a leftover file numbered past the timeline must never be carried into the
// completed set by a restart, or completion would be declared with a middle
// segment missing
func TestSeekRestartDropsOutOfRangeSegments(t *testing.T) {
	registry := newTestRegistry(t, 40)

	session, err := registry.GetOrCreateSession(context.Background(), "movie", 16, "")
	require.NoError(t, err)

	writeSegment(t, session.segmentDir(), 9)
	writeSegment(t, session.segmentDir(), 10)

	restarted, err := registry.HandleSeek(session, 0)
	require.NoError(t, err)
	require.True(t, restarted)

	assert.Equal(t, []int{9}, session.CompletedSegments())
	assert.False(t, session.HasSegment(10))
	assert.NoFileExists(t, session.SegmentPath(10))

	// re-encoding the head must not be able to complete past the hole
	for i := 0; i < 3; i++ {
		writeSegment(t, session.segmentDir(), i)
	}
	registry.reconcileDrain(session)

	assert.Equal(t, []int{0, 1, 2, 9}, session.CompletedSegments())
	assert.False(t, session.isComplete())
}

func TestSeekAfterRestartReconcilesAgainstNewOffset(t *testing.T) {
	registry := newTestRegistry(t, 80)

	session, err := registry.GetOrCreateSession(context.Background(), "movie", 0, "")
	require.NoError(t, err)

	restarted, err := registry.HandleSeek(session, 60)
	require.NoError(t, err)
	require.True(t, restarted)

	// the restarted run numbers from 0 again, local 0 is now absolute 15
	writeSegment(t, session.workDir(), 0)
	registry.reconcilePass(session)

	assert.Equal(t, []int{15}, session.CompletedSegments())
	assert.FileExists(t, session.SegmentPath(15))
}
