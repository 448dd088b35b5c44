package hlsession

import (
	"fmt"
	"math"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Session is the unit of orchestration: one source video, one start offset,
// one quality preset, one encoder run at a time. All mutable state is guarded
// by mu; every mutation is idempotent or monotone so that racing callbacks
// (encoder exit, reconciler ticks, eviction sweeps, HTTP calls) cannot
// corrupt it.
type Session struct {
	ID      string
	VideoID string
	UserID  string

	MediaPath string
	Duration  float64 // full source duration in seconds, never remaining

	Quality            Quality
	OutputDir          string
	MasterPlaylistPath string

	segmentDuration float64

	mu            sync.Mutex
	startTime     float64
	status        Status
	completed     map[int]struct{}
	totalSegments int
	lastAccess    time.Time
	reconciled    int // local indices handled in the current encoder run
	process       *encoderRun
	monitorStop   chan struct{}

	logger zerolog.Logger
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.status
}

// markActive transitions starting -> active; any other state is left alone.
func (s *Session) markActive() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == StatusStarting {
		s.status = StatusActive
	}
}

// markCompleted is terminal and idempotent; an errored session stays errored.
func (s *Session) markCompleted() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusError {
		s.status = StatusCompleted
	}
}

// markError is terminal and idempotent; a completed session stays completed.
func (s *Session) markError() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusCompleted {
		s.status = StatusError
	}
}

func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastAccess = time.Now()
}

func (s *Session) LastAccess() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lastAccess
}

func (s *Session) StartTime() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.startTime
}

func (s *Session) TotalSegments() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.totalSegments
}

func (s *Session) HasSegment(index int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.completed[index]
	return ok
}

// CompletedSegments returns a sorted copy of the completed set.
func (s *Session) CompletedSegments() []int {
	s.mu.Lock()
	defer s.mu.Unlock()

	indices := make([]int, 0, len(s.completed))
	for index := range s.completed {
		indices = append(indices, index)
	}
	sort.Ints(indices)
	return indices
}

// addCompleted records an absolute segment index. Out-of-range indices are
// dropped, keeping completed within [0, totalSegments) at all times.
func (s *Session) addCompleted(index int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index < 0 || index >= s.totalSegments {
		return false
	}

	if _, ok := s.completed[index]; ok {
		return false
	}

	s.completed[index] = struct{}{}
	return true
}

func (s *Session) isComplete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.completed) >= s.totalSegments
}

// startSegment is the absolute index the current encoder run's local
// segment 0 corresponds to.
func (s *Session) startSegment() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return int(math.Floor(s.startTime / s.segmentDuration))
}

// segmentDir holds the absolute-numbered segments served to clients.
func (s *Session) segmentDir() string {
	return filepath.Join(s.OutputDir, s.Quality.Name)
}

// workDir is where an encoder run started past offset zero writes its
// local-numbered segments before the reconciler renames them. Runs starting
// at zero write straight into segmentDir, where local and absolute
// numbering coincide.
func (s *Session) workDir() string {
	return filepath.Join(s.OutputDir, "work")
}

func (s *Session) encoderOutputDir() string {
	if s.startSegment() == 0 {
		return s.segmentDir()
	}
	return s.workDir()
}

func segmentName(index int) string {
	return fmt.Sprintf("%05d.ts", index)
}

var segmentNameRegex = regexp.MustCompile(`^([0-9]{5})\.ts$`)

// ParseSegmentName extracts the segment index from a segment filename.
func ParseSegmentName(name string) (int, bool) {
	matches := segmentNameRegex.FindStringSubmatch(name)
	if len(matches) != 2 {
		return 0, false
	}

	index, err := strconv.Atoi(matches[1])
	if err != nil {
		return 0, false
	}

	return index, true
}

func (s *Session) absoluteSegmentPath(index int) string {
	return filepath.Join(s.segmentDir(), segmentName(index))
}

// SegmentPath returns the on-disk path for an absolute segment index; the
// delivery endpoint stats it after checking HasSegment.
func (s *Session) SegmentPath(index int) string {
	return s.absoluteSegmentPath(index)
}
