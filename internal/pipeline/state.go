// Package pipeline connects frame capture, asynchronous emotion detection and scoring.
//
// Capture loops and the detection worker never call each other; they only meet in State.
package pipeline

import (
	"sync"
	"sync/atomic"

	"github.com/andresmejia3/truthlens/internal/types"
)

// BeginStatus is the outcome of State.TryBeginDetection.
type BeginStatus int

const (
	// Ready means the caller now owns the in-flight detection and must call EndDetection.
	Ready BeginStatus = iota
	// NoFrame means nothing has been captured yet.
	NoFrame
	// Busy means another detection is in flight; skip this tick.
	Busy
)

func (b BeginStatus) String() string {
	switch b {
	case Ready:
		return "ready"
	case NoFrame:
		return "no-frame"
	case Busy:
		return "busy"
	}
	return "unknown"
}

// State is the hand-off point between capture and detection: latest frame, latest
// result and the busy flag. Every method is non-blocking.
type State struct {
	mu     sync.Mutex
	frame  *types.Frame
	result types.DetectionResult
	busy   bool

	wake chan struct{}

	published  atomic.Uint64
	detections atomic.Uint64
	busySkips  atomic.Uint64
}

// StateStats is a snapshot of the hand-off counters.
type StateStats struct {
	FramesPublished uint64 `json:"frames_published"`
	Detections      uint64 `json:"detections"`
	BusySkips       uint64 `json:"busy_skips"`
	Busy            bool   `json:"busy"`
}

// NewState returns an empty State.
func NewState() *State {
	return &State{wake: make(chan struct{}, 1)}
}

// PublishFrame replaces the current frame, whatever the worker is doing.
func (s *State) PublishFrame(f *types.Frame) {
	s.mu.Lock()
	s.frame = f
	s.mu.Unlock()
	s.published.Add(1)

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// TryBeginDetection sets the busy flag and returns the current frame, unless a
// detection is already in flight or no frame has been captured.
func (s *State) TryBeginDetection() (*types.Frame, BeginStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.busy {
		s.busySkips.Add(1)
		return nil, Busy
	}
	if s.frame == nil {
		return nil, NoFrame
	}
	s.busy = true
	return s.frame, Ready
}

// EndDetection stores the result and clears the busy flag.
func (s *State) EndDetection(result types.DetectionResult) {
	if result == nil {
		result = types.DetectionResult{}
	}
	s.mu.Lock()
	s.result = result
	s.busy = false
	s.mu.Unlock()
	s.detections.Add(1)
}

// Frame returns the latest published frame, or nil.
func (s *State) Frame() *types.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame
}

// Result returns the latest detection result. ok is false until the first detection finishes.
func (s *State) Result() (result types.DetectionResult, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result, s.result != nil
}

// Wake delivers a signal after a frame is published. Signals coalesce.
func (s *State) Wake() <-chan struct{} {
	return s.wake
}

// Stats returns a snapshot of the counters.
func (s *State) Stats() StateStats {
	s.mu.Lock()
	busy := s.busy
	s.mu.Unlock()
	return StateStats{
		FramesPublished: s.published.Load(),
		Detections:      s.detections.Load(),
		BusySkips:       s.busySkips.Load(),
		Busy:            busy,
	}
}
