// Package scorer derives the rolling deception score from successive emotion detections.
package scorer

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/andresmejia3/truthlens/internal/types"
)

// WindowSize is the number of face-bearing detections per rolling window.
const WindowSize = 30

// Scorer keeps the emotion window and publishes the score each time the window closes.
//
// Observe must only be called from one goroutine (the detection worker). Score may be
// called from any goroutine at any time.
type Scorer struct {
	// window state, owned by the observing goroutine
	prev    types.Scores
	changes int
	frames  int

	score    atomic.Uint64 // math.Float64bits of the published score
	windows  atomic.Uint64
	onWindow func(types.ScoreWindow)
	now      func() time.Time
}

// Option configures a Scorer.
type Option func(*Scorer)

// WithWindowHook registers a callback invoked synchronously every time a window closes.
// The callback must not block.
func WithWindowHook(fn func(types.ScoreWindow)) Option {
	return func(s *Scorer) { s.onWindow = fn }
}

// New creates a Scorer with a published score of 0.
func New(opts ...Option) *Scorer {
	s := &Scorer{now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Observe feeds one detection result into the window. Results without a face are ignored.
func (s *Scorer) Observe(result types.DetectionResult) {
	face, ok := result.First()
	if !ok {
		return
	}
	current := face.Emotions.Clone()
	if current == nil {
		current = types.Scores{}
	}

	var micro float64
	if s.prev != nil {
		curDom, _ := current.Dominant()
		prevDom, _ := s.prev.Dominant()
		if curDom != prevDom {
			s.changes++
		}
		for _, l := range types.Labels {
			micro += math.Abs(current[l] - s.prev[l])
		}
	}

	gaze := 1.0
	if face.EyesVisible {
		gaze = 0
	}

	s.prev = current
	s.frames++
	if s.frames < WindowSize {
		return
	}

	// The change rate is window-wide while micro and gaze come from the closing cycle only.
	score := (float64(s.changes)/WindowSize + micro + gaze) / 3
	s.score.Store(math.Float64bits(score))
	s.windows.Add(1)

	if s.onWindow != nil {
		dom, _ := current.Dominant()
		s.onWindow(types.ScoreWindow{
			ClosedAt:        s.now(),
			Score:           score,
			EmotionChanges:  s.changes,
			Microexpression: micro,
			GazeAversion:    gaze,
			Dominant:        dom,
			Emotions:        current.Clone(),
		})
	}

	s.changes = 0
	s.frames = 0
}

// Score returns the last published score, 0 before the first window closes.
func (s *Scorer) Score() float64 {
	return math.Float64frombits(s.score.Load())
}

// Windows returns how many windows have closed so far.
func (s *Scorer) Windows() uint64 {
	return s.windows.Load()
}
