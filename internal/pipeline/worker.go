package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/andresmejia3/truthlens/internal/types"
)

// DefaultPollInterval is how often the worker re-checks State when no frame wakes it.
const DefaultPollInterval = 30 * time.Millisecond

// Detector finds faces and their emotion scores in a frame.
type Detector interface {
	Detect(ctx context.Context, frame *types.Frame) (types.DetectionResult, error)
}

// Observer consumes finished detection results (the deception scorer).
type Observer interface {
	Observe(result types.DetectionResult)
}

// Worker repeatedly detects the latest frame in State, skipping ticks while a detection is in flight.
type Worker struct {
	state    *State
	detector Detector
	observer Observer
	interval time.Duration
	logger   *slog.Logger

	failures atomic.Uint64
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithPollInterval overrides DefaultPollInterval.
func WithPollInterval(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithLogger sets the worker logger.
func WithLogger(l *slog.Logger) WorkerOption {
	return func(w *Worker) { w.logger = l }
}

// NewWorker creates a worker. observer may be nil.
func NewWorker(state *State, detector Detector, observer Observer, opts ...WorkerOption) *Worker {
	w := &Worker{
		state:    state,
		detector: detector,
		observer: observer,
		interval: DefaultPollInterval,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run loops until ctx is cancelled. A new frame triggers work immediately; otherwise
// the worker polls every interval.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Debug("detection worker started", "poll", w.interval)
	for {
		w.Step(ctx)

		select {
		case <-ctx.Done():
			w.logger.Debug("detection worker stopped")
			return nil
		case <-w.state.Wake():
		case <-ticker.C:
		}
	}
}

// Step performs at most one detection. It reports whether a detection ran.
func (w *Worker) Step(ctx context.Context) bool {
	frame, status := w.state.TryBeginDetection()
	if status != Ready {
		if status == Busy {
			w.logger.Debug("detection in flight, skipping tick")
		}
		return false
	}

	result, err := w.detect(ctx, frame)
	if err != nil {
		w.failures.Add(1)
		w.logger.Warn("emotion detection failed", "seq", frame.Seq, "err", err)
		result = types.DetectionResult{}
	}

	w.state.EndDetection(result)
	if w.observer != nil {
		w.observer.Observe(result)
	}
	return true
}

// detect calls the detector, converting a panic into an error so the loop survives it.
func (w *Worker) detect(ctx context.Context, frame *types.Frame) (result types.DetectionResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("detector panicked: %v", r)
		}
	}()
	return w.detector.Detect(ctx, frame)
}

// Failures returns the number of failed detections.
func (w *Worker) Failures() uint64 {
	return w.failures.Load()
}
