package pipeline

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/andresmejia3/truthlens/internal/types"
)

// WindowSink persists closed score windows.
type WindowSink interface {
	InsertWindow(ctx context.Context, sessionID string, w types.ScoreWindow) error
}

// Recorder queues closed windows from the scorer and writes them to a sink from its own
// goroutine, so the detection worker never waits on the database.
type Recorder struct {
	sink    WindowSink
	session string
	queue   chan types.ScoreWindow
	logger  *slog.Logger

	written atomic.Uint64
	dropped atomic.Uint64
}

// NewRecorder creates a recorder with room for capacity pending windows.
func NewRecorder(sink WindowSink, sessionID string, capacity int, logger *slog.Logger) *Recorder {
	if capacity < 1 {
		capacity = 16
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		sink:    sink,
		session: sessionID,
		queue:   make(chan types.ScoreWindow, capacity),
		logger:  logger,
	}
}

// Record enqueues a window, dropping it if the queue is full.
func (r *Recorder) Record(w types.ScoreWindow) {
	select {
	case r.queue <- w:
	default:
		r.dropped.Add(1)
		r.logger.Warn("score window dropped, recorder queue full", "session", r.session)
	}
}

// Run drains the queue until ctx is cancelled, then flushes what is left.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		select {
		case w := <-r.queue:
			r.write(ctx, w)
		case <-ctx.Done():
			r.flush()
			return nil
		}
	}
}

func (r *Recorder) flush() {
	// Use Background here because ctx is already cancelled and pending windows still need writing.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case w := <-r.queue:
			r.write(ctx, w)
		default:
			return
		}
	}
}

func (r *Recorder) write(ctx context.Context, w types.ScoreWindow) {
	if err := r.sink.InsertWindow(ctx, r.session, w); err != nil {
		r.logger.Error("failed to persist score window", "session", r.session, "err", err)
		return
	}
	r.written.Add(1)
	r.logger.Debug("score window persisted", "session", r.session, "score", w.Score)
}

// Written returns the number of windows persisted.
func (r *Recorder) Written() uint64 { return r.written.Load() }

// Dropped returns the number of windows discarded because the queue was full.
func (r *Recorder) Dropped() uint64 { return r.dropped.Load() }
