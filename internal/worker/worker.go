// Package worker runs emotion detection models out of process.
package worker

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/multierr"

	"github.com/andresmejia3/truthlens/internal/types"
	"github.com/andresmejia3/truthlens/internal/utils" // Using the SafeCommand wrapper
)

// ErrWorkerClosed is returned by a detector after Close.
var ErrWorkerClosed = errors.New("worker closed")

// Config locates the Python sidecar.
type Config struct {
	Python string // interpreter, default python3
	Script string // default python/emotion_worker.py
	Debug  bool   // ask the sidecar to log every frame to stderr
}

func (c Config) withDefaults() Config {
	if c.Python == "" {
		c.Python = "python3"
	}
	if c.Script == "" {
		c.Script = "python/emotion_worker.py"
	}
	return c
}

// PythonWorker owns one long-lived model process. Frames go in on stdin and
// results come back on FD 3, both framed as [uint32 BE length][payload].
//
// A PythonWorker handles one request at a time; wrap it in Serialized to share it.
type PythonWorker struct {
	ID       int
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser

	ctx      context.Context
	cfg      Config
	restarts int
	closed   bool
}

// NewPythonWorker starts the sidecar. ctx bounds the process lifetime.
func NewPythonWorker(ctx context.Context, id int, cfg Config) (*PythonWorker, error) {
	w := &PythonWorker{ID: id, ctx: ctx, cfg: cfg.withDefaults()}
	if err := w.start(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *PythonWorker) start() error {
	args := []string{"-u", w.cfg.Script}
	if w.cfg.Debug {
		args = append(args, "--debug")
	}
	py := utils.NewSafeCommandContext(w.ctx, w.cfg.Python, args...)

	// Create a side-channel pipe (FD 3) so model library chatter on stdout can't corrupt results
	r, pw, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	py.Cmd.ExtraFiles = []*os.File{pw}

	stdin, err := py.StdinPipe()
	if err != nil {
		pw.Close()
		r.Close()
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		pw.Close()
		r.Close()
		return fmt.Errorf("worker %d failed to start: %w", w.ID, err)
	}

	// Close the write-end in the parent so only the child holds it
	pw.Close()

	w.Cmd = py
	w.Stdin = stdin
	w.DataPipe = r
	return nil
}

// Communicate sends one request and reads one response.
func (w *PythonWorker) Communicate(data []byte) ([]byte, error) {
	// Protocol: [Length][Data]
	if err := binary.Write(w.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, err
	}
	if _, err := w.Stdin.Write(data); err != nil {
		return nil, err
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		return nil, err // A crashed interpreter (ImportError, OOM) surfaces here as EOF
	}

	respLen := binary.BigEndian.Uint32(header)
	respBody := make([]byte, respLen)
	_, err := io.ReadFull(w.DataPipe, respBody)
	return respBody, err
}

// Detect runs the model on one frame. If the process died on a previous call it is
// restarted first.
func (w *PythonWorker) Detect(ctx context.Context, frame *types.Frame) (types.DetectionResult, error) {
	if w.closed {
		return nil, ErrWorkerClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if w.Stdin == nil {
		if err := w.start(); err != nil {
			return nil, err
		}
		w.restarts++
	}

	data, err := frame.JPEG()
	if err != nil {
		return nil, err
	}

	resp, err := w.Communicate(data)
	if err != nil {
		logs := w.stop()
		if logs != "" {
			return nil, fmt.Errorf("worker %d crashed: %w\n%s", w.ID, err, logs)
		}
		return nil, fmt.Errorf("worker %d crashed: %w", w.ID, err)
	}
	return ParseResponse(resp)
}

// Restarts returns how many times the process has been restarted after a crash.
func (w *PythonWorker) Restarts() int { return w.restarts }

// stop tears down a dead process and returns whatever it wrote to stderr.
func (w *PythonWorker) stop() string {
	if w.Stdin != nil {
		w.Stdin.Close()
	}
	if w.DataPipe != nil {
		w.DataPipe.Close()
	}
	var logs string
	if w.Cmd != nil {
		w.Cmd.Wait()
		logs = w.Cmd.Stderr.String()
	}
	w.Cmd, w.Stdin, w.DataPipe = nil, nil, nil
	return logs
}

// Close stops the process. Closing stdin lets the sidecar exit cleanly.
func (w *PythonWorker) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	var err error
	if w.Stdin != nil {
		err = multierr.Append(err, w.Stdin.Close())
	}
	if w.DataPipe != nil {
		err = multierr.Append(err, w.DataPipe.Close())
	}
	if w.Cmd != nil {
		if waitErr := w.Cmd.Wait(); waitErr != nil {
			err = multierr.Append(err, fmt.Errorf("worker %d exited: %w", w.ID, waitErr))
		}
	}
	w.Cmd, w.Stdin, w.DataPipe = nil, nil, nil
	return err
}

// Serialized guards a detector with a mutex so several callers can share one instance.
type Serialized struct {
	mu sync.Mutex
	d  Detector
}

// Detector is the capability served by this package.
type Detector interface {
	Detect(ctx context.Context, frame *types.Frame) (types.DetectionResult, error)
}

// NewSerialized wraps d.
func NewSerialized(d Detector) *Serialized {
	return &Serialized{d: d}
}

// Detect calls the wrapped detector while holding the lock.
func (s *Serialized) Detect(ctx context.Context, frame *types.Frame) (types.DetectionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.Detect(ctx, frame)
}

// Close closes the wrapped detector if it is an io.Closer.
func (s *Serialized) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.d.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
