package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/truthlens/internal/pipeline"
	"github.com/andresmejia3/truthlens/internal/worker"
)

// addDetectorFlags registers the flags shared by every command that runs the model.
func addDetectorFlags(cmd *cobra.Command, opts *Options) {
	cmd.Flags().StringVar(&opts.Detector, "detector", detectorPython, "Emotion detector backend: python (subprocess) or socket (msgpack over unix socket)")
	cmd.Flags().StringVar(&opts.SocketPath, "socket", "/tmp/truthlens.sock", "Unix socket of the model service (--detector socket)")
	cmd.Flags().StringVar(&opts.Script, "script", "python/emotion_worker.py", "Python sidecar script (--detector python)")
	cmd.Flags().StringVar(&opts.Python, "python", "python3", "Python interpreter (--detector python)")
	cmd.Flags().DurationVar(&opts.DetectTimeout, "detect-timeout", worker.DefaultSocketTimeout, "Per-frame timeout for the socket detector")
	cmd.Flags().BoolVarP(&opts.Debug, "debug", "d", false, "Ask the Python sidecar to log every frame")
}

func validateDetectorFlags(opts *Options) error {
	switch opts.Detector {
	case detectorPython:
		if _, err := os.Stat(opts.Script); err != nil {
			return fmt.Errorf("python sidecar %s not found: %w", opts.Script, err)
		}
	case detectorSocket:
		if opts.SocketPath == "" {
			return fmt.Errorf("--detector socket requires --socket")
		}
	default:
		return fmt.Errorf("invalid detector '%s'. Must be 'python' or 'socket'", opts.Detector)
	}
	return nil
}

// newDetector starts the configured backend. The returned detector is safe to share between
// the background worker and single-shot requests; release frees it.
func newDetector(ctx context.Context, opts Options) (d pipeline.Detector, release func() error, err error) {
	switch opts.Detector {
	case detectorSocket:
		sd := worker.NewSocketDetector(opts.SocketPath, opts.DetectTimeout)
		return sd, func() error { return nil }, nil
	default:
		fmt.Fprintln(os.Stderr, "🚀 Starting AI Engine...")
		start := time.Now()
		// We use ID 0 for the single shared worker
		pw, err := worker.NewPythonWorker(ctx, 0, worker.Config{
			Python: opts.Python,
			Script: opts.Script,
			Debug:  opts.Debug,
		})
		if err != nil {
			return nil, nil, err
		}
		logger.Debug("python worker started", "script", opts.Script, "took", time.Since(start))
		s := worker.NewSerialized(pw)
		return s, s.Close, nil
	}
}
