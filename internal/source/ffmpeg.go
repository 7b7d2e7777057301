package source

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/multierr"

	"github.com/andresmejia3/truthlens/internal/utils"
)

// FFmpeg captures from any input ffmpeg can open: webcams, files, RTSP.
type FFmpeg struct {
	*Stream
	cmd *utils.SafeCommand

	closeOnce sync.Once
	closeErr  error
}

// OpenFFmpeg starts ffmpeg. The process is killed when ctx is done or on Close.
func OpenFFmpeg(ctx context.Context, opts utils.CaptureOptions) (*FFmpeg, error) {
	cmd := utils.NewFFmpegCaptureCmd(ctx, opts)

	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}
	return &FFmpeg{Stream: NewStream(out), cmd: cmd}, nil
}

// Close stops ffmpeg and reaps it. The process exit status is ignored when it was
// killed by Close itself.
func (f *FFmpeg) Close() error {
	f.closeOnce.Do(func() {
		err := f.Stream.Close()
		if f.cmd.Process != nil {
			_ = f.cmd.Process.Kill()
		}
		if waitErr := f.cmd.Wait(); waitErr != nil && !killed(waitErr) {
			if logs := strings.TrimSpace(f.cmd.Stderr.String()); logs != "" {
				waitErr = fmt.Errorf("%w: %s", waitErr, logs)
			}
			err = multierr.Append(err, fmt.Errorf("ffmpeg exited: %w", waitErr))
		}
		f.closeErr = err
	})
	return f.closeErr
}

// Logs returns what ffmpeg wrote to stderr so far.
func (f *FFmpeg) Logs() string {
	return f.cmd.Stderr.String()
}

func killed(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "signal: killed") || strings.Contains(msg, "file already closed")
}
