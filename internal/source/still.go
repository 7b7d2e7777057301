package source

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/png"
	"os"
	"sync/atomic"
	"time"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/andresmejia3/truthlens/internal/types"
)

// DefaultStillFPS is the emit rate of a Still source when none is configured.
const DefaultStillFPS = 10

// Still re-emits one image at a fixed interval, forever.
type Still struct {
	img      image.Image
	data     []byte
	interval time.Duration
	seq      uint64
	last     time.Time
	closed   atomic.Bool
}

// OpenStill decodes the image at path (JPEG, PNG, BMP or WebP).
func OpenStill(path string, interval time.Duration) (*Still, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	return NewStill(raw, interval)
}

// NewStill decodes raw image bytes.
func NewStill(raw []byte, interval time.Duration) (*Still, error) {
	img, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	s := &Still{img: img, interval: interval}
	if format == "jpeg" {
		s.data = raw
	}
	return s, nil
}

// Next waits out the remainder of the interval and returns the image again.
func (s *Still) Next(ctx context.Context) (*types.Frame, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if !s.last.IsZero() {
		wait := time.Until(s.last.Add(s.interval))
		if wait > 0 {
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return nil, ctx.Err()
			case <-t.C:
			}
		}
	}
	s.last = time.Now()
	s.seq++
	return types.NewFrame(s.img, s.data, s.seq), nil
}

// Close stops the source.
func (s *Still) Close() error {
	s.closed.Store(true)
	return nil
}
