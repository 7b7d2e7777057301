package source

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"io"
	"sync"
	"sync/atomic"

	"github.com/andresmejia3/truthlens/internal/types"
	"github.com/andresmejia3/truthlens/internal/utils"
)

const megabyte = 1024 * 1024

// Stream decodes concatenated JPEGs (ffmpeg image2pipe output or an MJPEG body) from a reader.
type Stream struct {
	rc      io.ReadCloser
	scanner *bufio.Scanner
	seq     uint64
	corrupt atomic.Uint64

	closeOnce sync.Once
	closed    atomic.Bool
	closeErr  error
}

// NewStream wraps rc. Closing the Stream closes rc.
func NewStream(rc io.ReadCloser) *Stream {
	scanner := bufio.NewScanner(rc)
	scanner.Buffer(make([]byte, megabyte), 64*megabyte)
	scanner.Split(utils.SplitJpeg)
	return &Stream{rc: rc, scanner: scanner}
}

// Next returns the next decodable frame. Corrupt JPEGs are skipped.
func (s *Stream) Next(ctx context.Context) (*types.Frame, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if s.closed.Load() {
			return nil, ErrClosed
		}
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return nil, fmt.Errorf("frame scanner failed: %w", err)
			}
			return nil, io.EOF
		}

		// The scanner reuses its buffer; the frame keeps its own copy.
		data := bytes.Clone(s.scanner.Bytes())
		img, err := jpeg.Decode(bytes.NewReader(data))
		if err != nil {
			s.corrupt.Add(1)
			continue
		}
		s.seq++
		return types.NewFrame(img, data, s.seq), nil
	}
}

// Corrupt returns how many undecodable frames were skipped.
func (s *Stream) Corrupt() uint64 { return s.corrupt.Load() }

// Close closes the underlying reader. It is safe to call more than once.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.closeErr = s.rc.Close()
	})
	return s.closeErr
}
