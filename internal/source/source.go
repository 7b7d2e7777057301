// Package source produces frames from cameras, video files, MJPEG streams and still images.
package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/andresmejia3/truthlens/internal/types"
	"github.com/andresmejia3/truthlens/internal/utils"
)

// ErrClosed is returned by Next after Close.
var ErrClosed = errors.New("source closed")

// Source yields frames until it is exhausted. Next returns io.EOF when the input ends.
type Source interface {
	Next(ctx context.Context) (*types.Frame, error)
	Close() error
}

// Opener opens a fresh Source. Each stream consumer gets its own.
type Opener func(ctx context.Context) (Source, error)

// Config selects and configures a source.
type Config struct {
	Input    string // device, file or http(s) URL
	Format   string // ffmpeg input format
	Image    string // still image path; takes precedence over Input
	FPS      int
	Realtime bool
	Loop     bool
	Client   *http.Client
}

// NewOpener returns an Opener for cfg.
//
//	Image set               -> Still
//	http(s) URL, no Format  -> MJPEG over HTTP
//	anything else           -> ffmpeg
func NewOpener(cfg Config) (Opener, error) {
	switch {
	case cfg.Image != "":
		fps := cfg.FPS
		if fps <= 0 {
			fps = DefaultStillFPS
		}
		interval := time.Second / time.Duration(fps)
		return func(ctx context.Context) (Source, error) {
			return OpenStill(cfg.Image, interval)
		}, nil
	case cfg.Input == "":
		return nil, errors.New("no input configured")
	case cfg.Format == "" && (strings.HasPrefix(cfg.Input, "http://") || strings.HasPrefix(cfg.Input, "https://")):
		return func(ctx context.Context) (Source, error) {
			return OpenURL(ctx, cfg.Client, cfg.Input)
		}, nil
	default:
		opts := utils.CaptureOptions{
			Input:    cfg.Input,
			Format:   cfg.Format,
			Realtime: cfg.Realtime,
			FPS:      cfg.FPS,
			Loop:     cfg.Loop,
		}
		return func(ctx context.Context) (Source, error) {
			return OpenFFmpeg(ctx, opts)
		}, nil
	}
}

// Describe returns a short human-readable name for cfg's input.
func (cfg Config) Describe() string {
	if cfg.Image != "" {
		return fmt.Sprintf("image %s", cfg.Image)
	}
	if cfg.Format != "" {
		return fmt.Sprintf("%s %s", cfg.Format, cfg.Input)
	}
	return cfg.Input
}
