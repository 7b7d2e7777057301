// Package server exposes the live pipeline over HTTP.
package server

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"time"

	"github.com/rs/cors"
	"goji.io"
	"goji.io/pat"

	"github.com/andresmejia3/truthlens/internal/pipeline"
	"github.com/andresmejia3/truthlens/internal/report"
	"github.com/andresmejia3/truthlens/internal/source"
	"github.com/andresmejia3/truthlens/internal/types"
)

//go:embed static
var staticFS embed.FS

// ScoreReader exposes the published deception score.
type ScoreReader interface {
	Score() float64
	Windows() uint64
}

// FailureCounter reports failed detections.
type FailureCounter interface {
	Failures() uint64
}

// History reads persisted score windows.
type History interface {
	SessionWindows(ctx context.Context, sessionID string, limit int) ([]types.ScoreWindow, error)
}

// Config wires the server to the pipeline. Only State and Scorer are required.
type Config struct {
	State    *pipeline.State
	Scorer   ScoreReader
	Opener   source.Opener     // nil disables /video_feed
	Detector pipeline.Detector // nil disables /process_frame; must be safe to share with the worker
	Worker   FailureCounter
	History  History // nil disables /history
	Session  string  // default session for /history
	Reports  *report.Generator
	Annotate pipeline.AnnotateFunc
	Quality  int
	// CORSOrigins allows browser pages on other origins to call the API.
	CORSOrigins []string
	Logger      *slog.Logger
}

// Server serves the UI, the annotated stream and the JSON endpoints.
type Server struct {
	cfg         Config
	logger      *slog.Logger
	placeholder func() float64
	handler     http.Handler
}

// New builds the route table.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Reports == nil {
		cfg.Reports = report.New()
	}
	s := &Server{
		cfg:         cfg,
		logger:      cfg.Logger,
		placeholder: rand.Float64,
	}

	mux := goji.NewMux()
	mux.HandleFunc(pat.Get("/"), s.handleIndex)
	mux.HandleFunc(pat.Get("/video_feed"), s.handleVideoFeed)
	mux.HandleFunc(pat.Get("/get_emotions"), s.handleEmotions)
	mux.HandleFunc(pat.Get("/get_deception_score"), s.handleDeceptionScore)
	mux.HandleFunc(pat.Get("/generate_report"), s.handleReport)
	mux.HandleFunc(pat.Post("/process_frame"), s.handleProcessFrame)
	mux.HandleFunc(pat.Get("/stats"), s.handleStats)
	mux.HandleFunc(pat.Get("/history"), s.handleHistory)

	var h http.Handler = mux
	if len(cfg.CORSOrigins) > 0 {
		h = cors.New(cors.Options{
			AllowedOrigins: cfg.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost},
			AllowedHeaders: []string{"Content-Type"},
		}).Handler(mux)
	}
	s.handler = h
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled. Open streams see ctx cancellation
// through their request context, so shutdown does not wait on them forever.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, listener)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	httpServer := &http.Server{
		Handler:        s,
		ReadTimeout:    10 * time.Second,
		MaxHeaderBytes: 1 << 20,
		BaseContext:    func(net.Listener) context.Context { return ctx },
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("error shutting down http server", "err", err)
		}
	}()

	s.logger.Info("serving", "url", fmt.Sprintf("http://%s", listener.Addr().String()))
	if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	<-done
	return nil
}
