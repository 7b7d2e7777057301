package cmd

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/andresmejia3/truthlens/internal/annotate"
	"github.com/andresmejia3/truthlens/internal/mjpeg"
	"github.com/andresmejia3/truthlens/internal/pipeline"
	"github.com/andresmejia3/truthlens/internal/scorer"
	"github.com/andresmejia3/truthlens/internal/server"
	"github.com/andresmejia3/truthlens/internal/source"
	"github.com/andresmejia3/truthlens/internal/types"
	"github.com/andresmejia3/truthlens/internal/utils"
)

var serveOpts Options

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Stream annotated video and live deception scores over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runServe(cmd, serveOpts)
	},
}

func init() {
	serveCmd.Flags().StringVarP(&serveOpts.InputPath, "input", "i", "/dev/video0", "Camera device, video file or MJPEG/RTSP URL")
	serveCmd.Flags().StringVarP(&serveOpts.Format, "format", "f", "", "ffmpeg input format (e.g. v4l2, avfoundation, dshow)")
	serveCmd.Flags().StringVar(&serveOpts.ImagePath, "image", "", "Serve a still image instead of a camera")
	serveCmd.Flags().IntVar(&serveOpts.FPS, "fps", 0, "Capture frame rate (0 keeps the source rate)")
	serveCmd.Flags().BoolVar(&serveOpts.Loop, "loop", false, "Loop video file inputs")
	serveCmd.Flags().StringVar(&serveOpts.Addr, "addr", ":5000", "HTTP listen address")
	serveCmd.Flags().DurationVar(&serveOpts.Poll, "poll", pipeline.DefaultPollInterval, "Detection worker poll interval")
	serveCmd.Flags().IntVarP(&serveOpts.Quality, "quality", "q", mjpeg.DefaultQuality, "JPEG quality of the stream (1-100)")
	serveCmd.Flags().StringSliceVar(&serveOpts.CORSOrigins, "cors-origin", nil, "Allowed browser origins for the JSON API (repeatable)")
	serveCmd.Flags().BoolVar(&serveOpts.Record, "record", false, "Persist closed score windows to PostgreSQL")
	addDetectorFlags(serveCmd, &serveOpts)
	rootCmd.AddCommand(serveCmd)
}

// validateServeFlags ensures all CLI arguments are valid before starting heavy processes.
func validateServeFlags(opts *Options) error {
	if opts.ImagePath != "" {
		if _, err := os.Stat(opts.ImagePath); err != nil {
			return fmt.Errorf("unable to access image: %w", err)
		}
	} else if opts.InputPath == "" {
		return fmt.Errorf("either --input or --image is required")
	}
	if opts.Addr == "" {
		return fmt.Errorf("--addr must not be empty")
	}
	if opts.Poll <= 0 {
		return fmt.Errorf("invalid poll interval %s: must be > 0", opts.Poll)
	}
	if opts.Quality < 1 || opts.Quality > 100 {
		return fmt.Errorf("invalid quality %d: must be between 1 and 100", opts.Quality)
	}
	if opts.FPS < 0 {
		return fmt.Errorf("invalid fps %d: must be >= 0", opts.FPS)
	}
	return validateDetectorFlags(opts)
}

func sourceConfig(opts Options) source.Config {
	info, err := os.Stat(opts.InputPath)
	isFile := err == nil && info.Mode().IsRegular()
	return source.Config{
		Input:    opts.InputPath,
		Format:   opts.Format,
		Image:    opts.ImagePath,
		FPS:      opts.FPS,
		Realtime: isFile, // play files at native speed, like a camera
		Loop:     opts.Loop && isFile,
	}
}

func runServe(cmd *cobra.Command, opts Options) (err error) {
	if err := validateServeFlags(&opts); err != nil {
		utils.ShowError("Configuration Error", err, nil)
		return err
	}
	ctx := cmd.Context()

	srcCfg := sourceConfig(opts)
	opener, err := source.NewOpener(srcCfg)
	if err != nil {
		utils.ShowError("Invalid capture source", err, nil)
		return err
	}

	detector, release, err := newDetector(ctx, opts)
	if err != nil {
		utils.ShowError("Failed to start AI worker", err, nil)
		return err
	}
	defer func() {
		err = multierr.Append(err, release())
	}()

	g, gctx := errgroup.WithContext(ctx)

	var (
		recorder  *pipeline.Recorder
		sessionID string
		history   server.History
	)
	if opts.Record {
		if err := connectDB(ctx); err != nil {
			utils.ShowError("Recording requested but the database is unavailable", err, nil)
			return err
		}
		sessionID = uuid.NewString()
		if err := DB.EnsureSession(ctx, sessionID, srcCfg.Describe()); err != nil {
			utils.ShowError("Failed to register session", err, nil)
			return err
		}
		recorder = pipeline.NewRecorder(DB, sessionID, 64, logger)
		history = DB
		g.Go(func() error { return recorder.Run(gctx) })
		fmt.Fprintf(os.Stderr, "💾 Recording session %s\n", sessionID)
	}

	sc := scorer.New(scorer.WithWindowHook(func(w types.ScoreWindow) {
		logger.Info("window closed", "score", fmt.Sprintf("%.3f", w.Score), "changes", w.EmotionChanges,
			"micro", fmt.Sprintf("%.3f", w.Microexpression), "gaze", w.GazeAversion, "dominant", w.Dominant)
		if recorder != nil {
			recorder.Record(w)
		}
	}))

	state := pipeline.NewState()
	detWorker := pipeline.NewWorker(state, detector, sc,
		pipeline.WithPollInterval(opts.Poll),
		pipeline.WithLogger(logger.With("component", "worker")))

	srv := server.New(server.Config{
		State:       state,
		Scorer:      sc,
		Opener:      opener,
		Detector:    detector,
		Worker:      detWorker,
		History:     history,
		Session:     sessionID,
		Annotate:    annotate.Annotate,
		Quality:     opts.Quality,
		CORSOrigins: opts.CORSOrigins,
		Logger:      logger.With("component", "http"),
	})

	fmt.Fprintf(os.Stderr, "🎥 Source: %s\n", srcCfg.Describe())
	fmt.Fprintf(os.Stderr, "🌐 Open http://localhost%s in a browser (Ctrl+C to stop)\n", displayAddr(opts.Addr))

	g.Go(func() error { return detWorker.Run(gctx) })
	g.Go(func() error { return srv.ListenAndServe(gctx, opts.Addr) })

	if err := g.Wait(); err != nil {
		utils.ShowError("Server failed", err, nil)
		return err
	}

	stats := state.Stats()
	fmt.Fprintf(os.Stderr, "\n🏁 Stopped. %d frames captured, %d detections (%d failed), %d windows scored, last score %.3f\n",
		stats.FramesPublished, stats.Detections, detWorker.Failures(), sc.Windows(), sc.Score())
	return nil
}

// displayAddr keeps only the port of addr for the startup banner.
func displayAddr(addr string) string {
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			return addr[i:]
		}
	}
	return addr
}
