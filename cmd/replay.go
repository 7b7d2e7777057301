package cmd

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/andresmejia3/truthlens/internal/annotate"
	"github.com/andresmejia3/truthlens/internal/mjpeg"
	"github.com/andresmejia3/truthlens/internal/pipeline"
	"github.com/andresmejia3/truthlens/internal/scorer"
	"github.com/andresmejia3/truthlens/internal/source"
	"github.com/andresmejia3/truthlens/internal/types"
	"github.com/andresmejia3/truthlens/internal/utils"
)

var replayOpts Options

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Run a recorded video through the scoring pipeline offline",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runReplay(cmd.Context(), replayOpts)
	},
}

func init() {
	replayCmd.Flags().StringVarP(&replayOpts.InputPath, "input", "i", "", "Path to video")
	replayCmd.Flags().StringVarP(&replayOpts.OutputPath, "output", "o", "", "Write the annotated stream to this .mjpeg file")
	replayCmd.Flags().BoolVar(&replayOpts.Save, "save", false, "Write the annotated stream to "+outputDir+"/<session>.mjpeg")
	replayCmd.Flags().BoolVar(&replayOpts.Lockstep, "lockstep", false, "Detect every frame (deterministic) instead of skipping frames while the model is busy")
	replayCmd.Flags().DurationVar(&replayOpts.Poll, "poll", pipeline.DefaultPollInterval, "Detection worker poll interval")
	replayCmd.Flags().IntVarP(&replayOpts.Quality, "quality", "q", mjpeg.DefaultQuality, "JPEG quality of the output stream (1-100)")
	replayCmd.Flags().BoolVar(&replayOpts.Record, "record", false, "Persist closed score windows to PostgreSQL")
	addDetectorFlags(replayCmd, &replayOpts)

	replayCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(replayCmd)
}

// validateReplayFlags ensures all CLI arguments are valid before starting heavy processes.
func validateReplayFlags(opts *Options) error {
	info, err := os.Stat(opts.InputPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("input file does not exist: %w", err)
		}
		return fmt.Errorf("unable to access input file: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("input path %s is a directory, expected a video file", opts.InputPath)
	}
	if opts.Quality < 1 || opts.Quality > 100 {
		return fmt.Errorf("invalid quality %d: must be between 1 and 100", opts.Quality)
	}
	if !opts.Lockstep && opts.Poll <= 0 {
		return fmt.Errorf("invalid poll interval %s: must be > 0", opts.Poll)
	}
	if opts.OutputPath != "" && opts.Save {
		return fmt.Errorf("--output and --save are mutually exclusive")
	}
	return validateDetectorFlags(opts)
}

// progressSource advances the progress bar for every frame read.
type progressSource struct {
	source.Source
	bar *progressbar.ProgressBar
}

func (p progressSource) Next(ctx context.Context) (*types.Frame, error) {
	f, err := p.Source.Next(ctx)
	if err == nil {
		p.bar.Add(1)
	}
	return f, err
}

// discardEncoder drops frames without encoding them.
type discardEncoder struct{}

func (discardEncoder) WriteImage(image.Image) error { return nil }

func passthrough(f *types.Frame, _ types.DetectionResult) image.Image { return f.Image }

func runReplay(ctx context.Context, opts Options) (err error) {
	if err := validateReplayFlags(&opts); err != nil {
		utils.ShowError("Configuration Error", err, nil)
		return err
	}

	sessionID := utils.GenerateSourceID(opts.InputPath)
	fmt.Fprintf(os.Stderr, "📼 Processing Video ID: %s\n", sessionID[:12])

	var recorder *pipeline.Recorder
	if opts.Record {
		if err := connectDB(ctx); err != nil {
			utils.ShowError("Recording requested but the database is unavailable", err, nil)
			return err
		}
		if err := DB.EnsureSession(ctx, sessionID, opts.InputPath); err != nil {
			utils.ShowError("Failed to register video session", err, nil)
			return err
		}
		recorder = pipeline.NewRecorder(DB, sessionID, 256, logger)
	}

	// Output stream
	var (
		enc        pipeline.FrameEncoder = discardEncoder{}
		annotateFn pipeline.AnnotateFunc = passthrough
		outPath    = opts.OutputPath
	)
	if opts.Save {
		outPath = filepath.Join(outputDir, sessionID[:12]+".mjpeg")
	}
	if outPath != "" {
		if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
			utils.ShowError("Failed to create output directory", err, nil)
			return err
		}
		out, err := os.Create(outPath)
		if err != nil {
			utils.ShowError("Failed to create output file", err, nil)
			return err
		}
		defer out.Close()
		enc = mjpeg.NewWriter(out, opts.Quality)
		annotateFn = annotate.Annotate
	}

	detector, release, err := newDetector(ctx, opts)
	if err != nil {
		utils.ShowError("Failed to start AI worker", err, nil)
		return err
	}
	defer func() {
		err = multierr.Append(err, release())
	}()

	start := time.Now()
	var windows atomic.Int64
	sc := scorer.New(scorer.WithWindowHook(func(w types.ScoreWindow) {
		n := windows.Add(1)
		fmt.Fprintf(os.Stderr, "\n🪟 Window %d [%s] score=%.3f changes=%d micro=%.3f gaze=%.0f dominant=%s\n",
			n, fmtTime(time.Since(start)), w.Score, w.EmotionChanges, w.Microexpression, w.GazeAversion, w.Dominant)
		if recorder != nil {
			recorder.Record(w)
		}
	}))

	state := pipeline.NewState()
	detWorker := pipeline.NewWorker(state, detector, sc,
		pipeline.WithPollInterval(opts.Poll),
		pipeline.WithLogger(logger.With("component", "worker")))

	// Get total frames for progress bar
	totalVideoFrames := utils.GetTotalFrames(ctx, opts.InputPath)
	if totalVideoFrames <= 0 {
		// Fallback to a spinner or unknown total if ffprobe fails
		totalVideoFrames = -1
	}
	bar := progressbar.NewOptions(totalVideoFrames,
		progressbar.OptionSetDescription("🔍 TruthLens Replay"),
		progressbar.OptionSetWriter(os.Stderr), // Write bar to Stderr
		progressbar.OptionShowCount(),
	)

	ff, err := source.OpenFFmpeg(ctx, utils.CaptureOptions{Input: opts.InputPath})
	if err != nil {
		utils.ShowError("Failed to start FFmpeg", err, nil)
		return err
	}
	src := progressSource{Source: ff, bar: bar}

	g, gctx := errgroup.WithContext(ctx)
	// The worker and recorder outlive the stream; they stop once it is done.
	bgCtx, stopBackground := context.WithCancel(gctx)
	defer stopBackground()

	if recorder != nil {
		g.Go(func() error { return recorder.Run(bgCtx) })
	}

	var frames int
	if opts.Lockstep {
		g.Go(func() error {
			defer stopBackground()
			var err error
			frames, err = pipeline.StreamLockstep(gctx, src, detWorker, annotateFn, enc)
			return err
		})
	} else {
		g.Go(func() error { return detWorker.Run(bgCtx) })
		g.Go(func() error {
			defer stopBackground()
			var err error
			frames, err = pipeline.Stream(gctx, src, state, annotateFn, enc)
			return err
		})
	}

	streamErr := g.Wait()
	closeErr := ff.Close()
	if streamErr != nil {
		utils.ShowError("Replay failed", streamErr, nil)
		return streamErr
	}
	if closeErr != nil {
		utils.ShowError("FFmpeg execution failed", closeErr, nil)
		return closeErr
	}
	if ff.Corrupt() > 0 {
		logger.Warn("skipped undecodable frames", "count", ff.Corrupt())
	}

	bar.Finish()
	stats := state.Stats()
	fmt.Fprintf(os.Stderr, "\n🏁 Replay Complete. %d frames, %d detections (%d failed), %d windows in %s. Final score %.3f\n",
		frames, stats.Detections, detWorker.Failures(), sc.Windows(), fmtTime(time.Since(start)), sc.Score())
	if recorder != nil {
		fmt.Fprintf(os.Stderr, "💾 Saved %d windows to session %s (dropped %d)\n", recorder.Written(), sessionID[:12], recorder.Dropped())
	}
	if outPath != "" {
		fmt.Fprintf(os.Stderr, "🎞️  Annotated stream written to %s\n", outPath)
	}
	return nil
}

func fmtTime(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
