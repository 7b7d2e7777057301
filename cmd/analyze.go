package cmd

import (
	"context"
	"fmt"
	"image/jpeg"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/truthlens/internal/annotate"
	"github.com/andresmejia3/truthlens/internal/report"
	"github.com/andresmejia3/truthlens/internal/source"
	"github.com/andresmejia3/truthlens/internal/types"
	"github.com/andresmejia3/truthlens/internal/utils"
)

var analyzeOpts Options

var analyzeCmd = &cobra.Command{
	Use:   "analyze <image_path>",
	Short: "Detect faces and emotions in a single image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		analyzeOpts.ImagePath = args[0]
		return runAnalyze(cmd.Context(), analyzeOpts)
	},
}

func init() {
	analyzeCmd.Flags().StringVarP(&analyzeOpts.OutputPath, "output", "o", "", "Write the annotated image to this JPEG file")
	analyzeCmd.Flags().IntVarP(&analyzeOpts.Quality, "quality", "q", 90, "JPEG quality of the annotated image (1-100)")
	addDetectorFlags(analyzeCmd, &analyzeOpts)
	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(ctx context.Context, opts Options) (err error) {
	if _, err := os.Stat(opts.ImagePath); os.IsNotExist(err) {
		utils.ShowError("Input file does not exist", err, nil)
		return err
	}
	if opts.Quality < 1 || opts.Quality > 100 {
		err := fmt.Errorf("invalid quality %d: must be between 1 and 100", opts.Quality)
		utils.ShowError("Configuration Error", err, nil)
		return err
	}
	if err := validateDetectorFlags(&opts); err != nil {
		utils.ShowError("Configuration Error", err, nil)
		return err
	}

	still, err := source.OpenStill(opts.ImagePath, 0)
	if err != nil {
		utils.ShowError("Failed to read image file", err, nil)
		return err
	}
	defer still.Close()

	frame, err := still.Next(ctx)
	if err != nil {
		utils.ShowError("Failed to decode image", err, nil)
		return err
	}

	detector, release, err := newDetector(ctx, opts)
	if err != nil {
		utils.ShowError("Failed to start AI worker", err, nil)
		return err
	}
	defer func() {
		if cerr := release(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	fmt.Fprintln(os.Stderr, "🔍 Analyzing faces...")
	result, err := detector.Detect(ctx, frame)
	if err != nil {
		utils.ShowError("AI processing failed", err, nil)
		return err
	}

	if len(result) == 0 {
		fmt.Println("❌ No faces detected in the provided image.")
		return nil
	}

	printFaces(result)

	text, _ := report.New().Generate(result)
	fmt.Printf("\n📝 %s\n", text)

	if opts.OutputPath == "" {
		return nil
	}
	out, err := os.Create(opts.OutputPath)
	if err != nil {
		utils.ShowError("Failed to create output file", err, nil)
		return err
	}
	defer out.Close()
	if err := jpeg.Encode(out, annotate.Annotate(frame, result), &jpeg.Options{Quality: opts.Quality}); err != nil {
		utils.ShowError("Failed to write annotated image", err, nil)
		return err
	}
	fmt.Fprintf(os.Stderr, "🖼️  Annotated image written to %s\n", opts.OutputPath)
	return nil
}

func printFaces(result types.DetectionResult) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "FACE\tBOX\tLABEL\tEYES\tTOP EMOTIONS")
	fmt.Fprintln(w, "----\t---\t-----\t----\t------------")
	for i, f := range result {
		label, _, _ := annotate.Label(f)
		eyes := "no"
		if f.EyesVisible {
			eyes = "yes"
		}
		fmt.Fprintf(w, "%d\t%d,%d %dx%d\t%s\t%s\t%s\n",
			i+1, f.Box.X, f.Box.Y, f.Box.Width, f.Box.Height, label, eyes, topEmotions(f.Emotions, 3))
	}
	w.Flush()
}

// topEmotions formats the n highest scores, best first.
func topEmotions(s types.Scores, n int) string {
	type kv struct {
		e types.Emotion
		v float64
	}
	all := make([]kv, 0, len(s))
	for e, v := range s {
		all = append(all, kv{e, v})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].v != all[j].v {
			return all[i].v > all[j].v
		}
		return all[i].e < all[j].e
	})
	if len(all) > n {
		all = all[:n]
	}
	parts := make([]string, len(all))
	for i, p := range all {
		parts[i] = fmt.Sprintf("%s=%.2f", p.e, p.v)
	}
	return strings.Join(parts, " ")
}
