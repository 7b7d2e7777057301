package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/truthlens/internal/types"
	"github.com/andresmejia3/truthlens/internal/utils"
)

var (
	historyLimit    int
	historyEmotions string
)

var historyCmd = &cobra.Command{
	Use:   "history [session_id]",
	Short: "List recorded sessions, a session's score windows, or windows similar to an emotion profile",
	Long: `Without arguments, lists every recorded session.
With a session id, prints that session's score windows in order.
With --emotions, finds the windows whose mean emotion profile is closest to the given one.`,
	Args:        cobra.MaximumNArgs(1),
	Annotations: needsDB,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		ctx := cmd.Context()
		switch {
		case historyEmotions != "":
			return runSimilar(ctx, historyEmotions, historyLimit)
		case len(args) == 1:
			return runSessionWindows(ctx, args[0], historyLimit)
		default:
			return runListSessions(ctx)
		}
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 50, "Maximum number of windows to print")
	historyCmd.Flags().StringVarP(&historyEmotions, "emotions", "e", "", "Emotion profile to search for, e.g. angry=0.6,fear=0.3")
	rootCmd.AddCommand(historyCmd)
}

// parseScores parses "label=value,label=value" into Scores. Unknown labels and values
// outside [0,1] are rejected.
func parseScores(s string) (types.Scores, error) {
	known := make(map[types.Emotion]bool, len(types.Labels))
	for _, e := range types.Labels {
		known[e] = true
	}

	scores := types.Scores{}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		label, value, found := strings.Cut(part, "=")
		if !found {
			return nil, fmt.Errorf("invalid emotion %q: expected label=value", part)
		}
		e := types.Emotion(strings.ToLower(strings.TrimSpace(label)))
		if !known[e] {
			return nil, fmt.Errorf("unknown emotion %q", label)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: %w", e, err)
		}
		if v < 0 || v > 1 {
			return nil, fmt.Errorf("value for %s must be between 0 and 1, got %v", e, v)
		}
		scores[e] = v
	}
	if len(scores) == 0 {
		return nil, fmt.Errorf("no emotions given")
	}
	return scores, nil
}

func runListSessions(ctx context.Context) error {
	sessions, err := DB.ListSessions(ctx)
	if err != nil {
		utils.ShowError("Failed to list sessions", err, nil)
		return err
	}

	if len(sessions) == 0 {
		fmt.Println("No sessions found in database.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSOURCE\tWINDOWS\tAVG SCORE\tMAX SCORE\tSTARTED")
	fmt.Fprintln(w, "--\t----\t------\t-------\t---------\t---------\t-------")

	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%.3f\t%.3f\t%s\n",
			shortID(s.ID), s.Name, s.Source, s.Windows, s.AvgScore, s.MaxScore,
			s.StartedAt.Local().Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func runSessionWindows(ctx context.Context, sessionID string, limit int) error {
	windows, err := DB.SessionWindows(ctx, sessionID, limit)
	if err != nil {
		utils.ShowError("Failed to load session", err, nil)
		return err
	}
	if len(windows) == 0 {
		fmt.Printf("No windows recorded for session %s.\n", sessionID)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "CLOSED\tSCORE\tCHANGES\tMICRO\tGAZE\tDOMINANT")
	fmt.Fprintln(w, "------\t-----\t-------\t-----\t----\t--------")
	for _, win := range windows {
		fmt.Fprintf(w, "%s\t%.3f\t%d\t%.3f\t%.0f\t%s\n",
			win.ClosedAt.Local().Format("15:04:05"), win.Score, win.EmotionChanges,
			win.Microexpression, win.GazeAversion, win.Dominant)
	}
	return w.Flush()
}

func runSimilar(ctx context.Context, profile string, limit int) error {
	scores, err := parseScores(profile)
	if err != nil {
		utils.ShowError("Invalid emotion profile", err, nil)
		return err
	}

	matches, err := DB.FindSimilarWindows(ctx, scores, limit)
	if err != nil {
		utils.ShowError("Database search failed", err, nil)
		return err
	}
	if len(matches) == 0 {
		fmt.Println("❌ No recorded windows found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "SESSION\tCLOSED\tSCORE\tDOMINANT\tDISTANCE")
	fmt.Fprintln(w, "-------\t------\t-----\t--------\t--------")
	for _, m := range matches {
		fmt.Fprintf(w, "%s\t%s\t%.3f\t%s\t%.4f\n",
			shortID(m.SessionID), m.Window.ClosedAt.Local().Format("2006-01-02 15:04:05"),
			m.Window.Score, m.Window.Dominant, m.Distance)
	}
	return w.Flush()
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
