package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/truthlens/internal/utils"
)

var (
	resetSessions bool
	resetFiles    bool
	resetYes      bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset system state (recorded sessions, saved streams)",
	Long:  "Clears all data. By default, it resets everything. Use flags to clear specific components.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		// If no flags are set, default to clearing EVERYTHING
		if !resetSessions && !resetFiles {
			resetSessions = true
			resetFiles = true
		}

		reader := bufio.NewReader(cmd.InOrStdin())

		if resetSessions {
			if resetYes || confirm(reader, cmd.OutOrStdout(), "⚠️  Are you sure you want to DROP all recorded sessions?") {
				if err := connectDB(cmd.Context()); err != nil {
					utils.ShowError("Failed to reset database", err, nil)
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "🗑️  Clearing Database...")
				if err := DB.Reset(cmd.Context()); err != nil {
					utils.ShowError("Failed to reset database", err, nil)
					return err
				}
			}
		}

		if resetFiles {
			if resetYes || confirm(reader, cmd.OutOrStdout(), "⚠️  Are you sure you want to delete all saved streams?") {
				fmt.Fprintln(cmd.OutOrStdout(), "🗑️  Clearing Output Files...")
				removeDir(outputDir)
			}
		}

		fmt.Fprintln(cmd.OutOrStdout(), "✨ System Reset Complete.")
		return nil
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetSessions, "sessions", false, "Clear recorded sessions from PostgreSQL")
	resetCmd.Flags().BoolVar(&resetFiles, "files", false, "Clear saved annotated streams")
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "Do not ask for confirmation")
	rootCmd.AddCommand(resetCmd)
}

func confirm(r *bufio.Reader, w io.Writer, prompt string) bool {
	fmt.Fprintf(w, "%s [y/N]: ", prompt)
	res, _ := r.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}

func removeDir(path string) {
	if err := os.RemoveAll(path); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  Failed to remove %s: %v\n", path, err)
	}
}
