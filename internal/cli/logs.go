package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/nerrad567/minerctl/internal/rollinglog"
	"github.com/nerrad567/minerctl/internal/telemetry"
	"github.com/nerrad567/minerctl/internal/ui"
)

// defaultTailBytes is how much of the log `minerctl logs` prints.
const defaultTailBytes = 16 * 1024

var (
	logsFollow bool
	logsBytes  int64
)

// logsCmd implements `minerctl logs` for reading the miner's rolling log.
var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Print the miner's rolling log",
	Long: `Print the end of the miner's rolling log, optionally following it.

The log is written by "minerctl serve" and holds every line the miner
printed, across restarts. Block-found lines are highlighted.

Examples:
  minerctl logs                 Print the last 16 KiB
  minerctl logs --bytes 65536   Print the last 64 KiB
  minerctl logs -f              Keep printing new lines until Ctrl+C`,
	Args: cobra.NoArgs,
	RunE: runLogs,
}

func init() {
	rootCmd.AddCommand(logsCmd)
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "follow the log as it grows")
	logsCmd.Flags().Int64Var(&logsBytes, "bytes", defaultTailBytes, "bytes of history to print")
}

func runLogs(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if logsBytes < 0 {
		return fmt.Errorf("--bytes must not be negative")
	}

	out := cmd.OutOrStdout()
	path := cfg.Miner.LogFile

	lines, err := rollinglog.TailLines(path, logsBytes)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if len(lines) == 0 && !logsFollow {
		fmt.Fprintln(out, ui.MutedStyle.Render("No miner output yet in "+path))
		return nil
	}
	for _, line := range lines {
		printLogLine(out, line)
	}

	if !logsFollow {
		return nil
	}
	return rollinglog.Follow(cmd.Context(), path, func(line string) {
		printLogLine(out, line)
	})
}

// printLogLine prints one miner line, highlighting block wins.
func printLogLine(w io.Writer, line string) {
	if telemetry.IsBlockFound(line) {
		line = ui.SuccessStyle.Bold(true).Render(line)
	}
	fmt.Fprintln(w, line)
}
