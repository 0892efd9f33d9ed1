package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/nerrad567/minerctl/internal/telemetry"
	"github.com/nerrad567/minerctl/internal/ui"
)

var parseJSON bool

// parseResult is the JSON output of `minerctl parse --json`.
type parseResult struct {
	Snapshot telemetry.Snapshot `json:"snapshot"`
	Blocks   []string           `json:"blocks"`
}

var parseCmd = &cobra.Command{
	Use:   "parse <file>",
	Short: "Replay a captured miner log through the telemetry parser",
	Long: `Feed a captured miner log through the same parser the supervisor uses
and print the resulting telemetry and any block-found lines.

Use "-" to read from standard input.

Examples:
  minerctl parse bzminer/bzminer_controller.log
  bzminer 2>&1 | tee run.log; minerctl parse --json run.log`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var r io.Reader = cmd.InOrStdin()
		if args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("opening %s: %w", args[0], err)
			}
			defer f.Close()
			r = f
		}

		snap, blocks, err := telemetry.ParseReader(r)
		if err != nil {
			return fmt.Errorf("reading %s: %w", args[0], err)
		}

		out := cmd.OutOrStdout()
		if parseJSON {
			if blocks == nil {
				blocks = []string{}
			}
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(parseResult{Snapshot: snap, Blocks: blocks})
		}
		printSnapshot(out, snap)
		printBlocks(out, blocks)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(parseCmd)
	parseCmd.Flags().BoolVar(&parseJSON, "json", false, "print the result as JSON")
}

func printSnapshot(w io.Writer, s telemetry.Snapshot) {
	fmt.Fprintln(w, ui.HeaderStyle.Render("Telemetry"))
	fmt.Fprintln(w, ui.StatusLine("hashrate", fmt.Sprintf("%.2f MH/s", s.Hashrate)))
	fmt.Fprintln(w, ui.StatusLine("shares", fmt.Sprintf("%d accepted, %d rejected, %d invalid", s.Accepted, s.Rejected, s.Invalid)))
	fmt.Fprintln(w, ui.StatusLine("power", fmt.Sprintf("%.0f W", s.Power)))
	fmt.Fprintln(w, ui.StatusLine("temperature", fmt.Sprintf("%.0f °C", s.Temperature)))
	if s.UpdatedAt.IsZero() {
		fmt.Fprintln(w, ui.MutedStyle.Render("  no telemetry lines recognised"))
	}
}

func printBlocks(w io.Writer, blocks []string) {
	fmt.Fprintln(w)
	if len(blocks) == 0 {
		fmt.Fprintln(w, ui.MutedStyle.Render("No blocks found."))
		return
	}
	fmt.Fprintln(w, ui.HeaderStyle.Render(fmt.Sprintf("Blocks found: %d", len(blocks))))
	for _, b := range blocks {
		fmt.Fprintf(w, "  %s\n", ui.SuccessStyle.Render(b))
	}
}
