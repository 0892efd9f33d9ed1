package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/nerrad567/minerctl/internal/gpu"
	"github.com/nerrad567/minerctl/internal/ui"
)

var gpusJSON bool

var gpusCmd = &cobra.Command{
	Use:   "gpus",
	Short: "List the GPUs the pre-flight check sees",
	Long: `Probe the host for GPUs the same way "serve" does before starting the
miner: nvidia-smi first, then the kernel's DRM devices.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		info, err := gpu.Default().Probe(cmd.Context())
		out := cmd.OutOrStdout()
		if gpusJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			if encErr := enc.Encode(info); encErr != nil {
				return encErr
			}
			return err
		}
		printGPUs(out, info)
		return err
	},
}

func init() {
	rootCmd.AddCommand(gpusCmd)
	gpusCmd.Flags().BoolVar(&gpusJSON, "json", false, "print the probe result as JSON")
}

func printGPUs(w io.Writer, info gpu.Info) {
	if info.Empty() {
		fmt.Fprintln(w, ui.WarningStyle.Render("No GPU found. The miner will likely fail to start."))
		return
	}
	fmt.Fprintln(w, ui.HeaderStyle.Render(fmt.Sprintf("%d GPU(s)", len(info.Devices))))
	for _, d := range info.Devices {
		line := fmt.Sprintf("  [%d] %s %s", d.Index, ui.BoldStyle.Render(d.Name), ui.MutedStyle.Render(string(d.Vendor)+" via "+d.Source))
		if d.Temperature > 0 {
			line += fmt.Sprintf("  %d °C", d.Temperature)
		}
		if d.PowerWatts > 0 {
			line += fmt.Sprintf("  %.0f W", d.PowerWatts)
		}
		fmt.Fprintln(w, line)
	}
}
