package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nerrad567/minerctl/internal/tuning"
	"github.com/nerrad567/minerctl/internal/ui"
)

var tuningGPU int

var tuningCmd = &cobra.Command{
	Use:   "tuning",
	Short: "Inspect and apply GPU tuning profiles",
	Long: `Inspect and apply the profiles of the external GPU tuning tool.

Commands:
  minerctl tuning profiles          List the profiles in the tool's ini file
  minerctl tuning test [profile]    Check the setup and run one trial apply
  minerctl tuning apply <profile>   Apply a profile now`,
}

var tuningProfilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "List tuning profiles",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		tuner, err := newTuner(cfg)
		if err != nil {
			return err
		}

		profiles, err := tuner.Profiles()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(profiles) == 0 {
			fmt.Fprintln(out, ui.MutedStyle.Render("No profiles found in "+tuning.INIPath(cfg.Tuning.ToolPath)))
			return nil
		}
		for _, p := range profiles {
			marker := "  "
			switch p {
			case cfg.Tuning.ProfileActive:
				marker = ui.SuccessStyle.Render("* ")
			case cfg.Tuning.ProfileIdle:
				marker = ui.MutedStyle.Render("- ")
			}
			fmt.Fprintf(out, "%s%s\n", marker, p)
		}
		return nil
	},
}

var tuningTestCmd = &cobra.Command{
	Use:   "test [profile]",
	Short: "Diagnose the tuning setup with one trial apply",
	Long: `Report the tool and ini paths, the profiles found, and the result of
applying one profile. The trial runs even when tuning.mode is none.

The profile defaults to tuning.profile_active.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		tuner, err := newTuner(cfg)
		if err != nil {
			return err
		}

		profile := cfg.Tuning.ProfileActive
		if len(args) == 1 {
			profile = args[0]
		}
		d := tuner.Diagnose(cmd.Context(), profile)
		fmt.Fprint(cmd.OutOrStdout(), d.String())
		if d.Error != "" {
			return errors.New("tuning test failed")
		}
		return nil
	},
}

var tuningApplyCmd = &cobra.Command{
	Use:   "apply <profile>",
	Short: "Apply a tuning profile",
	Long: `Apply a named profile to the configured GPU, or to --gpu.

Applying requires tuning.mode to be odnt and, for most tools, root.

Examples:
  minerctl tuning apply Kaspa
  minerctl tuning apply Default --gpu 1`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		tuner, err := newTuner(cfg)
		if err != nil {
			return err
		}

		gpuIndex := cfg.Tuning.GPUIndex
		if cmd.Flags().Changed("gpu") {
			gpuIndex = tuningGPU
		}

		res := tuner.Apply(cmd.Context(), args[0], gpuIndex)
		out := cmd.OutOrStdout()
		switch res.Outcome {
		case tuning.OutcomeSucceeded:
			fmt.Fprintln(out, ui.SuccessStyle.Render(fmt.Sprintf("Applied %s to gpu %d", res.Profile, res.GPUIndex)))
		case tuning.OutcomeNotAttempted:
			fmt.Fprintln(out, ui.WarningStyle.Render("Tuning is disabled (tuning.mode: none); nothing applied"))
		default:
			if res.Message != "" {
				fmt.Fprintln(out, res.Message)
			}
			return res.Err
		}
		if res.Message != "" {
			fmt.Fprintln(out, ui.MutedStyle.Render(res.Message))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tuningCmd)
	tuningCmd.AddCommand(tuningProfilesCmd)
	tuningCmd.AddCommand(tuningTestCmd)
	tuningCmd.AddCommand(tuningApplyCmd)

	tuningApplyCmd.Flags().IntVar(&tuningGPU, "gpu", 0, "GPU index (default tuning.gpu_index)")
}
