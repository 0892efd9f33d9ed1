package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/nerrad567/minerctl/internal/infrastructure/config"
)

// defaultConfigPath is used when neither --config nor MINERCTL_CONFIG is set.
const defaultConfigPath = "config.yaml"

// configEnv names the environment variable holding the config file path.
const configEnv = "MINERCTL_CONFIG"

// configFlag holds the global --config value.
var configFlag string

// rootCmd is the base command when minerctl is called without subcommands.
var rootCmd = &cobra.Command{
	Use:   "minerctl",
	Short: "Supervise a GPU miner with tuning, telemetry and alerts",
	Long: `minerctl runs a GPU miner as a supervised child process.

It applies GPU tuning profiles around start and stop, parses the miner's
output into live telemetry, announces solo block wins, and exposes all of
it over an HTTP API, MQTT, InfluxDB and Prometheus.

Configuration is read from config.yaml in the working directory, the file
named by MINERCTL_CONFIG, or --config.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "config file (default $MINERCTL_CONFIG or ./config.yaml)")
}

// Execute runs the root command with ctx. Subcommands see ctx through
// cmd.Context() and stop when it is cancelled.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// configPath returns the config path and whether the user chose it.
func configPath() (string, bool) {
	if configFlag != "" {
		return configFlag, true
	}
	if p := os.Getenv(configEnv); p != "" {
		return p, true
	}
	return defaultConfigPath, false
}

// loadConfig loads the configuration. A missing default config.yaml falls
// back to built-in defaults resolved against the working directory; an
// explicitly named file must exist.
func loadConfig() (*config.Config, error) {
	path, explicit := configPath()

	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if explicit || !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("resolving working directory: %w", err)
	}
	cfg, err = config.Default(wd)
	if err != nil {
		return nil, fmt.Errorf("loading default config: %w", err)
	}
	return cfg, nil
}
