// minerctl supervises a GPU miner.
//
// It runs the miner as a child process, applies GPU tuning profiles around
// its lifetime, parses its output into telemetry and announces solo block
// wins on the console, the HTTP API, MQTT and InfluxDB.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nerrad567/minerctl/internal/cli"
	"github.com/nerrad567/minerctl/internal/ui"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cli.SetVersionInfo(version, commit, date)
	if err := cli.Execute(ctx); err != nil {
		fmt.Fprintln(os.Stderr, ui.ErrorStyle.Render("Error: "+err.Error()))
		cancel()
		os.Exit(1)
	}
}
