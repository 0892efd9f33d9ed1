package gpu

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// nvidiaQuery is the nvidia-smi field list parsed by ParseNvidiaSMI.
var nvidiaQuery = []string{
	"--query-gpu=index,name,temperature.gpu,power.draw",
	"--format=csv,noheader,nounits",
}

// CommandFunc runs a command and returns its standard output.
type CommandFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// NvidiaSMI probes NVIDIA GPUs with nvidia-smi.
type NvidiaSMI struct {
	// Binary is the nvidia-smi executable. Default: "nvidia-smi" from PATH.
	Binary string

	// Run overrides command execution, for tests.
	Run CommandFunc
}

// Probe runs nvidia-smi. A missing binary means no NVIDIA GPUs.
func (n *NvidiaSMI) Probe(ctx context.Context) (Info, error) {
	bin := n.Binary
	if bin == "" {
		bin = "nvidia-smi"
	}
	run := n.Run
	if run == nil {
		run = runCommand
	}

	out, err := run(ctx, bin, nvidiaQuery...)
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return Info{}, nil
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// nvidia-smi exits non-zero when the driver has no devices.
			return Info{}, nil
		}
		return Info{}, fmt.Errorf("running nvidia-smi: %w", err)
	}

	devs, err := ParseNvidiaSMI(string(out))
	if err != nil {
		return Info{}, err
	}
	return NewInfo(devs), nil
}

// ParseNvidiaSMI parses GPU rows from nvidia-smi CSV output.
// Expected input is from: nvidia-smi --query-gpu=index,name,temperature.gpu,power.draw --format=csv,noheader,nounits
//
// Returns nil, nil if no GPU is available (empty output or a failure message).
func ParseNvidiaSMI(output string) ([]Device, error) {
	output = strings.TrimSpace(output)

	// Handle missing GPU gracefully
	if output == "" {
		return nil, nil
	}

	// Check for common error indicators
	lowerOutput := strings.ToLower(output)
	if strings.Contains(lowerOutput, "no devices") ||
		strings.Contains(lowerOutput, "not found") ||
		strings.Contains(lowerOutput, "failed") {
		return nil, nil
	}

	var devs []Device
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		// Example: "0, NVIDIA GeForce RTX 3080, 65, 220.45"
		fields := strings.Split(line, ",")
		if len(fields) < 4 {
			return nil, fmt.Errorf("nvidia-smi row has insufficient fields: expected 4, got %d", len(fields))
		}

		// A GPU name may itself contain commas; the numeric columns are fixed.
		n := len(fields)
		d := Device{
			Name:   strings.TrimSpace(strings.Join(fields[1:n-2], ",")),
			Vendor: VendorNVIDIA,
			Source: "nvidia-smi",
		}

		idxStr := strings.TrimSpace(fields[0])
		idx, err := strconv.Atoi(idxStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse GPU index '%s': %w", idxStr, err)
		}
		d.Index = idx

		tempStr := strings.TrimSpace(fields[n-2])
		if tempStr != "" && tempStr != "[N/A]" {
			temp, err := strconv.Atoi(tempStr)
			if err != nil {
				return nil, fmt.Errorf("failed to parse GPU temperature '%s': %w", tempStr, err)
			}
			d.Temperature = temp
		}

		powerStr := strings.TrimSpace(fields[n-1])
		if powerStr != "" && powerStr != "[N/A]" {
			power, err := strconv.ParseFloat(powerStr, 64)
			if err != nil {
				return nil, fmt.Errorf("failed to parse GPU power '%s': %w", powerStr, err)
			}
			d.PowerWatts = power
		}

		devs = append(devs, d)
	}
	return devs, nil
}
