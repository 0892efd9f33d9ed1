package tuning

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Diagnosis is a report of the tuning setup and one trial invocation.
type Diagnosis struct {
	ToolPath  string   `json:"tool_path"`
	ToolFound bool     `json:"tool_found"`
	INIPath   string   `json:"ini_path"`
	INIFound  bool     `json:"ini_found"`
	Profiles  []string `json:"profiles"`

	// Command is the exact command line that was (or would be) run.
	Command  string `json:"command"`
	Ran      bool   `json:"ran"`
	ExitCode int    `json:"exit_code"`
	Output   string `json:"output,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Diagnose inspects the tool and ini file, then runs one trial apply of
// profile on the configured GPU.
//
// The trial runs regardless of Mode and of the cached profile list: it is
// an operator-initiated check. It still requires the tool to exist.
func (o *ODNT) Diagnose(ctx context.Context, profile string) Diagnosis {
	d := Diagnosis{
		ToolPath: o.cfg.ToolPath,
		INIPath:  INIPath(o.cfg.ToolPath),
		ExitCode: -1,
	}

	args := CommandArgs(profile, o.cfg.GPUIndex)
	d.Command = strings.Join(append([]string{o.cfg.ToolPath}, args...), " ")

	if _, err := os.Stat(d.ToolPath); err != nil {
		d.Error = fmt.Sprintf("%v: %s", ErrToolNotFound, d.ToolPath)
		return d
	}
	d.ToolFound = true

	if _, err := os.Stat(d.INIPath); err == nil {
		d.INIFound = true
	}

	o.InvalidateProfiles()
	profiles, err := o.Profiles()
	if err != nil {
		d.Error = err.Error()
	}
	d.Profiles = profiles

	if o.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.Timeout)
		defer cancel()
	}

	out, code, err := o.runner.Run(ctx, filepath.Dir(o.cfg.ToolPath), o.cfg.ToolPath, args...)
	d.Ran = true
	d.ExitCode = code
	d.Output = strings.TrimSpace(string(out))
	if err != nil {
		d.Error = err.Error()
	}
	return d
}

// String renders the diagnosis as the multi-line report shown by the CLI.
func (d Diagnosis) String() string {
	var b strings.Builder

	fmt.Fprintf(&b, "Tool: %s (%s)\n", d.ToolPath, foundWord(d.ToolFound))
	fmt.Fprintf(&b, "INI:  %s (%s)\n", d.INIPath, foundWord(d.INIFound))
	if len(d.Profiles) > 0 {
		b.WriteString("Profiles:\n")
		for _, p := range d.Profiles {
			fmt.Fprintf(&b, "  - %s\n", p)
		}
	} else {
		b.WriteString("Profiles: (none found)\n")
	}

	b.WriteString("\nTest apply:\n")
	fmt.Fprintf(&b, "  %s\n", d.Command)
	if d.Ran {
		fmt.Fprintf(&b, "  rc=%d\n", d.ExitCode)
	} else {
		b.WriteString("  not run\n")
	}
	if d.Output != "" {
		fmt.Fprintf(&b, "  output:\n%s\n", d.Output)
	}
	if d.Error != "" {
		fmt.Fprintf(&b, "  error: %s\n", d.Error)
	}
	return b.String()
}

func foundWord(ok bool) string {
	if ok {
		return "found"
	}
	return "missing"
}
