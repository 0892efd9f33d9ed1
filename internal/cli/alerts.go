package cli

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/nerrad567/minerctl/internal/events"
	"github.com/nerrad567/minerctl/internal/infrastructure/config"
	"github.com/nerrad567/minerctl/internal/ui"
)

// terminalBell rings the terminal when written to a tty.
const terminalBell = "\a"

// alertBuffer is the bus subscription buffer of the console printer.
const alertBuffer = 64

// alertPrinter writes operator-facing notices to the console: block wins,
// state transitions, warnings and tuning outcomes. Snapshots and raw log
// lines are left to the API and the rolling log.
type alertPrinter struct {
	out    io.Writer
	alerts config.AlertsConfig

	mu sync.Mutex
}

func newAlertPrinter(out io.Writer, alerts config.AlertsConfig) *alertPrinter {
	return &alertPrinter{out: out, alerts: alerts}
}

// Run prints events from bus until ctx is done or the bus is closed.
func (p *alertPrinter) Run(ctx context.Context, bus *events.Bus) {
	sub := bus.Subscribe(alertBuffer,
		events.KindBlockFound,
		events.KindStateChanged,
		events.KindWarning,
		events.KindTuning,
	)
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub.C():
			if !ok {
				return
			}
			p.Handle(e)
		}
	}
}

// Handle prints one event.
func (p *alertPrinter) Handle(e events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch ev := e.(type) {
	case events.BlockFound:
		p.block(ev)
	case events.StateChanged:
		line := fmt.Sprintf("%s -> %s", ev.From, ui.StateStyle(ev.To).Render(ev.To))
		if ev.PID > 0 {
			line += ui.MutedStyle.Render(fmt.Sprintf("  pid %d", ev.PID))
		}
		if ev.Err != "" {
			line += "  " + ui.ErrorStyle.Render(ev.Err)
		}
		p.println(ui.StatusLine("state", line))
	case events.Warning:
		p.println(ui.StatusLine("warning", ui.WarningStyle.Render(fmt.Sprintf("[%s] %s", ev.Code, ev.Message))))
	case events.TuningResult:
		style := ui.InfoStyle
		if ev.Err != "" {
			style = ui.ErrorStyle
		}
		msg := fmt.Sprintf("%s %s on gpu %d: %s", ev.Phase, ev.Profile, ev.GPUIndex, ev.Outcome)
		if ev.Err != "" {
			msg += " (" + ev.Err + ")"
		}
		p.println(ui.StatusLine("tuning", style.Render(msg)))
	}
}

func (p *alertPrinter) block(ev events.BlockFound) {
	if p.alerts.BlockSound {
		fmt.Fprint(p.out, terminalBell)
	}
	if p.alerts.BlockPopup {
		p.println(ui.BlockBanner(ev.RawLine, ev.Timestamp, ev.Generation))
		return
	}
	p.println(ui.StatusLine("block", ui.SuccessStyle.Render(ev.RawLine)))
}

func (p *alertPrinter) println(s string) {
	fmt.Fprintln(p.out, s)
}
