package influxdb

import (
	"context"

	"github.com/nerrad567/minerctl/internal/events"
)

const sinkBuffer = 64

// Handle writes one bus event. Other kinds are ignored.
func (c *Client) Handle(e events.Event) {
	switch ev := e.(type) {
	case events.SnapshotEvent:
		c.WriteTelemetry(ev.Generation, ev.Snapshot, ev.Timestamp)
	case events.BlockFound:
		c.WriteBlock(ev)
	case events.TuningResult:
		c.WriteTuning(ev)
	}
}

// Run writes events from bus until ctx is done or the bus is closed.
func (c *Client) Run(ctx context.Context, bus *events.Bus) {
	sub := bus.Subscribe(sinkBuffer, events.KindSnapshot, events.KindBlockFound, events.KindTuning)
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub.C():
			if !ok {
				return
			}
			c.Handle(e)
		}
	}
}
