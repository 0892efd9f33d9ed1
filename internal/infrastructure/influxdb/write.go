package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/minerctl/internal/events"
	"github.com/nerrad567/minerctl/internal/telemetry"
)

// Measurement names.
const (
	MeasurementTelemetry = "miner_telemetry"
	MeasurementBlock     = "miner_block"
	MeasurementTuning    = "miner_tuning"
)

// TelemetryPoint builds the telemetry point of a snapshot.
func TelemetryPoint(rig string, gen uint64, s telemetry.Snapshot, ts time.Time) *write.Point {
	return write.NewPoint(MeasurementTelemetry,
		map[string]string{"rig": rig},
		map[string]any{
			"hashrate_mhs":  s.Hashrate,
			"accepted":      s.Accepted,
			"rejected":      s.Rejected,
			"invalid":       s.Invalid,
			"power_w":       s.Power,
			"temperature_c": s.Temperature,
			"generation":    gen,
		},
		ts,
	)
}

// BlockPoint builds the point recording a block win.
func BlockPoint(rig string, e events.BlockFound) *write.Point {
	return write.NewPoint(MeasurementBlock,
		map[string]string{"rig": rig},
		map[string]any{
			"id":         e.ID.String(),
			"raw_line":   e.RawLine,
			"generation": e.Generation,
			"count":      1,
		},
		e.Timestamp,
	)
}

// TuningPoint builds the point recording a tuning application.
func TuningPoint(rig string, e events.TuningResult) *write.Point {
	ok := 0
	if e.Outcome == "succeeded" {
		ok = 1
	}
	return write.NewPoint(MeasurementTuning,
		map[string]string{
			"rig":     rig,
			"phase":   e.Phase,
			"outcome": e.Outcome,
			"profile": e.Profile,
		},
		map[string]any{"ok": ok, "gpu_index": e.GPUIndex},
		e.Timestamp,
	)
}

// WriteTelemetry queues a telemetry point. Snapshots never updated by the
// miner are skipped.
func (c *Client) WriteTelemetry(gen uint64, s telemetry.Snapshot, ts time.Time) {
	if !c.IsConnected() || s.UpdatedAt.IsZero() {
		return
	}
	c.writer.WritePoint(TelemetryPoint(c.rig, gen, s, ts))
}

// WriteBlock queues a block point and flushes so a win is never held in a batch.
func (c *Client) WriteBlock(e events.BlockFound) {
	if !c.IsConnected() {
		return
	}
	c.writer.WritePoint(BlockPoint(c.rig, e))
	c.writer.Flush()
}

// WriteTuning queues a tuning point.
func (c *Client) WriteTuning(e events.TuningResult) {
	if !c.IsConnected() {
		return
	}
	c.writer.WritePoint(TuningPoint(c.rig, e))
}
