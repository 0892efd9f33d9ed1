// Package metrics exports supervisor telemetry as Prometheus series.
//
// A Collector owns a private registry with Go runtime and process
// collectors plus these minerctl series, each labelled with the rig name:
//
//   - minerctl_hashrate_mhs, minerctl_power_watts, minerctl_temperature_celsius
//   - minerctl_shares{kind="accepted|rejected|invalid"}
//   - minerctl_state{state="idle|starting|running|stopping"} (one-hot)
//   - minerctl_blocks_found_total
//   - minerctl_tuning_applies_total{phase,outcome}
//   - minerctl_warnings_total{code}
//   - minerctl_unexpected_exits_total
//   - minerctl_bus_dropped_events_total
//
// Usage:
//
//	m := metrics.New(rig, bus.Dropped)
//	go m.Run(ctx, bus)
//	router.Handle("/metrics", m.Handler())
package metrics
