// Package events is the notification sink between the supervisor and its
// consumers (API WebSocket hub, MQTT, InfluxDB, history, metrics, CLI).
//
// The supervisor publishes typed events (BlockFound, SnapshotEvent,
// StateChanged, Warning, TuningResult, LogLine) on a Bus. Consumers either
// register a synchronous callback with OnEvent or take a buffered
// Subscription and drain it on their own goroutine.
//
// A slow subscriber never stalls the miner's output reader: when its buffer
// is full, events are dropped for that subscriber and counted.
package events
