// Package influxdb writes miner time series to InfluxDB v2.
//
// It wraps the official influxdb-client-go v2 library. Three measurements
// are written, each tagged with the rig name:
//
//   - miner_telemetry: hashrate, shares, power and temperature per snapshot
//   - miner_block: one point per solo block win
//   - miner_tuning: outcome of each tuning application
//
// Usage:
//
//	client, err := influxdb.Connect(cfg.InfluxDB, cfg.MQTT.Broker.ClientID)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//	go client.Run(ctx, sup.Sink())
//
// Writes are non-blocking and batched per batch_size and flush_interval.
// Asynchronous write failures reach the SetOnError callback; connection
// and health check errors are returned directly.
package influxdb
