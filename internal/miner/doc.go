// Package miner supervises a single GPU miner process.
//
// The Supervisor starts the miner with a tuning profile applied, reads its
// merged output line by line, and keeps a telemetry snapshot current:
//
//   - Pre-flight warnings (no GPU detected, a previous failure in the log)
//   - Active profile applied before spawn, re-applied once after a delay
//   - Each output line appended to the rolling log and published on the bus
//   - Solo block wins published as block_found events, once per line
//   - Whole process tree terminated on Stop, then the idle profile applied
//
// Every Start begins a new generation with a zeroed snapshot. Output read on
// behalf of an older generation is never applied to the current snapshot.
//
// Example configuration (in config.yaml):
//
//	miner:
//	  binary: "/opt/bzminer/bzminer"
//	  args: ["-a", "kaspa", "-w", "kaspa:qq...", "-p", "stratum+tcp://pool:5555"]
//	  log_path: "/var/lib/minerctl/miner.log"
//	tuning:
//	  mode: "odnt"
//	  profile_active: "Kaspa"
//	  profile_idle: "Default"
package miner
