// Package telemetry turns raw miner console output into structured state.
//
// The miner writes human-oriented status lines whose layout varies between
// builds: labelled summaries ("Miner HR: 123.45 MH"), pipe-delimited tables,
// and occasionally text with whitespace injected inside tokens. This package
// recognises those formats with ordered fallback rules and never fails on
// unrecognised input.
//
// # Pipeline
//
// Each line goes through:
//
//  1. Normalize, which removes whitespace injected inside tokens.
//  2. One rule chain per field (hashrate, shares, power, temperature).
//     The first rule in a chain that matches supplies the field.
//  3. Block-found classification on the raw line.
//
// The result is an Update. Fields absent from the line are nil, and applying
// the update to a Snapshot leaves them untouched. The share triple is always
// replaced as a unit so readers never see a mix of old and new counters.
//
// # Usage
//
//	snap := telemetry.Snapshot{}
//	u := telemetry.ParseLine(line)
//	snap = snap.Apply(u)
//	if u.BlockFound {
//	    // notify
//	}
//
// ParseReader replays a captured log through the same pipeline and is what
// the "minerctl parse" command uses.
package telemetry
