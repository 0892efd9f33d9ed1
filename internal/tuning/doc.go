// Package tuning applies named GPU tuning profiles through an external tool.
//
// The supported tool is OverdriveNTool (or anything accepting the same
// command line). A profile is applied with:
//
//	<tool> -r<gpu> -p<gpu><profile>
//
// run from the tool's own directory, where it keeps OverdriveNTool.ini.
//
// # Outcomes
//
// Apply reports a Result rather than an error. Callers treat a failed
// apply as a warning and carry on; the miner still runs with whatever
// clocks the GPU already has.
//
//   - OutcomeNotAttempted: tuning is disabled (Mode is none)
//   - OutcomeSucceeded: the tool exited zero
//   - OutcomeFailed: Result.Err wraps ErrPrivilegeRequired, ErrToolNotFound,
//     ErrUnknownProfile or ErrToolFailed
//
// # Privileges
//
// The tool needs elevated rights. The controller checks and reports
// ErrPrivilegeRequired but never elevates itself. Elevation is an explicit
// decision of the caller through an Elevator such as SudoElevator.
//
// # Profiles
//
// Profile names come from "name=" lines in the tool's ini file, which is
// normally UTF-16. The list is cached per controller; call
// InvalidateProfiles after editing the file.
package tuning
