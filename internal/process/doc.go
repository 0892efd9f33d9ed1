// Package process provides child-process primitives for a single supervised
// worker: spawning with merged output, exit tracking, and whole-tree
// termination.
//
// This package is designed for long-running workers (such as a GPU miner)
// that start helper processes of their own. Stopping only the direct child
// would leave those helpers running and holding the output pipe open.
//
// Features:
//   - Child runs as the leader of a new process group
//   - stdout and stderr merged into one pipe, in write order
//   - Done channel closed when the child is reaped
//   - Descendant enumeration via gopsutil
//   - SIGTERM to every descendant and the child, then SIGKILL for survivors
//
// There is no restart policy. Callers decide what an exit means.
//
// Example usage:
//
//	h, err := process.Spawn(ctx, process.Spec{
//	    Binary: "/opt/bzminer/bzminer",
//	    Args:   []string{"-a", "kaspa", "-w", wallet, "-p", pool},
//	    Dir:    "/opt/bzminer",
//	})
//	if err != nil {
//	    return err
//	}
//	defer h.Close()
//
//	go consume(h.Output())
//
//	// later
//	if err := h.TerminateTree(500 * time.Millisecond); err != nil {
//	    log.Warn("partial termination", "error", err)
//	}
package process
