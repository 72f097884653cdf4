// Package engine drives maintenance workflows through their stage pipeline.
//
// Each workflow is a small state machine whose only write path is the
// transition table in package domain. A fixed pool of workers pops stage
// tasks from a priority queue, announces each one on the message bus, bounds
// it with the timeout tracker and invokes the registered agent handler.
// Failures are retried with exponential backoff on timers; terminal
// workflows move to a ports.WorkflowArchive.
package engine
