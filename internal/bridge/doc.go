// Package bridge invokes the external matching worker.
//
// Each call to Bridge.Invoke is one invocation: it waits for a slot from the
// concurrency guard, resolves the worker location (cached after the first
// success), launches the worker with the JSON payload as its only argument and
// the worker's directory as working directory, collects stdout and stderr until
// both streams close, and decodes stdout as exactly one JSON document.
//
// Lifecycle:
//
//	created -> spawning -> running -> succeeded
//	                               -> runtime_failed  (nonzero exit)
//	                               -> parse_failed    (exit 0, bad stdout)
//	                               -> timed_out       (deadline elapsed)
//	                    -> spawn_failed               (process could not start)
//	created -> timed_out                              (deadline elapsed while queued)
//	created -> spawn_failed                           (worker could not be located)
//
// The deadline covers queueing and execution. When it elapses during
// execution the worker's process group receives SIGTERM, then SIGKILL after
// the grace period, and Invoke returns only once the process has been reaped.
// The slot is released exactly once on every path.
//
// Every error returned by Invoke is a *Error whose Kind classifies the failure.
// Invoke never retries.
package bridge
