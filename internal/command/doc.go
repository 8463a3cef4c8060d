// Package command implements command validation, dispatch and bulk
// coordination for entity control.
//
// A Command is a verb (set, toggle, brightness_up, brightness_down, lock,
// unlock) plus optional desired-state fields. The Dispatcher validates a
// command, resolves its target entity, rejects unavailable targets and
// executes through an Executor under a bounded timeout; every dispatch
// terminates in exactly one status: success, failed, timeout or
// unauthorized.
//
// The Coordinator fans one command out over up to 50 entities with bounded
// concurrency, aggregates per-target results in request order, and
// persists an audit record of each operation.
package command
