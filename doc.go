// Package beacon is an error- and telemetry-reporting agent: it accepts
// reports from application code, queues them per logger, and delivers them
// to a remote ingestion endpoint on a fixed schedule, honoring a
// per-access-token rate limit and emitting delivery outcomes onto an event
// bus.
//
// Log() never blocks on network I/O — a report is accepted into a small
// worker pool and queue, and delivery happens asynchronously on the shared
// controller's tick. BlockingLogger wraps a Logger for callers that need to
// know a report's terminal outcome (e.g. a crash handler reporting before
// process exit).
package beacon
