// Package flush drains the telemetry buffer on a fixed interval and
// ships each drained snapshot to two independent sinks concurrently: a
// streaming-log endpoint taking compressed label-grouped streams and a
// columnar analytics store taking chunked newline-delimited rows.
//
// Delivery is at-most-once: a batch that exhausts its sink's retry
// budget is dropped and logged locally, never re-queued into the live
// buffer. Sink failures are isolated at the flush boundary and never
// delay the request path.
package flush
