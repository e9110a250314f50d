// Package errors provides the error taxonomy for echopipe: sentinel
// errors for the bounded-buffer resource, transport-level sentinels
// for the gateway and client, error classification for retry
// decisions, and helpers for consistent error wrapping.
//
// Domain sentinels mirror the resource contract: ErrWouldBlock for
// non-blocking calls that cannot proceed, ErrGone once the resource is
// tearing down, ErrInterrupted when a blocking wait is cancelled,
// ErrBusy for shrink attempts below the current fill level,
// ErrPermission for control operations without write capability and
// ErrWriterLimit for writer-count saturation.
//
// Errors are never logged or retried by the packages that return them;
// classification exists so that callers (and pkg/retry) can make that
// decision themselves.
package errors
