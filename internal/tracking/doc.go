// Package tracking records evaluation parameters and metrics against a single
// experiment-tracking run.
//
// States of a Run:
//   - unopened -> open -> closed
//
// A Client owns the Backend connection for the life of the process and holds
// at most one open Run. Client.BeginRun opens it, Run.End closes it, and
// Client.WithRun wraps both so the run is closed on every exit path
// (FINISHED on success, FAILED on error, KILLED on cancellation or panic).
//
// Backends classify connection and authentication failures as
// ErrBackendUnavailable; callers test for it with errors.Is.
package tracking
