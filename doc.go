// Package pipeline is a safety-oriented access layer over embedded SQLite.
//
// The engine connection underneath is not thread-safe, so pipeline makes
// exclusivity structural: every Connection is owned by exactly one serial
// queue, and all caller work reaches the connection as closures submitted
// to that queue. Inside a closure, callers prepare Statements, bind Values,
// step for Rows, and optionally wrap work in transactions or savepoints.
//
// # Ownership Model
//
//   - ConnectionQueue owns one writable Connection. It is the single
//     writer; work items execute strictly in submission order, one at a
//     time, on the queue's worker goroutine.
//   - ConnectionReadQueue owns one read-only Connection pinned to a WAL
//     snapshot. Multiple read queues run concurrently with each other and
//     with the writer because each owns an independent engine handle.
//   - Statements belong to the Connection that prepared them and must not
//     escape its queue. Rows are transient views invalidated by the next
//     step or reset.
//
// # Errors
//
// Every fallible operation returns a kind-classified error (see Kind and
// the Err* sentinels). Busy contention is retryable and surfaces as
// ErrBusy; queues apply a bounded BusyPolicy around their execute and
// transaction helpers. A failed rollback surfaces as ErrRollbackFailed and
// marks the connection suspect.
package pipeline
