// Package blockstm implements the scheduler at the heart of a Block-STM style
// optimistic-concurrency transaction engine.
//
// The scheduler coordinates a fixed-size pool of worker goroutines over a
// chunk of transactions addressed only by index (0..chunk_size). Each worker
// repeatedly calls NextTask to learn whether it should execute the next
// not-yet-started transaction, validate a previously executed one, back off
// and retry, or exit. Execution and validation themselves, and the
// versioned read/write state they operate over, are external collaborators:
// the scheduler never looks at transaction content, only at the
// (index, aborted?) tuples workers report back through FinishExecution,
// TryValidationAbort and FinishValidation.
//
// The scheduler is lock-free except for brief per-transaction status-cell
// critical sections; all cross-cutting state (the execution and validation
// indices, the decrease counter, and the active-task count) is plain atomic
// state held in sync/atomic types, whose operations are sequentially
// consistent.
package blockstm
