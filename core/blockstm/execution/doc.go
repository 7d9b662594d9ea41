// Package execution provides the external collaborators that
// core/blockstm's scheduler assumes but does not implement: a transaction
// executor/validator contract, a minimal versioned key/value store for
// their reads and writes, and a fixed-size worker pool that drives the
// scheduler end to end.
//
// None of this package is part of the scheduler's contract -- the executor,
// the validator, and the versioned store are all external collaborators,
// opaque to it. It exists so the scheduler can be exercised by realistic
// concurrent workloads in tests and in cmd/blockstmbench, the way bor's own
// core/blockstm/executor.go wires an ExecTask/MVHashMap pair around its
// (differently shaped) scheduling core.
package execution
