package blockstm

import (
	"fmt"
	"sync/atomic"
)

// Scheduler coordinates a fixed-size pool of workers over one chunk of
// transactions. It is constructed once per chunk, shared by all workers via
// a pointer, and discarded once quiescence is observed. All of its state is
// exclusively owned by the scheduler; workers only ever borrow it.
type Scheduler struct {
	chunkSize int

	// executionIndex is the lowest index not yet claimed for a first
	// execution attempt. Monotonically non-decreasing: reservations only
	// ever advance it.
	executionIndex atomic.Int64

	// validationIndex is the lowest index whose validation has not yet
	// been claimed. It can decrease (see decreaseValidationIndex), but
	// every strict decrease is accompanied by exactly one increment of
	// decreaseCounter.
	validationIndex atomic.Int64

	// decreaseCounter is incremented every time validationIndex is pulled
	// backward. It is the staleness witness checkDone uses to detect a
	// rollback racing with the termination check.
	decreaseCounter atomic.Int64

	// nActiveTasks counts task slots currently held by workers: execution
	// or validation in flight, or reserved between an index advance and
	// the status check that follows it. Decrementing from zero is a fatal
	// invariant violation.
	nActiveTasks atomic.Int64

	// done latches true once quiescence is observed. Never reset.
	done atomic.Bool

	txStatuses []*statusCell
}

// NewScheduler constructs a scheduler for a chunk of the given size.
// chunkSize must be non-negative; chunkSize == 0 quiesces immediately on the
// first NextTask call.
func NewScheduler(chunkSize int) *Scheduler {
	if chunkSize < 0 {
		panic(fmt.Sprintf("blockstm: negative chunk size %d", chunkSize))
	}

	s := &Scheduler{
		chunkSize:  chunkSize,
		txStatuses: make([]*statusCell, chunkSize),
	}
	s.executionIndex.Store(0)
	s.validationIndex.Store(int64(chunkSize))

	for i := range s.txStatuses {
		s.txStatuses[i] = newStatusCell()
	}

	return s
}

// ChunkSize returns the immutable number of transactions in the chunk.
func (s *Scheduler) ChunkSize() int { return s.chunkSize }

func (s *Scheduler) isDone() bool { return s.done.Load() }

// NextTask is the dispatcher: it decides whether the calling worker should
// execute, validate, wait (NoTask), or exit (Done).
func (s *Scheduler) NextTask() Task {
	if s.isDone() {
		return Done
	}

	indexToValidate := s.validationIndex.Load()
	indexToExecute := s.executionIndex.Load()

	if min64(indexToValidate, indexToExecute) >= int64(s.chunkSize) {
		// Both indices are past the end of the chunk. Re-check
		// quiescence here too, not only inside the reservation paths
		// below: otherwise a chunk that finishes with this exact
		// snapshot (both indices already advanced, no reservation
		// left to race through next_version_to_validate/execute)
		// would never latch done and would spin forever. This
		// re-checks the same quiescence predicate the reservation
		// paths do, using only already-published atomic state, so it
		// cannot latch done early or incorrectly.
		s.checkDone()
		return NoTask
	}

	if indexToValidate < indexToExecute {
		if tx, ok := s.nextVersionToValidate(); ok {
			return ValidationTask(tx)
		}
	}

	if tx, ok := s.nextVersionToExecute(); ok {
		return ExecutionTask(tx)
	}

	return NoTask
}

// FinishExecution reports that an execution task issued for tx_index has
// completed. The caller must hold the active-slot charge obtained when the
// ExecutionTask was issued, and the cell must currently be Executing.
func (s *Scheduler) FinishExecution(txIndex TxIndex) {
	s.setExecutedStatus(txIndex)

	if s.validationIndex.Load() > int64(txIndex) {
		// Later transactions already validated, or scheduled for
		// validation, may have read stale values from this
		// transaction's earlier incarnation and must be revalidated.
		s.decreaseValidationIndex(txIndex)
	}

	s.safeDecrementActiveTasks()
}

// TryValidationAbort attempts to move tx_index from Executed to Aborting. It
// returns true only if the cell was Executed; any other status is left
// unchanged and returns false. Holds no active-slot charge of its own.
func (s *Scheduler) TryValidationAbort(txIndex TxIndex) bool {
	var aborted bool
	s.txStatuses[txIndex].withLock(txIndex, func(status *TransactionStatus) {
		if *status == Executed {
			*status = Aborting
			aborted = true
		}
	})
	return aborted
}

// FinishValidation reports the result of a validation task issued for
// tx_index. The caller holds one active-slot charge from the validation
// reservation.
//
// If aborted, tx_index returns to ReadyToExecute and, if the normal
// execution pass has already moved beyond it (execution_index > tx_index),
// it is re-incarnated immediately and handed back as an ExecutionTask so the
// same worker can proceed without an extra round trip through the
// dispatcher -- transferring the active-slot charge to that new task. If the
// execution pass has not yet reached tx_index, no other worker is explicitly
// re-armed: correctness relies on the ordinary execution pass reaching
// tx_index once the cell is back in ReadyToExecute, since execution_index
// only ever advances and will eventually pass tx_index itself.
func (s *Scheduler) FinishValidation(txIndex TxIndex, aborted bool) Task {
	if aborted {
		s.setReadyStatus(txIndex)

		if s.executionIndex.Load() > int64(txIndex) {
			if s.tryIncarnate(txIndex) {
				return ExecutionTask(txIndex)
			}
			// tryIncarnate already released the charge on failure.
			return NoTask
		}
	}

	s.safeDecrementActiveTasks()
	return NoTask
}

// checkDone is the termination predicate and the only writer of the done
// flag. The double-read of decreaseCounter detects a worker mid-
// FinishExecution that has already decremented n_active_tasks in a
// concurrent reordering window and is about to pull validation_index back:
// decreaseValidationIndex publishes its counter bump after the index move,
// so observing the same counter before and after the other reads guarantees
// no such rollback happened during the check.
func (s *Scheduler) checkDone() {
	observed := s.decreaseCounter.Load()

	if min64(s.validationIndex.Load(), s.executionIndex.Load()) >= int64(s.chunkSize) &&
		s.nActiveTasks.Load() == 0 &&
		observed == s.decreaseCounter.Load() {
		s.done.Store(true)
	}
}

func (s *Scheduler) safeDecrementActiveTasks() {
	previous := s.nActiveTasks.Add(-1) + 1
	if previous <= 0 {
		panic("blockstm: n_active_tasks underflow")
	}
}

func (s *Scheduler) setExecutedStatus(txIndex TxIndex) {
	s.txStatuses[txIndex].withLock(txIndex, func(status *TransactionStatus) {
		if *status != Executing {
			panic(fmt.Sprintf(
				"blockstm: only executing transactions can gain status executed; transaction %d is not executing; transaction status: %v",
				txIndex, *status))
		}
		*status = Executed
	})
}

func (s *Scheduler) setReadyStatus(txIndex TxIndex) {
	s.txStatuses[txIndex].withLock(txIndex, func(status *TransactionStatus) {
		if *status != Aborting {
			panic(fmt.Sprintf(
				"blockstm: only aborting transactions can be re-executed; transaction %d is not aborting; transaction status: %v",
				txIndex, *status))
		}
		*status = ReadyToExecute
	})
}

// decreaseValidationIndex atomically sets validation_index := min(validation_index, target).
// A strict decrease bumps decrease_counter with the ordering required for
// checkDone's witness: any observer that sees the new counter value must
// also see the new validation_index.
func (s *Scheduler) decreaseValidationIndex(target TxIndex) {
	for {
		current := s.validationIndex.Load()
		if int64(target) >= current {
			return
		}
		if s.validationIndex.CompareAndSwap(current, int64(target)) {
			s.decreaseCounter.Add(1)
			return
		}
	}
}

// tryIncarnate attempts to move tx_index from ReadyToExecute to Executing.
// On success the caller retains the active-slot charge it already held; on
// failure (wrong status or out-of-range index) the charge is released here.
func (s *Scheduler) tryIncarnate(txIndex TxIndex) bool {
	if txIndex < s.chunkSize {
		var incarnated bool
		s.txStatuses[txIndex].withLock(txIndex, func(status *TransactionStatus) {
			if *status == ReadyToExecute {
				*status = Executing
				incarnated = true
			}
		})
		if incarnated {
			return true
		}
	}

	s.safeDecrementActiveTasks()
	return false
}

// nextVersionToValidate reserves the next validation slot, if any is
// eligible. A successful reservation retains the active-slot charge taken in
// step 2; every other path releases it before returning.
func (s *Scheduler) nextVersionToValidate() (TxIndex, bool) {
	indexToValidate := s.validationIndex.Load()
	if indexToValidate >= int64(s.chunkSize) {
		s.checkDone()
		return 0, false
	}

	s.nActiveTasks.Add(1)
	indexToValidate = s.validationIndex.Add(1) - 1

	if indexToValidate < int64(s.chunkSize) {
		if s.txStatuses[indexToValidate].read(int(indexToValidate)) == Executed {
			return int(indexToValidate), true
		}
	}

	s.safeDecrementActiveTasks()
	return 0, false
}

// nextVersionToExecute reserves the next execution slot, if any is eligible.
func (s *Scheduler) nextVersionToExecute() (TxIndex, bool) {
	indexToExecute := s.executionIndex.Load()
	if indexToExecute >= int64(s.chunkSize) {
		s.checkDone()
		return 0, false
	}

	// n_active_tasks is incremented before the index advance so that a
	// concurrent checkDone can never observe both n_active_tasks == 0 and
	// a past-the-end index while this reservation is mid-flight.
	s.nActiveTasks.Add(1)
	indexToExecute = s.executionIndex.Add(1) - 1

	if s.tryIncarnate(int(indexToExecute)) {
		return int(indexToExecute), true
	}

	return 0, false
}

// setStatusForTest drives a cell into an arbitrary status for table-driven
// testing, mirroring the Rust source's #[cfg(test)] set_tx_status. Reachable
// only from _test.go files in this package.
func (s *Scheduler) setStatusForTest(txIndex TxIndex, status TransactionStatus) {
	if txIndex >= s.chunkSize {
		return
	}
	s.txStatuses[txIndex].withLock(txIndex, func(st *TransactionStatus) {
		*st = status
	})
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
