package blockstm

import (
	"fmt"
	"sync"
)

// TransactionStatus is the lifecycle state of one transaction's current
// incarnation. Only the transitions named on the Scheduler's completion
// handlers are legal; anything else is an invariant violation and panics.
type TransactionStatus int

const (
	// ReadyToExecute is the initial state, and the state a transaction
	// returns to after a validation abort.
	ReadyToExecute TransactionStatus = iota
	// Executing means exactly one worker holds this transaction for a
	// first-or-later execution attempt.
	Executing
	// Executed means the transaction's read/write set is observable to
	// validators. It remains re-validatable until a validator aborts it.
	Executed
	// Aborting means a validator has claimed the right to re-queue this
	// transaction for execution.
	Aborting
)

func (s TransactionStatus) String() string {
	switch s {
	case ReadyToExecute:
		return "ReadyToExecute"
	case Executing:
		return "Executing"
	case Executed:
		return "Executed"
	case Aborting:
		return "Aborting"
	default:
		return fmt.Sprintf("TransactionStatus(%d)", int(s))
	}
}

// statusCell is a per-transaction mutually-exclusive status holder. Critical
// sections are short (a read, a compare, a write) and almost every caller
// that reads the status also conditionally writes it in the same critical
// section, so a plain exclusive lock is used rather than a reader-writer
// lock.
//
// Go's sync.Mutex does not poison itself the way a Rust std Mutex does when a
// holder panics mid-critical-section. Since any critical section that
// terminates abnormally may have left the scheduler's invariants violated,
// statusCell tracks that condition explicitly: when a critical section does
// not return normally, withLock's deferred unlock marks the cell poisoned and
// lets the panic continue; any later acquirer fails loudly instead of
// silently proceeding against corrupted state.
type statusCell struct {
	mu       sync.Mutex
	status   TransactionStatus
	poisoned bool
}

func newStatusCell() *statusCell {
	return &statusCell{status: ReadyToExecute}
}

// withLock runs fn with the cell's mutex held, guarding against the cell
// being left poisoned by a prior abnormal exit and against fn itself
// panicking.
func (c *statusCell) withLock(txIndex int, fn func(status *TransactionStatus)) {
	c.mu.Lock()
	if c.poisoned {
		status := c.status
		c.mu.Unlock()
		panic(fmt.Sprintf("status cell for transaction %d is poisoned; last observed status: %v", txIndex, status))
	}

	completed := false
	defer func() {
		if !completed {
			c.poisoned = true
		}
		c.mu.Unlock()
	}()

	fn(&c.status)
	completed = true
}

// read returns the cell's current status.
func (c *statusCell) read(txIndex int) (status TransactionStatus) {
	c.withLock(txIndex, func(s *TransactionStatus) {
		status = *s
	})
	return
}
