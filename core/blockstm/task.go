package blockstm

import "fmt"

// TxIndex is a transaction's position, 0-based, within its chunk.
type TxIndex = int

// TaskKind distinguishes the four possible results of NextTask.
type TaskKind int

const (
	KindExecution TaskKind = iota
	KindValidation
	KindNoTask
	KindDone
)

// Task is what the Dispatcher hands back to a worker: either a concrete
// index to execute/validate, NoTask (no work reserved, caller should back off
// and retry), or Done (the chunk has quiesced; the worker should exit).
type Task struct {
	Kind TaskKind
	Index TxIndex
}

func ExecutionTask(i TxIndex) Task  { return Task{Kind: KindExecution, Index: i} }
func ValidationTask(i TxIndex) Task { return Task{Kind: KindValidation, Index: i} }

// NoTask and Done carry no index; Index is left at its zero value and must
// not be interpreted by callers.
var (
	NoTask = Task{Kind: KindNoTask}
	Done   = Task{Kind: KindDone}
)

func (t Task) String() string {
	switch t.Kind {
	case KindExecution:
		return fmt.Sprintf("ExecutionTask(%d)", t.Index)
	case KindValidation:
		return fmt.Sprintf("ValidationTask(%d)", t.Index)
	case KindNoTask:
		return "NoTask"
	case KindDone:
		return "Done"
	default:
		return fmt.Sprintf("Task(kind=%d)", t.Kind)
	}
}
