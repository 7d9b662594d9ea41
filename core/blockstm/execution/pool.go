package execution

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/0xPolygon/blockstm-scheduler/core/blockstm"
)

// Option configures a Pool.
type Option func(*Pool)

// WithWorkers overrides the number of worker goroutines. If unset or <= 0,
// the pool defaults to runtime.GOMAXPROCS(0) -- callers that want this to
// reflect a container's cgroup limits should blank-import
// go.uber.org/automaxprocs in main before constructing a Pool, the way
// cmd/blockstmbench does.
func WithWorkers(n int) Option {
	return func(p *Pool) { p.numWorkers = n }
}

// WithLogger overrides the pool's logger. Defaults to a component-scoped
// logger: log.New("component", "blockstm-pool").
func WithLogger(l log.Logger) Option {
	return func(p *Pool) { p.logger = l }
}

// WithRegisterer directs the pool's Prometheus counters at a specific
// registry instead of the default global one.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(p *Pool) { p.registerer = reg }
}

// Pool drives a fixed-size set of workers over a chunk of Tasks, asking
// blockstm.Scheduler what each worker should do next and reporting results
// back to it. The worker pool itself is shaped after erigon's
// cmd/state/exec3 fixed-size errgroup pool.
type Pool struct {
	tasks      []Task
	mem        *MVMemory
	scheduler  *blockstm.Scheduler
	numWorkers int
	logger     log.Logger
	registerer prometheus.Registerer
	metrics    *poolMetrics

	incarnations []atomic.Int32
}

// NewPool constructs a pool for the given chunk of tasks.
func NewPool(tasks []Task, opts ...Option) *Pool {
	p := &Pool{
		tasks:        tasks,
		mem:          NewMVMemory(),
		scheduler:    blockstm.NewScheduler(len(tasks)),
		logger:       log.New("component", "blockstm-pool"),
		registerer:   prometheus.DefaultRegisterer,
		incarnations: make([]atomic.Int32, len(tasks)),
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.numWorkers <= 0 {
		p.numWorkers = runtime.GOMAXPROCS(0)
	}
	p.metrics = newPoolMetrics(p.registerer)

	return p
}

// Run executes the whole chunk to quiescence, or until ctx is cancelled or a
// task returns an error. It returns the memory the chunk wrote, so a caller
// can inspect the final committed state.
func (p *Pool) Run(ctx context.Context) (*MVMemory, error) {
	if len(p.tasks) == 0 {
		return p.mem, nil
	}

	start := time.Now()
	g, ctx := errgroup.WithContext(ctx)

	for i := 0; i < p.numWorkers; i++ {
		workerID := i
		g.Go(func() error {
			return p.workerLoop(ctx, workerID)
		})
	}

	if err := g.Wait(); err != nil {
		return p.mem, err
	}

	p.logger.Info("blockstm chunk settled",
		"transactions", len(p.tasks),
		"workers", p.numWorkers,
		"elapsed", time.Since(start))

	return p.mem, nil
}

// workerLoop is one worker's main loop: request a task, perform it, report
// completion, repeat until the scheduler signals Done or ctx is cancelled.
func (p *Pool) workerLoop(ctx context.Context, workerID int) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		task := p.scheduler.NextTask()
		switch task.Kind {
		case blockstm.KindDone:
			return nil
		case blockstm.KindNoTask:
			runtime.Gosched()
			continue
		case blockstm.KindExecution:
			if err := p.executeAndReport(task.Index); err != nil {
				return fmt.Errorf("worker %d: transaction %d: %w", workerID, task.Index, err)
			}
		case blockstm.KindValidation:
			next, err := p.validateAndReport(task.Index)
			if err != nil {
				return fmt.Errorf("worker %d: validating transaction %d: %w", workerID, task.Index, err)
			}
			if next.Kind == blockstm.KindExecution {
				if err := p.executeAndReport(next.Index); err != nil {
					return fmt.Errorf("worker %d: transaction %d: %w", workerID, next.Index, err)
				}
			}
		default:
			panic(fmt.Sprintf("blockstm: unexpected task kind %v from NextTask", task.Kind))
		}
	}
}

// executeAndReport runs one incarnation of tasks[i] and reports completion
// to the scheduler. The caller must hold the active-slot charge the
// scheduler handed out for this ExecutionTask.
func (p *Pool) executeAndReport(i int) error {
	incarnation := int(p.incarnations[i].Add(1)) - 1

	if err := p.tasks[i].Execute(p.mem, incarnation); err != nil {
		p.metrics.executionAborts.Inc()
		return err
	}

	p.scheduler.FinishExecution(i)
	p.metrics.executions.Inc()
	return nil
}

func (p *Pool) validateAndReport(i int) (blockstm.Task, error) {
	ok := ValidateReadSet(p.mem, i, p.tasks[i].ReadSet())

	aborted := false
	if !ok {
		aborted = p.scheduler.TryValidationAbort(i)
	}

	p.metrics.validations.Inc()
	if aborted {
		p.metrics.validationFails.Inc()
	}

	return p.scheduler.FinishValidation(i, aborted), nil
}
