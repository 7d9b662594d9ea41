// Command blockstmbench runs a synthetic chunk of transactions through
// core/blockstm/execution's Pool and reports how much contention the
// scheduler absorbed: total executions versus transaction count tells a
// caller how many aborts (re-incarnations) the run paid for.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"runtime"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"

	_ "go.uber.org/automaxprocs"

	"github.com/0xPolygon/blockstm-scheduler/core/blockstm/execution"
)

var (
	txFlag = &cli.IntFlag{
		Name:  "transactions",
		Usage: "number of synthetic transactions in the chunk",
		Value: 2000,
	}
	workersFlag = &cli.IntFlag{
		Name:  "workers",
		Usage: "worker goroutines; 0 uses GOMAXPROCS",
		Value: 0,
	}
	conflictFlag = &cli.Float64Flag{
		Name:  "conflict-rate",
		Usage: "fraction of transactions that read a shared hot key, the rest touch only their own key",
		Value: 0.2,
	}
	seedFlag = &cli.Int64Flag{
		Name:  "seed",
		Usage: "PRNG seed for the synthetic workload",
		Value: 1,
	}
)

func main() {
	app := &cli.App{
		Name:  "blockstmbench",
		Usage: "benchmark the blockstm scheduler against a synthetic workload",
		Flags: []cli.Flag{txFlag, workersFlag, conflictFlag, seedFlag},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	logger := log.New("component", "blockstmbench")

	n := c.Int(txFlag.Name)
	workers := c.Int(workersFlag.Name)
	if workers == 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	conflictRate := c.Float64(conflictFlag.Name)
	seed := c.Int64(seedFlag.Name)

	tasks := synthesizeWorkload(n, conflictRate, seed)

	registry := prometheus.NewRegistry()
	pool := execution.NewPool(tasks,
		execution.WithWorkers(workers),
		execution.WithLogger(logger),
		execution.WithRegisterer(registry),
	)

	logger.Info("starting chunk",
		"transactions", n, "workers", workers, "conflict_rate", conflictRate, "seed", seed)

	if _, err := pool.Run(context.Background()); err != nil {
		return fmt.Errorf("run chunk: %w", err)
	}

	metrics, err := registry.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}

	for _, mf := range metrics {
		for _, m := range mf.GetMetric() {
			logger.Info("metric", "name", mf.GetName(), "value", m.GetCounter().GetValue())
		}
	}

	return nil
}

// bankTask debits fromKey and credits toKey, the classic conflicting-account
// workload used to exercise Block-STM style schedulers: most transactions
// touch disjoint accounts, a minority contend on a shared hot account.
type bankTask struct {
	idx    int
	from   execution.Key
	to     execution.Key
	amount int64

	reads []execution.ReadDescriptor
	sets  []execution.WriteDescriptor
}

func (t *bankTask) Execute(mem *execution.MVMemory, incarnation int) error {
	fromVal, fromWriter, fromFound := mem.Read(t.from, t.idx)
	toVal, toWriter, toFound := mem.Read(t.to, t.idx)

	fromBalance := decodeBalance(fromVal, fromFound)
	toBalance := decodeBalance(toVal, toFound)

	t.reads = []execution.ReadDescriptor{
		{Path: t.from, FromStorage: !fromFound, ReadVersion: fromWriter},
		{Path: t.to, FromStorage: !toFound, ReadVersion: toWriter},
	}

	newFrom := fromBalance - t.amount
	newTo := toBalance + t.amount

	t.sets = []execution.WriteDescriptor{
		{Path: t.from, Value: encodeBalance(newFrom)},
		{Path: t.to, Value: encodeBalance(newTo)},
	}

	mem.Write(t.from, execution.Version{TxnIndex: t.idx, Incarnation: incarnation}, encodeBalance(newFrom))
	mem.Write(t.to, execution.Version{TxnIndex: t.idx, Incarnation: incarnation}, encodeBalance(newTo))

	return nil
}

func (t *bankTask) ReadSet() []execution.ReadDescriptor   { return t.reads }
func (t *bankTask) WriteSet() []execution.WriteDescriptor { return t.sets }

func decodeBalance(b []byte, found bool) int64 {
	if !found {
		return 1_000_000
	}
	var v int64
	fmt.Sscanf(string(b), "%d", &v)
	return v
}

func encodeBalance(v int64) []byte { return []byte(fmt.Sprintf("%d", v)) }

// synthesizeWorkload builds n bank transactions. conflictRate of them credit
// a single shared hot account; the rest credit a private account derived
// from their own index, so they never conflict with anything.
func synthesizeWorkload(n int, conflictRate float64, seed int64) []execution.Task {
	rng := rand.New(rand.NewSource(seed))
	tasks := make([]execution.Task, n)

	const hotAccount = execution.Key("hot")

	for i := 0; i < n; i++ {
		from := execution.Key(fmt.Sprintf("acct-%d", i))
		to := hotAccount
		if rng.Float64() >= conflictRate {
			to = execution.Key(fmt.Sprintf("acct-%d-dst", i))
		}

		tasks[i] = &bankTask{
			idx:    i,
			from:   from,
			to:     to,
			amount: 1 + rng.Int63n(10),
		}
	}

	return tasks
}
