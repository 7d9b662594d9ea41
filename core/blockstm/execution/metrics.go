package execution

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// poolMetrics is the Prometheus-flavored analogue of bor's plain
// cntExec/cntSuccess/cntAbort/cntTotalValidations/cntValidationFail counters
// (core/blockstm/executor.go), exported so a benchmark driver can scrape
// them instead of printing a one-shot summary line.
type poolMetrics struct {
	executions      prometheus.Counter
	executionAborts prometheus.Counter
	validations     prometheus.Counter
	validationFails prometheus.Counter
}

func newPoolMetrics(reg prometheus.Registerer) *poolMetrics {
	factory := promauto.With(reg)

	return &poolMetrics{
		executions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "blockstm",
			Name:      "executions_total",
			Help:      "Number of execution tasks completed, including re-executions after an abort.",
		}),
		executionAborts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "blockstm",
			Name:      "execution_errors_total",
			Help:      "Number of execution tasks that returned an error from Task.Execute.",
		}),
		validations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "blockstm",
			Name:      "validations_total",
			Help:      "Number of validation tasks completed.",
		}),
		validationFails: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "blockstm",
			Name:      "validation_failures_total",
			Help:      "Number of validations that found a stale read and triggered an abort.",
		}),
	}
}
