package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// LedgerMetrics aggregates the instrumentation shared by the ledger engines.
type LedgerMetrics struct {
	operations  *prometheus.CounterVec
	poolUsed    *prometheus.GaugeVec
	distributed prometheus.Counter
}

var (
	ledgerOnce     sync.Once
	ledgerRegistry *LedgerMetrics
)

// Ledger returns the process-wide ledger metrics, registering the collectors
// on first use.
func Ledger() *LedgerMetrics {
	ledgerOnce.Do(func() {
		ledgerRegistry = &LedgerMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "ledger_operations_total",
				Help: "Count of engine operations by module, operation and result.",
			}, []string{"module", "op", "result"}),
			poolUsed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "ledger_pool_used",
				Help: "Currently reserved amount per plan pool.",
			}, []string{"plan"}),
			distributed: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "ledger_distributed_units_total",
				Help: "Cumulative reward units distributed across all engines.",
			}),
		}
		prometheus.MustRegister(
			ledgerRegistry.operations,
			ledgerRegistry.poolUsed,
			ledgerRegistry.distributed,
		)
	})
	return ledgerRegistry
}

// ObserveOperation records the outcome of a single engine operation.
func (m *LedgerMetrics) ObserveOperation(module, op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.operations.WithLabelValues(module, op, result).Inc()
}

// SetPoolUsed publishes the current utilisation for a plan pool.
func (m *LedgerMetrics) SetPoolUsed(plan string, used float64) {
	if m == nil {
		return
	}
	m.poolUsed.WithLabelValues(plan).Set(used)
}

// AddDistributed accumulates distributed reward units.
func (m *LedgerMetrics) AddDistributed(units float64) {
	if m == nil || units <= 0 {
		return
	}
	m.distributed.Add(units)
}
