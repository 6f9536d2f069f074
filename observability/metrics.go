package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// GatewayMetrics records lock registry and settlement activity for the
// vault gateway.
type GatewayMetrics struct {
	LocksCreated *prometheus.CounterVec
	Settlements  *prometheus.CounterVec
	RewardsPaid  prometheus.Counter
	LedgerRetry  prometheus.Counter
}

var (
	gatewayMetricsOnce sync.Once
	gatewayRegistry    *GatewayMetrics
)

// Gateway returns the lazily-initialised gateway metrics registry.
func Gateway() *GatewayMetrics {
	gatewayMetricsOnce.Do(func() {
		gatewayRegistry = &GatewayMetrics{
			LocksCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "growvault",
				Subsystem: "gateway",
				Name:      "locks_created_total",
				Help:      "Total lock creations segmented by outcome.",
			}, []string{"outcome"}),
			Settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "growvault",
				Subsystem: "gateway",
				Name:      "settlements_total",
				Help:      "Total settlement attempts segmented by outcome (matured, forced, rejected).",
			}, []string{"outcome"}),
			RewardsPaid: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "growvault",
				Subsystem: "gateway",
				Name:      "rewards_paid_base_units_total",
				Help:      "Cumulative reward base units transferred from the treasury.",
			}),
			LedgerRetry: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "growvault",
				Subsystem: "gateway",
				Name:      "ledger_read_retries_total",
				Help:      "Count of ledger read retries triggered by rate limiting.",
			}),
		}
		prometheus.MustRegister(
			gatewayRegistry.LocksCreated,
			gatewayRegistry.Settlements,
			gatewayRegistry.RewardsPaid,
			gatewayRegistry.LedgerRetry,
		)
	})
	return gatewayRegistry
}
