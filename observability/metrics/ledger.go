package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// LedgerMetrics tracks ledger operation outcomes and live aggregates.
type LedgerMetrics struct {
	deposits        *prometheus.CounterVec
	withdrawals     *prometheus.CounterVec
	stakes          *prometheus.CounterVec
	unstakes        *prometheus.CounterVec
	agentRequests   *prometheus.CounterVec
	operationErrors *prometheus.CounterVec
	oracleFailures  *prometheus.CounterVec
	valuationUSD    *prometheus.GaugeVec
}

var (
	ledgerOnce     sync.Once
	ledgerRegistry *LedgerMetrics
)

// Ledger returns the process-wide ledger metrics, registering them on first
// use.
func Ledger() *LedgerMetrics {
	ledgerOnce.Do(func() {
		ledgerRegistry = &LedgerMetrics{
			deposits: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "stakevault_deposits_total",
				Help: "Count of accepted collateral deposits by token.",
			}, []string{"token"}),
			withdrawals: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "stakevault_withdrawals_total",
				Help: "Count of accepted collateral withdrawals by token.",
			}, []string{"token"}),
			stakes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "stakevault_stakes_total",
				Help: "Count of accepted stakes by token.",
			}, []string{"token"}),
			unstakes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "stakevault_unstakes_total",
				Help: "Count of executed unstakes by token.",
			}, []string{"token"}),
			agentRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "stakevault_agent_requests_total",
				Help: "Count of routed agent requests by type and outcome.",
			}, []string{"type", "outcome"}),
			operationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "stakevault_operation_errors_total",
				Help: "Count of rejected ledger operations by operation and error kind.",
			}, []string{"operation", "kind"}),
			oracleFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "stakevault_oracle_failures_total",
				Help: "Count of oracle quote failures by feed.",
			}, []string{"feed"}),
			valuationUSD: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "stakevault_position_value_usd",
				Help: "Last recomputed collateral valuation per user, 8-decimal USD.",
			}, []string{"user"}),
		}
		prometheus.MustRegister(
			ledgerRegistry.deposits,
			ledgerRegistry.withdrawals,
			ledgerRegistry.stakes,
			ledgerRegistry.unstakes,
			ledgerRegistry.agentRequests,
			ledgerRegistry.operationErrors,
			ledgerRegistry.oracleFailures,
			ledgerRegistry.valuationUSD,
		)
	})
	return ledgerRegistry
}

func (m *LedgerMetrics) ObserveDeposit(token string) {
	if m == nil {
		return
	}
	m.deposits.WithLabelValues(token).Inc()
}

func (m *LedgerMetrics) ObserveWithdrawal(token string) {
	if m == nil {
		return
	}
	m.withdrawals.WithLabelValues(token).Inc()
}

func (m *LedgerMetrics) ObserveStake(token string) {
	if m == nil {
		return
	}
	m.stakes.WithLabelValues(token).Inc()
}

func (m *LedgerMetrics) ObserveUnstake(token string) {
	if m == nil {
		return
	}
	m.unstakes.WithLabelValues(token).Inc()
}

func (m *LedgerMetrics) ObserveAgentRequest(kind, outcome string) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.agentRequests.WithLabelValues(kind, outcome).Inc()
}

func (m *LedgerMetrics) ObserveError(operation, kind string) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	m.operationErrors.WithLabelValues(operation, kind).Inc()
}

func (m *LedgerMetrics) ObserveOracleFailure(feed string) {
	if m == nil {
		return
	}
	if feed == "" {
		feed = "unknown"
	}
	m.oracleFailures.WithLabelValues(feed).Inc()
}

func (m *LedgerMetrics) SetValuation(user string, valueUSD float64) {
	if m == nil {
		return
	}
	m.valuationUSD.WithLabelValues(user).Set(valueUSD)
}
