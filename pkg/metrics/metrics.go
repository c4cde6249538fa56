package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OutboundSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_outbound_sent_total",
			Help: "Outbound transactions broadcast",
		},
		[]string{"network", "process"},
	)

	OutboundErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_outbound_errors_total",
			Help: "Outbound pipeline errors by kind and outcome",
		},
		[]string{"network", "process", "kind", "outcome"},
	)

	OutboundVetoed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_outbound_vetoed_total",
			Help: "Outbound messages dropped by admission checks",
		},
		[]string{"network", "process"},
	)

	FeeBumps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_fee_bumps_total",
			Help: "Replacement transactions issued for stuck broadcasts",
		},
		[]string{"network", "process"},
	)

	ConfirmationChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_confirmation_checks_total",
			Help: "Confirmation polls by result",
		},
		[]string{"network", "result"},
	)

	ConfirmationLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "settlement_confirmation_seconds",
			Help:    "Time from broadcast to confirmed receipt",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"network", "process"},
	)

	PoolingDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_pooling_decisions_total",
			Help: "Pooling orchestrator decisions per ledger row",
		},
		[]string{"network", "decision"},
	)

	PoolingCycleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "settlement_pooling_cycle_seconds",
			Help:    "Duration of a pooling cycle",
			Buckets: []float64{.1, .5, 1, 5, 15, 30, 60, 120, 240},
		},
		[]string{"network"},
	)

	DepositsCredited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_deposits_credited_total",
			Help: "Deposits credited to user balances",
		},
		[]string{"network", "token"},
	)

	DepositsDuplicate = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_deposits_duplicate_total",
			Help: "Credit attempts skipped because the deposit was already completed",
		},
		[]string{"network"},
	)

	DepositsCancelled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_deposits_cancelled_total",
			Help: "Deposits cancelled by risk checks",
		},
		[]string{"network", "token"},
	)

	DepositCreditedUSD = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_deposits_credited_usd_total",
			Help: "USD value of credited deposits",
		},
		[]string{"network"},
	)

	JanitorReleased = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "settlement_janitor_released_total",
			Help: "Sweep ledger rows released after their lease expired",
		},
	)
)
