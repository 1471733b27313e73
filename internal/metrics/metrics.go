package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "wallet_ledger"

// Operation names used as the "operation" label of the duration histogram.
const (
	OpCreateWallet      = "create_wallet"
	OpBalance           = "wallet_balance"
	OpHistoricalBalance = "wallet_historical_balance"
	OpDeposit           = "wallet_deposit"
	OpWithdraw          = "wallet_withdraw"
	OpTransfer          = "wallet_transfer"
	OpRegisterUser      = "register_user"
)

// Metrics holds the service instruments. A nil *Metrics is valid and records nothing.
type Metrics struct {
	operationDuration *prometheus.HistogramVec
	operationsTotal   *prometheus.CounterVec
	settlementsTotal  *prometheus.CounterVec
	projectionsTotal  *prometheus.CounterVec
	cacheLookups      *prometheus.CounterVec
	outboxRelayed     prometheus.Counter
	deadLettered      *prometheus.CounterVec
}

// New registers the instruments on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		operationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "admission",
				Name:      "operation_duration_seconds",
				Help:      "Latency of wallet service operations.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		operationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "admission",
				Name:      "operations_total",
				Help:      "Wallet service operations partitioned by result.",
			},
			[]string{"operation", "result"},
		),
		settlementsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "settlement",
				Name:      "commands_total",
				Help:      "Settled commands partitioned by variant and result.",
			},
			[]string{"variant", "result"},
		),
		projectionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "projection",
				Name:      "events_total",
				Help:      "Balance-update events partitioned by result.",
			},
			[]string{"result"},
		),
		cacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "balance_lookups_total",
				Help:      "Balance cache lookups partitioned by outcome.",
			},
			[]string{"outcome"},
		),
		outboxRelayed: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "outbox",
				Name:      "relayed_total",
				Help:      "Outbox messages published to the broker.",
			},
		),
		deadLettered: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "consumer",
				Name:      "dead_lettered_total",
				Help:      "Messages forwarded to a dead-letter topic.",
			},
			[]string{"topic"},
		),
	}
}

// ObserveOperation records the duration and result of a service call started at start.
func (m *Metrics) ObserveOperation(operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.operationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	m.operationsTotal.WithLabelValues(operation, result(err)).Inc()
}

// Settlement counts one settled command.
func (m *Metrics) Settlement(variant string, err error) {
	if m == nil {
		return
	}
	m.settlementsTotal.WithLabelValues(variant, result(err)).Inc()
}

// Projection counts one projected event. outcome is "applied", "skipped", "dropped" or "error".
func (m *Metrics) Projection(outcome string) {
	if m == nil {
		return
	}
	m.projectionsTotal.WithLabelValues(outcome).Inc()
}

// CacheLookup counts a balance cache hit or miss.
func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	m.cacheLookups.WithLabelValues(outcome).Inc()
}

// OutboxRelayed counts n published outbox messages.
func (m *Metrics) OutboxRelayed(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.outboxRelayed.Add(float64(n))
}

// DeadLettered counts a message sent to the dead-letter topic of topic.
func (m *Metrics) DeadLettered(topic string) {
	if m == nil {
		return
	}
	m.deadLettered.WithLabelValues(topic).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
