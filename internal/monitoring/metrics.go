package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Execution metrics
	executionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ordergate_executions_total",
			Help: "Total number of execution attempts by outcome",
		},
		[]string{"status"},
	)

	rejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ordergate_rejections_total",
			Help: "Total number of policy rejections by reason",
		},
		[]string{"reason"},
	)

	placedNotional = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ordergate_placed_notional",
			Help:    "Distribution of reserved notional per placed order",
			Buckets: prometheus.ExponentialBuckets(10, 4, 8),
		},
		[]string{"symbol"},
	)

	// Reservation metrics
	reservedTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ordergate_reserved_total",
			Help: "Current reserved capital per account",
		},
		[]string{"tenant", "account"},
	)

	// Broker metrics
	brokerErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ordergate_broker_errors_total",
			Help: "Total number of broker call failures by operation",
		},
		[]string{"operation"},
	)

	// Recovery metrics
	recoveryActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ordergate_recovery_actions_total",
			Help: "Total reconciliation sweep actions by kind",
		},
		[]string{"action"},
	)
)

func init() {
	// Register metrics
	prometheus.MustRegister(executionsTotal)
	prometheus.MustRegister(rejectionsTotal)
	prometheus.MustRegister(placedNotional)
	prometheus.MustRegister(reservedTotal)
	prometheus.MustRegister(brokerErrorsTotal)
	prometheus.MustRegister(recoveryActionsTotal)
}

// MetricsHandler handles Prometheus metrics endpoint
type MetricsHandler struct{}

// NewMetricsHandler creates a new metrics handler
func NewMetricsHandler() *MetricsHandler {
	return &MetricsHandler{}
}

// ServeHTTP serves the Prometheus metrics endpoint
func (m *MetricsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

// RecordExecution records one execution attempt outcome
func RecordExecution(status string) {
	executionsTotal.WithLabelValues(status).Inc()
}

// RecordRejection records a policy rejection by stable reason code
func RecordRejection(reason string) {
	rejectionsTotal.WithLabelValues(reason).Inc()
}

// RecordPlacedNotional records the reserved notional of a placed order
func RecordPlacedNotional(symbol string, notional float64) {
	placedNotional.WithLabelValues(symbol).Observe(notional)
}

// UpdateReservedTotal updates the reserved capital gauge for an account
func UpdateReservedTotal(tenant, account string, amount float64) {
	reservedTotal.WithLabelValues(tenant, account).Set(amount)
}

// RecordBrokerError records a broker call failure
func RecordBrokerError(operation string) {
	brokerErrorsTotal.WithLabelValues(operation).Inc()
}

// RecordRecoveryAction records one reconciliation sweep action
func RecordRecoveryAction(action string) {
	recoveryActionsTotal.WithLabelValues(action).Inc()
}
