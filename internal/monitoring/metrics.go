package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Mode metrics
	currentMode = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "guardian_mode",
			Help: "Current guardian mode (0=INIT 1=RUNNING 2=REDUCE_ONLY 3=HALTED 4=MANUAL_OVERRIDE)",
		},
	)

	transitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guardian_transitions_total",
			Help: "Total number of mode transitions",
		},
		[]string{"from", "to", "cause"},
	)

	// Trigger metrics
	triggerFiredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guardian_trigger_fired_total",
			Help: "Total number of trigger evaluations that fired",
		},
		[]string{"trigger", "ceiling"},
	)

	evaluationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "guardian_evaluation_duration_seconds",
			Help:    "Duration of one trigger evaluation cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Gate metrics
	gateVerdictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guardian_gate_verdicts_total",
			Help: "Total number of order verdicts by deciding gate",
		},
		[]string{"gate", "result"},
	)

	// Risk metrics
	valueAtRisk = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "guardian_value_at_risk",
			Help: "Latest portfolio VaR as a fraction of equity",
		},
		[]string{"method"},
	)

	stressWorstPnL = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "guardian_stress_worst_pnl",
			Help: "Worst scenario pnl from the latest stress run",
		},
	)

	marginRatio = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "guardian_margin_ratio",
			Help: "Used margin over equity from the latest snapshot",
		},
	)

	// Error metrics
	errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guardian_errors_total",
			Help: "Total number of errors",
		},
		[]string{"type"},
	)
)

func init() {
	// Register metrics
	prometheus.MustRegister(currentMode)
	prometheus.MustRegister(transitionsTotal)
	prometheus.MustRegister(triggerFiredTotal)
	prometheus.MustRegister(evaluationDuration)
	prometheus.MustRegister(gateVerdictsTotal)
	prometheus.MustRegister(valueAtRisk)
	prometheus.MustRegister(stressWorstPnL)
	prometheus.MustRegister(marginRatio)
	prometheus.MustRegister(errorsTotal)
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

// SetMode records the current mode
func SetMode(mode int32) {
	currentMode.Set(float64(mode))
}

// RecordTransition counts a mode transition
func RecordTransition(from, to, cause string) {
	transitionsTotal.WithLabelValues(from, to, cause).Inc()
}

// RecordTriggerFired counts a fired trigger
func RecordTriggerFired(trigger, ceiling string) {
	triggerFiredTotal.WithLabelValues(trigger, ceiling).Inc()
}

// ObserveEvaluation records the duration of one cycle in seconds
func ObserveEvaluation(seconds float64) {
	evaluationDuration.Observe(seconds)
}

// RecordGateVerdict counts an order verdict
func RecordGateVerdict(gate string, passed bool) {
	result := "rejected"
	if passed {
		result = "accepted"
	}
	gateVerdictsTotal.WithLabelValues(gate, result).Inc()
}

// UpdateVaR sets the latest VaR fraction
func UpdateVaR(method string, value float64) {
	valueAtRisk.WithLabelValues(method).Set(value)
}

// UpdateStressWorstPnL sets the worst scenario pnl
func UpdateStressWorstPnL(pnl float64) {
	stressWorstPnL.Set(pnl)
}

// UpdateMarginRatio sets the latest margin ratio
func UpdateMarginRatio(ratio float64) {
	marginRatio.Set(ratio)
}

// RecordError records an error metric
func RecordError(errorType string) {
	errorsTotal.WithLabelValues(errorType).Inc()
}
