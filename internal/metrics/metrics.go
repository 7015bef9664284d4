// Package metrics exposes the Prometheus instrumentation for the control
// plane:
//   - tradegate_executor_runs_total{result}: executor runs (completed|skipped)
//   - tradegate_signals_total{strategy}: signals generated per strategy
//   - tradegate_executions_total{strategy}: orders executed per strategy
//   - tradegate_rejections_total{strategy}: signals rejected by gating
//   - tradegate_execution_errors_total{strategy}: submission failures per strategy
//   - tradegate_kill_switch_activations_total{level}: kill switch triggers
//   - tradegate_run_duration_seconds: run duration histogram
//
// All collectors are registered in init() and served by the HTTP handler at
// /metrics in Prometheus text exposition format.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradegate_executor_runs_total",
			Help: "Executor runs by result",
		},
		[]string{"result"},
	)

	signalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradegate_signals_total",
			Help: "Signals generated",
		},
		[]string{"strategy"},
	)

	executionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradegate_executions_total",
			Help: "Orders executed",
		},
		[]string{"strategy"},
	)

	rejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradegate_rejections_total",
			Help: "Signals rejected by gating",
		},
		[]string{"strategy"},
	)

	executionErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradegate_execution_errors_total",
			Help: "Order submission failures",
		},
		[]string{"strategy"},
	)

	killSwitchActivations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradegate_kill_switch_activations_total",
			Help: "Kill switch activations by level",
		},
		[]string{"level"},
	)

	runDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tradegate_run_duration_seconds",
			Help:    "Executor run duration",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(
		runsTotal,
		signalsTotal,
		executionsTotal,
		rejectionsTotal,
		executionErrorsTotal,
		killSwitchActivations,
		runDuration,
	)
}

func RunCompleted(seconds float64) {
	runsTotal.WithLabelValues("completed").Inc()
	runDuration.Observe(seconds)
}

func RunSkipped() {
	runsTotal.WithLabelValues("skipped").Inc()
}

func SignalGenerated(strategyID string) {
	signalsTotal.WithLabelValues(strategyID).Inc()
}

func OrderExecuted(strategyID string) {
	executionsTotal.WithLabelValues(strategyID).Inc()
}

func SignalRejected(strategyID string) {
	rejectionsTotal.WithLabelValues(strategyID).Inc()
}

func ExecutionError(strategyID string) {
	executionErrorsTotal.WithLabelValues(strategyID).Inc()
}

func KillSwitchActivated(level string) {
	killSwitchActivations.WithLabelValues(level).Inc()
}
