package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels pipeline runs that produced a risk assessment.
	OutcomeSuccess = "success"
	// OutcomeError labels runs that aborted on a fatal error.
	OutcomeError = "error"
)

var (
	pipelineRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "anomaly_scan",
			Name:      "pipeline_runs_total",
			Help:      "Total number of pipeline runs, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	stageDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "anomaly_scan",
			Name:      "stage_seconds",
			Help:      "Per-stage pipeline latency in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"stage", "status"},
	)

	scannerExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "anomaly_scan",
			Name:      "scanner_executions_total",
			Help:      "Total number of scanner executions, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	anomaliesDetectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "anomaly_scan",
			Name:      "anomalies_detected_total",
			Help:      "Total anomalies confirmed by the detection ensemble.",
		},
	)

	riskProbability = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "anomaly_scan",
			Name:      "risk_probability",
			Help:      "Most recent aggregate risk probability (0-100).",
		},
	)
)

// Register attaches scan-engine collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		pipelineRunsTotal,
		stageDurationSeconds,
		scannerExecutionsTotal,
		anomaliesDetectedTotal,
		riskProbability,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObservePipelineRun records one completed run.
func ObservePipelineRun(outcome string) {
	label := outcome
	if label != OutcomeError {
		label = OutcomeSuccess
	}
	pipelineRunsTotal.WithLabelValues(label).Inc()
}

// ObserveStage records a stage duration under its final status.
func ObserveStage(stage, status string, duration time.Duration) {
	if duration < 0 {
		duration = 0
	}
	stageDurationSeconds.WithLabelValues(stage, status).Observe(duration.Seconds())
}

// ObserveScannerExecution counts one scanner run.
func ObserveScannerExecution(success bool) {
	outcome := OutcomeSuccess
	if !success {
		outcome = OutcomeError
	}
	scannerExecutionsTotal.WithLabelValues(outcome).Inc()
}

// AddAnomalies counts confirmed anomalies.
func AddAnomalies(n int) {
	if n > 0 {
		anomaliesDetectedTotal.Add(float64(n))
	}
}

// SetRiskProbability publishes the latest assessment.
func SetRiskProbability(p float64) {
	riskProbability.Set(p)
}
