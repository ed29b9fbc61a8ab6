package whitelist

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	propagationsName      = "whitelist_propagations_total"
	targetOutcomesName    = "whitelist_target_operations_total"
	sweepsName            = "whitelist_sweeps_total"
	failedSweepsName      = "whitelist_failed_sweeps_total"
	skippedSweepsName     = "whitelist_skipped_sweeps_total"
	lastSweepDurationName = "whitelist_last_sweep_duration_seconds"
	lastSweepResultName   = "whitelist_last_sweep"
	lastSweepSuccessName  = "whitelist_last_success_timestamp_seconds"
	sweepStillFailingName = "whitelist_sweep_still_failing"
)

// Metrics holds the lifecycle counters and sweep gauges.
type Metrics struct {
	propagations   *prometheus.CounterVec
	targetOutcomes *prometheus.CounterVec

	sweeps            prometheus.Counter
	failedSweeps      prometheus.Counter
	skippedSweeps     prometheus.Counter
	lastSweepDuration prometheus.Gauge
	lastSweepResult   prometheus.Gauge
	lastSweepSuccess  prometheus.Gauge
	stillFailing      prometheus.Gauge
}

// NewMetrics creates the lifecycle metrics on r. A nil r leaves them
// unregistered, which is what tests that do not inspect metrics want.
func NewMetrics(r prometheus.Registerer) *Metrics {
	return &Metrics{
		propagations: promauto.With(r).NewCounterVec(
			prometheus.CounterOpts{
				Name: propagationsName,
				Help: "Login propagations by outcome (complete, partial, failed, no_targets, not_configured).",
			},
			[]string{"outcome"},
		),
		targetOutcomes: promauto.With(r).NewCounterVec(
			prometheus.CounterOpts{
				Name: targetOutcomesName,
				Help: "Per-target whitelist operations by operation and result.",
			},
			[]string{"op", "result"},
		),
		sweeps: promauto.With(r).NewCounter(
			prometheus.CounterOpts{
				Name: sweepsName,
				Help: "Total number of expiry sweeps.",
			},
		),
		failedSweeps: promauto.With(r).NewCounter(
			prometheus.CounterOpts{
				Name: failedSweepsName,
				Help: "Total number of sweeps that could not list expired entries.",
			},
		),
		skippedSweeps: promauto.With(r).NewCounter(
			prometheus.CounterOpts{
				Name: skippedSweepsName,
				Help: "Total number of sweep ticks skipped because a sweep was already running.",
			},
		),
		lastSweepDuration: promauto.With(r).NewGauge(
			prometheus.GaugeOpts{
				Name: lastSweepDurationName,
				Help: "Last sweep's duration.",
			},
		),
		lastSweepResult: promauto.With(r).NewGauge(
			prometheus.GaugeOpts{
				Name: lastSweepResultName,
				Help: "Last sweep's result (1: success, 0: failed).",
			},
		),
		lastSweepSuccess: promauto.With(r).NewGauge(
			prometheus.GaugeOpts{
				Name: lastSweepSuccessName,
				Help: "Last successful sweep's timestamp.",
			},
		),
		stillFailing: promauto.With(r).NewGauge(
			prometheus.GaugeOpts{
				Name: sweepStillFailingName,
				Help: "Expired entries the last sweep could not remove remotely.",
			},
		),
	}
}

func (m *Metrics) observePropagation(r *PropagateResult) {
	outcome := "complete"
	switch {
	case r.NotConfigured:
		outcome = "not_configured"
	case r.NoTargets:
		outcome = "no_targets"
	case len(r.Succeeded) == 0:
		outcome = "failed"
	case len(r.Failed) > 0:
		outcome = "partial"
	}
	m.propagations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeTarget(op string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.targetOutcomes.WithLabelValues(op, result).Inc()
}
