package zoraxy

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type clientMetrics struct {
	logins        *prometheus.CounterVec
	loginDuration prometheus.Histogram
	calls         *prometheus.CounterVec
}

func newClientMetrics(r prometheus.Registerer) *clientMetrics {
	return &clientMetrics{
		logins: promauto.With(r).NewCounterVec(
			prometheus.CounterOpts{
				Name: "zoraxy_logins_total",
				Help: "Login handshakes against the Zoraxy API by result.",
			},
			[]string{"result"},
		),
		loginDuration: promauto.With(r).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "zoraxy_login_duration_seconds",
				Help:    "Duration of Zoraxy login handshakes.",
				Buckets: prometheus.DefBuckets,
			},
		),
		calls: promauto.With(r).NewCounterVec(
			prometheus.CounterOpts{
				Name: "zoraxy_whitelist_calls_total",
				Help: "Whitelist add/remove calls against the Zoraxy API by operation and result.",
			},
			[]string{"op", "result"},
		),
	}
}

func (m *clientMetrics) observeLogin(err error, d time.Duration) {
	m.logins.WithLabelValues(result(err)).Inc()
	m.loginDuration.Observe(d.Seconds())
}

func (m *clientMetrics) observeCall(op string, err error) {
	m.calls.WithLabelValues(op, result(err)).Inc()
}

func result(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}
