package metrics

import (
	"net/http"
	"time"

	"github.com/nholik/freshness-sentinel/internal/monitor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics wraps Prometheus collectors for freshness-sentinel.
type Metrics struct {
	registry                 *prometheus.Registry
	now                      func() time.Time
	checkDurationSeconds     *prometheus.HistogramVec
	checksTotal              *prometheus.CounterVec
	updateAvailable          *prometheus.GaugeVec
	reloadsTotal             *prometheus.CounterVec
	lastSuccessfulCheckGauge *prometheus.GaugeVec
}

// New initializes a Metrics registry with all collectors registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		now:      time.Now,
		checkDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "freshness_sentinel_check_duration_seconds",
			Help:    "Duration of version checks in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"target"}),
		checksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "freshness_sentinel_checks_total",
			Help: "Total version checks by target and result.",
		}, []string{"target", "result"}),
		updateAvailable: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "freshness_sentinel_update_available",
			Help: "1 when the loaded client of a target is older than the deployed build.",
		}, []string{"target"}),
		reloadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "freshness_sentinel_reloads_total",
			Help: "Total client reloads by target and outcome.",
		}, []string{"target", "status"}),
		lastSuccessfulCheckGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "freshness_sentinel_last_successful_check_timestamp",
			Help: "Unix timestamp of the last check that reached the manifest.",
		}, []string{"target"}),
	}

	registry.MustRegister(
		m.checkDurationSeconds,
		m.checksTotal,
		m.updateAvailable,
		m.reloadsTotal,
		m.lastSuccessfulCheckGauge,
	)

	return m
}

// Handler returns a Prometheus HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveCheck implements monitor.Observer.
func (m *Metrics) ObserveCheck(target string, result monitor.CheckResult, duration time.Duration) {
	if m == nil {
		return
	}
	m.checksTotal.WithLabelValues(target, string(result)).Inc()
	if result == monitor.ResultSkipped {
		return
	}
	m.checkDurationSeconds.WithLabelValues(target).Observe(duration.Seconds())

	switch result {
	case monitor.ResultCurrent:
		m.updateAvailable.WithLabelValues(target).Set(0)
		m.lastSuccessfulCheckGauge.WithLabelValues(target).Set(float64(m.now().Unix()))
	case monitor.ResultUpdate:
		m.updateAvailable.WithLabelValues(target).Set(1)
		m.lastSuccessfulCheckGauge.WithLabelValues(target).Set(float64(m.now().Unix()))
	}
}

// ObserveReload records a reload attempt.
func (m *Metrics) ObserveReload(target string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "failed"
	}
	m.reloadsTotal.WithLabelValues(target, status).Inc()
}
