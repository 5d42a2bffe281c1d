// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	SignalsReceived    *prometheus.CounterVec
	ExecutionsResolved *prometheus.CounterVec
	BrokerForwards     *prometheus.CounterVec
	LockContention     *prometheus.CounterVec
	SwipesTotal        *prometheus.CounterVec

	SchedulerTicks  *prometheus.CounterVec
	SchedulerActive prometheus.Gauge
	ResolveDuration prometheus.Histogram

	PendingExecutions prometheus.Gauge
	OpenPositions     prometheus.Gauge
	CooldownsCleared  prometheus.Counter
}

func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "tradegate"
	}
	return &Metrics{
		SignalsReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "intake",
			Name:      "signals_total",
			Help:      "Inbound signals by kind and intake result",
		}, []string{"kind", "result"}),
		ExecutionsResolved: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "resolutions_total",
			Help:      "Execution resolutions by terminal outcome",
		}, []string{"outcome"}),
		BrokerForwards: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "forwards_total",
			Help:      "Broker forward attempts by status",
		}, []string{"status"}),
		LockContention: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "intake",
			Name:      "lock_contention_total",
			Help:      "Signals turned away because the symbol lock was held",
		}, []string{"kind"}),
		SwipesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "intents",
			Name:      "swipes_total",
			Help:      "Swipe decisions by action",
		}, []string{"action"}),
		SchedulerTicks: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "ticks_total",
			Help:      "Scheduler ticks by power state",
		}, []string{"state"}),
		SchedulerActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "active",
			Help:      "1 while the scheduler runs at the active tick rate",
		}),
		ResolveDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "resolve_duration_seconds",
			Help:      "Time spent resolving one due execution",
			Buckets:   prometheus.DefBuckets,
		}),
		PendingExecutions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "pending_executions",
			Help:      "Pending executions awaiting their delay",
		}),
		OpenPositions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "open_positions",
			Help:      "Currently open positions",
		}),
		CooldownsCleared: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gates",
			Name:      "cooldowns_cleared_total",
			Help:      "Timed gate blocks cleared by the sweep",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

func RecordSignal(kind, result string) {
	DefaultMetrics.SignalsReceived.WithLabelValues(kind, result).Inc()
}

func RecordResolution(outcome string) {
	DefaultMetrics.ExecutionsResolved.WithLabelValues(outcome).Inc()
}

func RecordBrokerForward(err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	DefaultMetrics.BrokerForwards.WithLabelValues(status).Inc()
}

func RecordLockContention(kind string) {
	DefaultMetrics.LockContention.WithLabelValues(kind).Inc()
}

func RecordSwipe(action string) {
	DefaultMetrics.SwipesTotal.WithLabelValues(action).Inc()
}

func RecordTick(state string) {
	DefaultMetrics.SchedulerTicks.WithLabelValues(state).Inc()
}

func SetSchedulerActive(active bool) {
	v := 0.0
	if active {
		v = 1.0
	}
	DefaultMetrics.SchedulerActive.Set(v)
}

func ObserveResolveDuration(seconds float64) {
	DefaultMetrics.ResolveDuration.Observe(seconds)
}

func SetPendingExecutions(n int) {
	DefaultMetrics.PendingExecutions.Set(float64(n))
}

func SetOpenPositions(n int) {
	DefaultMetrics.OpenPositions.Set(float64(n))
}

func RecordCooldownCleared() {
	DefaultMetrics.CooldownsCleared.Inc()
}
