package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/liamcoop/decisions/internal/logger"
	"github.com/liamcoop/decisions/rules"
)

const namespace = "decisions"

// Metrics records decision engine activity. It implements rules.Observer.
//
// Metrics:
//   - decisions_rows_total: rows decided, by rule set and winning rule ("default" for fallthrough)
//   - decisions_calls_total: GetActions calls, by rule set and result
//   - decisions_errors_total: failed calls, by rule set and error kind
//   - decisions_duration_seconds: GetActions latency
type Metrics struct {
	registry *prometheus.Registry

	rows     *prometheus.CounterVec
	calls    *prometheus.CounterVec
	errors   *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// New registers the decision metrics on registry. A nil registry creates a fresh one.
func New(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		rows: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rows_total",
				Help:      "Total number of rows decided",
			},
			[]string{"rule_set", "rule"},
		),

		calls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "calls_total",
				Help:      "Total number of decision calls",
			},
			[]string{"rule_set", "result"},
		),

		errors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of failed decision calls",
			},
			[]string{"rule_set", "kind"},
		),

		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "duration_seconds",
				Help:      "Duration of decision calls in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 16), // 100µs to ~3s
			},
			[]string{"rule_set"},
		),
	}
}

// ObserveDecision records one DecisionEngine call
func (m *Metrics) ObserveDecision(key string, report *rules.Report, elapsed time.Duration, err error) {
	m.duration.WithLabelValues(key).Observe(elapsed.Seconds())

	if err != nil {
		m.calls.WithLabelValues(key, "error").Inc()
		m.errors.WithLabelValues(key, errorKind(err)).Inc()
		return
	}
	m.calls.WithLabelValues(key, "ok").Inc()

	counts := make(map[int]int)
	for _, d := range report.Decisions {
		counts[d.Rule]++
	}
	for rule, n := range counts {
		label := "default"
		if rule != rules.DefaultRule {
			label = strconv.Itoa(rule)
		}
		m.rows.WithLabelValues(key, label).Add(float64(n))
	}
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, rules.ErrUnknownColumn):
		return "unknown_column"
	case errors.Is(err, rules.ErrNonBooleanCondition):
		return "non_boolean"
	case rules.IsEvaluationError(err):
		return "evaluation"
	case rules.IsConfigError(err):
		return "config"
	default:
		return "other"
	}
}

// RegisterLogCounters exposes the logger's HTTP and error counters
func (m *Metrics) RegisterLogCounters() {
	factory := promauto.With(m.registry)
	counter := func(name, help string, read func(logger.Stats) int64) {
		factory.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "log",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(read(logger.Snapshot())) })
	}

	counter("errors_total", "Errors reported through the logger", func(s logger.Stats) int64 { return s.Errors })
	counter("warnings_total", "Warnings reported through the logger", func(s logger.Stats) int64 { return s.Warnings })
	counter("http_5xx_total", "HTTP 5xx responses", func(s logger.Stats) int64 { return s.HTTP5xx })
	counter("http_4xx_total", "HTTP 4xx responses", func(s logger.Stats) int64 { return s.HTTP4xx })
	counter("slow_requests_total", "HTTP requests slower than the slow threshold", func(s logger.Stats) int64 { return s.SlowRequests })
}

// RegisterServedSets exposes the number of decision sets currently served
func (m *Metrics) RegisterServedSets(count func() int) {
	promauto.With(m.registry).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "decision_sets",
		Help:      "Number of decision sets currently served",
	}, func() float64 { return float64(count()) })
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
