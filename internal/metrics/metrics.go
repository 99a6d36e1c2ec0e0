package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	CompletionsTotal *prometheus.CounterVec

	LLMRequestsTotal   *prometheus.CounterVec
	LLMRequestDuration *prometheus.HistogramVec
	LLMRetriesTotal    *prometheus.CounterVec
	TokensUsedTotal    *prometheus.CounterVec

	RequestsInFlight prometheus.Gauge
}

// New registers the collectors with reg. nil means the default registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	m := &Metrics{
		CompletionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "completion_source_completions_total",
				Help: "Total number of generate calls by outcome",
			},
			[]string{"model", "outcome"},
		),

		LLMRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "completion_source_llm_requests_total",
				Help: "Total number of HTTP attempts against the completion API",
			},
			[]string{"model", "status"},
		),
		LLMRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "completion_source_llm_request_duration_seconds",
				Help:    "Completion API attempt duration in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"model"},
		),
		LLMRetriesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "completion_source_llm_retries_total",
				Help: "Total number of retried attempts by error kind",
			},
			[]string{"kind"},
		),
		TokensUsedTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "completion_source_tokens_used_total",
				Help: "Total tokens reported by the completion API",
			},
			[]string{"model"},
		),

		RequestsInFlight: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "completion_source_requests_in_flight",
				Help: "Number of generate calls currently running",
			},
		),
	}

	return m
}

func Handler() http.Handler {
	return promhttp.Handler()
}

// HandlerFor serves a custom registry.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordLLMRequest(model, status string, duration time.Duration) {
	m.LLMRequestsTotal.WithLabelValues(model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(model).Observe(duration.Seconds())
}

func (m *Metrics) RecordRetry(kind string) {
	m.LLMRetriesTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) AddTokens(model string, n int64) {
	if n <= 0 {
		return
	}
	m.TokensUsedTotal.WithLabelValues(model).Add(float64(n))
}

func (m *Metrics) RecordCompletion(model, outcome string) {
	m.CompletionsTotal.WithLabelValues(model, outcome).Inc()
}

func (m *Metrics) IncRequestsInFlight() {
	m.RequestsInFlight.Inc()
}

func (m *Metrics) DecRequestsInFlight() {
	m.RequestsInFlight.Dec()
}
