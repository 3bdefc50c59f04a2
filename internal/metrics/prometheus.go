package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tirds/internal/decision"
	"tirds/internal/types"
)

// Recorder 用 Prometheus 记录缓存、专家与评估结果；实现 cache.Observer 与 decision.Observer。
type Recorder struct {
	registry    *prometheus.Registry
	cacheLookup *prometheus.CounterVec
	specialists *prometheus.CounterVec
	specLatency *prometheus.HistogramVec
	evaluations *prometheus.CounterVec
	evalLatency prometheus.Histogram
	transitions *prometheus.CounterVec
}

// New 在独立的 registry 上注册指标，便于测试与多实例共存。
func New() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Recorder{
		registry: reg,
		cacheLookup: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tirds_cache_lookups_total",
				Help: "Cache lookups by result (hot_hit, durable_hit, miss, error)",
			},
			[]string{"result"},
		),
		specialists: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tirds_specialist_reports_total",
				Help: "Specialist reports by domain and outcome",
			},
			[]string{"domain", "outcome"},
		),
		specLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tirds_specialist_duration_seconds",
				Help:    "Specialist evaluation duration in seconds",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 45, 60, 90},
			},
			[]string{"domain"},
		),
		evaluations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tirds_evaluations_total",
				Help: "Evaluations by final outcome tag",
			},
			[]string{"outcome"},
		),
		evalLatency: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tirds_evaluation_duration_seconds",
				Help:    "End-to-end evaluation duration in seconds",
				Buckets: []float64{1, 2.5, 5, 10, 20, 30, 60, 90, 120, 180},
			},
		),
		transitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tirds_orchestrator_transitions_total",
				Help: "Orchestrator state transitions by target state",
			},
			[]string{"state"},
		),
	}
}

func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Handler 返回 /metrics 使用的 http.Handler。
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Recorder) ObserveCacheLookup(result string) {
	r.cacheLookup.WithLabelValues(result).Inc()
}

func (r *Recorder) OnTransition(_ context.Context, _, to decision.State) {
	r.transitions.WithLabelValues(string(to)).Inc()
}

func (r *Recorder) OnSpecialist(_ context.Context, report types.SpecialistReport) {
	outcome := "ok"
	if report.Failed() {
		outcome = report.Failure.Reason
	}
	r.specialists.WithLabelValues(string(report.Domain), outcome).Inc()
	r.specLatency.WithLabelValues(string(report.Domain)).Observe(report.Elapsed.Seconds())
}

func (r *Recorder) AfterEvaluate(_ context.Context, trace decision.EvaluationTrace) {
	outcome := "ok"
	if trace.Err != nil {
		outcome = string(trace.Err.Tag)
	}
	r.evaluations.WithLabelValues(outcome).Inc()
	r.evalLatency.Observe(trace.Elapsed.Seconds())
}
