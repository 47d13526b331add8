package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const prefix = "ebpf_hollow_"

var iterationsCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: prefix + "iterations_total",
		Help: "Collection loop iterations by outcome",
	},
	[]string{"outcome"},
)

var stageFailuresCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: prefix + "stage_failures_total",
		Help: "Failures per collection loop stage",
	},
	[]string{"stage"},
)

var publishCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: prefix + "publish_total",
		Help: "Publish attempts by mode and result",
	},
	[]string{"mode", "result"},
)

var fallbackCounter = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: prefix + "sample_fallback_total",
		Help: "Iterations that used the sample report instead of a live trace",
	},
)

var iterationDurationHist = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Name:    prefix + "iteration_duration_seconds",
		Help:    "Wall time of one iteration, sleep excluded",
		Buckets: []float64{1, 5, 10, 30, 60, 90, 120, 300},
	},
)

var lastSuccessGauge = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: prefix + "last_success_timestamp_seconds",
		Help: "Unix time of the last successful iteration",
	},
)

var dashboardRequestsCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: prefix + "dashboard_requests_total",
		Help: "Dashboard HTTP requests by kind",
	},
	[]string{"kind"},
)

type Metrics struct{}

var m = &Metrics{}

func Get() *Metrics {
	return m
}

func (m *Metrics) RecordIteration(outcome string, duration time.Duration) {
	iterationsCounter.WithLabelValues(outcome).Inc()
	iterationDurationHist.Observe(duration.Seconds())
	if outcome == "success" {
		lastSuccessGauge.SetToCurrentTime()
	}
}

func (m *Metrics) RecordStageFailure(stage string) {
	stageFailuresCounter.WithLabelValues(stage).Inc()
}

func (m *Metrics) RecordPublish(mode string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	publishCounter.WithLabelValues(mode, result).Inc()
}

func (m *Metrics) RecordFallback() {
	fallbackCounter.Inc()
}

// RecordDashboardRequest counts a request; kind is "file", "placeholder", "index" or "health".
func (m *Metrics) RecordDashboardRequest(kind string) {
	dashboardRequestsCounter.WithLabelValues(kind).Inc()
}
