package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry = prometheus.NewRegistry()

	apiRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "greencheck_api_requests_total",
		Help: "Upstream API requests by endpoint and status class",
	}, []string{"endpoint", "status"})
	apiRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "greencheck_api_request_duration_seconds",
		Help:    "Upstream API request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})

	analysisStartedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "greencheck_analysis_started_total",
		Help: "Total analyses started",
	})
	analysisCompletedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "greencheck_analysis_completed_total",
		Help: "Total analyses completed",
	})
	analysisFailedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "greencheck_analysis_failed_total",
		Help: "Total analyses failed by error kind",
	}, []string{"kind"})
	staleResponsesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "greencheck_stale_responses_total",
		Help: "Responses discarded because their job was reset",
	})
	analysisDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "greencheck_analysis_duration_ms",
		Help:    "Analysis duration in milliseconds",
		Buckets: []float64{100, 250, 500, 1000, 2000, 5000, 10000, 30000, 60000},
	})
	workspacesActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "greencheck_workspaces_active",
		Help: "Workspaces held by the console server",
	})
)

func init() {
	registry.MustRegister(
		apiRequestsTotal,
		apiRequestDuration,
		analysisStartedTotal,
		analysisCompletedTotal,
		analysisFailedTotal,
		staleResponsesTotal,
		analysisDuration,
		workspacesActive,
	)
}

// Registry exposes the collector registry, mainly for tests.
func Registry() *prometheus.Registry {
	return registry
}

// ObserveAPIRequest records one upstream call. status 0 means the request never completed.
func ObserveAPIRequest(endpoint string, status int, d time.Duration) {
	apiRequestsTotal.WithLabelValues(endpoint, statusClass(status)).Inc()
	apiRequestDuration.WithLabelValues(endpoint).Observe(d.Seconds())
}

// IncAnalysisStarted increments the started counter.
func IncAnalysisStarted() {
	analysisStartedTotal.Inc()
}

// IncAnalysisCompleted increments the completed counter.
func IncAnalysisCompleted() {
	analysisCompletedTotal.Inc()
}

// IncAnalysisFailed increments the failed counter for an error kind.
func IncAnalysisFailed(kind string) {
	analysisFailedTotal.WithLabelValues(kind).Inc()
}

// IncStaleResponse counts a response dropped after a reset.
func IncStaleResponse() {
	staleResponsesTotal.Inc()
}

// ObserveAnalysisDurationMs records an analysis duration in milliseconds.
func ObserveAnalysisDurationMs(value float64) {
	if value < 0 {
		value = 0
	}
	analysisDuration.Observe(value)
}

// SetWorkspacesActive reports the number of live workspaces.
func SetWorkspacesActive(n int) {
	workspacesActive.Set(float64(n))
}

// Handler exposes metrics in Prometheus text format.
func Handler() gin.HandlerFunc {
	h := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return gin.WrapH(h)
}

func statusClass(status int) string {
	if status <= 0 {
		return "error"
	}
	return strconv.Itoa(status/100) + "xx"
}
