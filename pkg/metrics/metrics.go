package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Orchestrator metrics
	WorkersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "infermesh_workers_total",
			Help: "Total number of registered workers by status",
		},
		[]string{"status"},
	)

	InferenceRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "infermesh_inference_requests_total",
			Help: "Total number of routed inference requests by outcome",
		},
		[]string{"model", "outcome"},
	)

	RoutingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "infermesh_routing_duration_seconds",
			Help:    "End-to-end routing duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"model"},
	)

	WorkerLoad = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "infermesh_worker_load",
			Help: "In-flight requests tracked per worker",
		},
		[]string{"worker"},
	)

	HealthProbeFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "infermesh_health_probe_failures_total",
			Help: "Total number of failed health probes per worker",
		},
		[]string{"worker"},
	)

	WorkersQuarantined = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "infermesh_workers_quarantined_total",
			Help: "Total number of quarantine transitions",
		},
	)

	// Worker metrics
	InferencesExecuted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "infermesh_inferences_executed_total",
			Help: "Total number of inferences executed by outcome",
		},
		[]string{"model", "outcome"},
	)

	InferenceDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "infermesh_inference_duration_seconds",
			Help:    "Inference pipeline duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"model"},
	)

	CapacityRejections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "infermesh_capacity_rejections_total",
			Help: "Total number of requests rejected at the capacity gate",
		},
	)

	ModelsLoaded = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "infermesh_models_loaded",
			Help: "Number of models currently preloaded on this worker",
		},
	)

	// Gateway metrics
	GatewayRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "infermesh_gateway_requests_total",
			Help: "Total number of gateway requests by route and status",
		},
		[]string{"route", "status"},
	)

	RateLimitedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "infermesh_rate_limited_total",
			Help: "Total number of requests denied by the rate limiter",
		},
	)

	// Model manager metrics
	ModelsStored = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "infermesh_models_stored",
			Help: "Number of model blobs currently stored",
		},
	)

	ModelStoreBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "infermesh_model_store_bytes",
			Help: "Total bytes of stored model blobs",
		},
	)
)

func init() {
	prometheus.MustRegister(WorkersTotal)
	prometheus.MustRegister(InferenceRequestsTotal)
	prometheus.MustRegister(RoutingDuration)
	prometheus.MustRegister(WorkerLoad)
	prometheus.MustRegister(HealthProbeFailures)
	prometheus.MustRegister(WorkersQuarantined)
	prometheus.MustRegister(InferencesExecuted)
	prometheus.MustRegister(InferenceDuration)
	prometheus.MustRegister(CapacityRejections)
	prometheus.MustRegister(ModelsLoaded)
	prometheus.MustRegister(GatewayRequestsTotal)
	prometheus.MustRegister(RateLimitedTotal)
	prometheus.MustRegister(ModelsStored)
	prometheus.MustRegister(ModelStoreBytes)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
