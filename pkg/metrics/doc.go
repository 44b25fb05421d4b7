/*
Package metrics defines the Prometheus instrumentation shared by the
infermesh services.

All collectors are registered at init and exposed via Handler on each
service's /metrics endpoint. The orchestrator tracks worker counts,
routing outcomes and durations, per-worker in-flight load, and quarantine
transitions; workers track pipeline executions, capacity-gate rejections,
and the preloaded model count; the gateway tracks request outcomes and
rate-limit denials; the model manager tracks blob counts and bytes.

Timer is a small helper for histogram observations:

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.RoutingDuration, modelID)
*/
package metrics
