/*
Package types defines the core data structures shared across the infermesh
services.

This package is the foundation of the domain model: workers and their
capacity, model metadata, inference requests and results, health and
statistics records, and gateway credentials. All other packages depend on it
for state management and wire payloads.

# Core Types

Control plane:
  - Worker: a registered inference worker with capabilities and capacity
  - WorkerStats: per-worker request accounting used by the load balancer
  - HealthState: probe history driving quarantine decisions
  - BalancingStrategy: the named worker-selection disciplines

Data plane:
  - InferenceRequest / InferenceOptions / Requirements: routed work
  - InferenceResult / RouteResult: normalized response envelopes
  - InferenceRecord: one entry of a worker's rolling history

Model management:
  - ModelMetadata: catalog entry for a stored model
  - StoreResult / StoreStats: blob store outcomes

Gateway:
  - APIKey: opaque credential with a permission set ("*" is wildcard)

All types serialize to JSON; they carry no behavior beyond small pure
helpers so every service can instantiate and test them in isolation.
*/
package types
