/*
Package worker implements the inference execution node.

A worker holds preloaded models in an LRU cache and runs each request
through a fixed pipeline: validate, preprocess, execute, postprocess.
Admission is a hard gate: when maxConcurrentInferences requests are in
flight the next request is rejected immediately with CapacityExceeded.
Nothing queues.

Model loads go through the model manager. Concurrent loads of the same
model collapse into one fetch, blobs are checksum-verified, and cache
eviction removes the model from the advertised preloaded set so the
worker never claims a model it cannot serve.

The HTTP server exposes the worker to the orchestrator and registers
the worker on startup.
*/
package worker
