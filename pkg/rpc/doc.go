/*
Package rpc defines the transport boundary between the orchestrator and the
worker fleet.

The boundary is deliberately narrow: Call(method, params, timeout) with a
raw JSON reply. Two implementations exist. HTTPClient maps method names
onto the worker's JSON-over-HTTP surface and is the production transport;
LocalClient dispatches straight into a Backend in the same process and
exists so orchestrator logic can be tested without a network while
exercising identical marshaling.

Error kinds cross the HTTP hop as stable codes in the error envelope and
are resolved back to sentinels on the caller's side, so errors.Is works
the same over both transports. Connection-level failures surface as
TransportError; a deadline hit during runInference surfaces as
InferenceTimeout.
*/
package rpc
