/*
Package gateway is the public HTTP edge.

Requests pass the rate limiter first, then authentication, then reach a
thin forwarding layer over the orchestrator and the model manager. The
rate limiter is a per-client fixed window; authentication reads an API
key from X-Api-Key or a bearer token. Error envelopes from downstream
services are re-emitted with their original error kind, so a client sees
the same code whether the verdict came from the gateway or three hops
down.
*/
package gateway
