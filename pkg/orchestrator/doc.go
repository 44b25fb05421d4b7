/*
Package orchestrator is the routing brain of the cluster.

Workers announce themselves to the registry, which keeps model and tag
indexes in lockstep with the worker table. The balancer picks one worker
per request using round-robin, least-connections, weighted, or random
selection, feeding on the statistics it accumulates from completed
dispatches. The health monitor probes every worker on an interval and
quarantines a worker after three consecutive failures; one successful
probe readmits it.

Routing is single-shot. A dispatch failure is returned to the caller
rather than retried on another worker, because the first worker may have
executed the request even though its response was lost.
*/
package orchestrator
