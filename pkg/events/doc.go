/*
Package events provides an in-process publish/subscribe broker for
control-plane events.

The orchestrator publishes worker lifecycle transitions (registered,
unregistered, quarantined, recovered) and routing outcomes; the model
manager publishes model lifecycle events. Subscribers receive events on a
buffered channel; slow subscribers drop events rather than block the
broker, so publishing never stalls the request path.
*/
package events
