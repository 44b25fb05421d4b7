/*
Package config loads the YAML configuration shared by the four infermesh
services.

One document holds one section per service (gateway, orchestrator, worker,
modelManager); each subcommand reads only its own section, so a fleet can
ship a single file. Load applies the file on top of Default, which carries
every documented default (round-robin balancing, 5s health probes, 60s
request timeout, a 100-requests-per-minute rate limit, a 1GB model size
cap). Interval and timeout options are expressed in milliseconds in the
file, matching the wire-level options, with duration accessors for callers.
*/
package config
