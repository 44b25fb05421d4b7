/*
Package errdefs defines the error taxonomy shared by all infermesh services.

Each caller-observable failure kind is a sentinel error. Producers wrap a
sentinel with context; consumers match with errors.Is. The package also owns
the two edge mappings: Code (stable wire identifier placed in JSON error
bodies) and HTTPStatus (the status a service edge responds with). FromCode
reverses the wire identifier so a kind survives the orchestrator→gateway hop
without string matching on messages.

Stack traces never cross a service boundary; only the kind and the wrapped
message do.
*/
package errdefs
