/*
Package api holds the HTTP plumbing shared by every service surface: the
gin engine factory with recovery and request logging, the error envelope
writer that maps error kinds to HTTP statuses, and the gateway's
per-route metrics middleware.

Handlers never pick status codes directly; they hand the error to Error
and the kind mapping in errdefs decides the status and wire code.
*/
package api
