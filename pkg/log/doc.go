/*
Package log provides structured logging for all infermesh services, built on
zerolog.

Call Init once at process start with the desired level and output mode
(console for interactive use, JSON for collection pipelines), then either use
the package-level helpers for one-off messages or derive child loggers that
carry a component, worker, model, or inference id on every line:

	logger := log.WithComponent("orchestrator")
	logger.Info().Str("worker_id", w.ID).Msg("worker registered")

Services share one global logger so a single flag controls verbosity for the
whole process.
*/
package log
