/*
Package log provides structured logging for syncstorage using zerolog.

It wraps zerolog to give every component a consistent JSON-or-console
logger, initialized once via Init and then shared through the package-level
Logger or through scoped child loggers.

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

	storeLog := log.WithCollection(principal.FxaUID, "bookmarks")
	storeLog.Info().Int64("modified", int64(ts)).Msg("put_bso committed")

WithUser, WithCollection, and WithBatch attach the identifiers most
operations are scoped to, so log lines for a given request correlate
without every call site repeating Str("fxa_uid", ...).

# Levels

Debug is for development and request tracing, Info for normal operation
(the default in production), Warn for conditions worth a human's attention
(pool nearing exhaustion, quota near the ceiling), Error for failed
operations, and Fatal for startup failures the process cannot recover from.
*/
package log
