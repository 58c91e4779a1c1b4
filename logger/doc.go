// Package logger provides a process-wide zap logger with context scoping.
//
// Initialise it once at start-up:
//
//	logger.Init(logger.Config{Env: "prod", Level: "info"})
//	defer logger.Sync()
//
// Request-scoped code takes its logger from the context so that fields
// added by middleware (request_id, key_id) are carried along:
//
//	logger.From(ctx).Info("activity accepted", logger.KeyID(res.KeyID))
package logger
