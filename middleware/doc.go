// Package middleware provides the HTTP middlewares fedsig mounts in front
// of its routes. Each constructor returns a func(http.Handler) http.Handler
// usable with chi's Use and With.
//
// The usual order, outermost first:
//
//	r.Use(middleware.RequestID(middleware.RequestIDConfig{}))
//	r.Use(middleware.AccessLog())
//	r.Use(middleware.Recovery())
//	r.Use(sizeLimit)
//	r.Use(timeout)
//
// RequestID stores a request-scoped zap logger in the context, so the
// middlewares after it and all handlers log with the request ID attached.
package middleware
