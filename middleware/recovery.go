package middleware

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/vitalvas/fedsig/logger"
)

// Recovery returns a middleware that turns a panic in a downstream handler
// into a 500 response and an error log entry on the request logger.
// http.ErrAbortHandler is re-panicked so net/http can abort the connection.
func Recovery() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}

				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				logger.From(r.Context()).Error("handler panic",
					logger.Method(r.Method),
					logger.Path(r.URL.Path),
					zap.Any("panic", rec),
					zap.Stack("stack"),
				)

				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}()

			next.ServeHTTP(w, r)
		})
	}
}
