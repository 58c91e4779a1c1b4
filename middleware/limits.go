package middleware

import (
	"errors"
	"net/http"
	"time"
)

var (
	// ErrInvalidMaxSize is returned when the body limit is not positive.
	ErrInvalidMaxSize = errors.New("request size limit: max size must be greater than zero")

	// ErrInvalidTimeout is returned when the handler timeout is not positive.
	ErrInvalidTimeout = errors.New("timeout: duration must be greater than zero")
)

// RequestSizeLimit returns a middleware that caps request bodies at
// maxBytes. Reads beyond the limit fail with *http.MaxBytesError, and a
// declared Content-Length over the limit is refused up front with 413.
func RequestSizeLimit(maxBytes int64) (func(http.Handler) http.Handler, error) {
	if maxBytes <= 0 {
		return nil, ErrInvalidMaxSize
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				http.Error(w, http.StatusText(http.StatusRequestEntityTooLarge), http.StatusRequestEntityTooLarge)
				return
			}

			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}, nil
}

// Timeout returns a middleware that bounds handler execution with
// http.TimeoutHandler, answering 503 when d elapses first.
func Timeout(d time.Duration, message string) (func(http.Handler) http.Handler, error) {
	if d <= 0 {
		return nil, ErrInvalidTimeout
	}

	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, message)
	}, nil
}
