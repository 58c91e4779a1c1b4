package middleware

import (
	"net/http"
	"os"
)

// ServerHeader returns a middleware that sets X-Server-Hostname on every
// response. An empty hostname falls back to the first non-empty variable
// in env, then to os.Hostname.
func ServerHeader(hostname string, env ...string) (func(http.Handler) http.Handler, error) {
	if hostname == "" {
		for _, name := range env {
			if v, ok := os.LookupEnv(name); ok && v != "" {
				hostname = v
				break
			}
		}
	}

	if hostname == "" {
		h, err := os.Hostname()
		if err != nil {
			return nil, err
		}

		hostname = h
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Server-Hostname", hostname)
			next.ServeHTTP(w, r)
		})
	}, nil
}
