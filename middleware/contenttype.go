package middleware

import (
	"errors"
	"mime"
	"net/http"
	"strings"
)

// ErrNoAllowedTypes is returned when ContentType is given no media types.
var ErrNoAllowedTypes = errors.New("content type check: at least one allowed content type is required")

// ContentType returns a middleware that answers 415 to POST, PUT and PATCH
// requests whose media type is missing or not in allowed. Parameters such
// as charset and profile are ignored.
func ContentType(allowed ...string) (func(http.Handler) http.Handler, error) {
	if len(allowed) == 0 {
		return nil, ErrNoAllowedTypes
	}

	allowedSet := make(map[string]struct{}, len(allowed))
	for _, t := range allowed {
		allowedSet[strings.ToLower(strings.TrimSpace(t))] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodPost, http.MethodPut, http.MethodPatch:
				mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
				if _, ok := allowedSet[strings.ToLower(mediaType)]; err != nil || !ok {
					http.Error(w, http.StatusText(http.StatusUnsupportedMediaType), http.StatusUnsupportedMediaType)
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}, nil
}
