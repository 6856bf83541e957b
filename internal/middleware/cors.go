package middleware

import (
	"net/http"
	"strings"

	"github.com/go-chi/cors"
)

// CORS allows credentialed requests from the listed origins. Widget state
// travels in cookies, so the request origin is echoed instead of the
// wildcard. An empty list allows every origin.
func CORS(allowed []string) func(http.Handler) http.Handler {
	originAllowed := OriginMatcher(allowed)

	return cors.Handler(cors.Options{
		AllowOriginFunc: func(_ *http.Request, origin string) bool {
			return originAllowed(origin)
		},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"Retry-After", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	})
}

// OriginMatcher reports whether an Origin header value is in allowed. An
// empty list matches everything.
func OriginMatcher(allowed []string) func(origin string) bool {
	origins := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins[strings.TrimSuffix(origin, "/")] = struct{}{}
		}
	}

	return func(origin string) bool {
		if len(origins) == 0 {
			return true
		}
		_, ok := origins[origin]
		return ok
	}
}
