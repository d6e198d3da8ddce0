// Package middleware provides HTTP middleware wrapping the streaming edge.
package middleware

import (
	"net/http"
	"os"
	"strings"
)

// CORS wraps next with cross-origin handling for the loopback stream
// endpoint, so a media player running inside a browser or webview can
// fetch bytes from it. If allowedOrigins is nil or empty, it falls back
// to MAPLAYER_ORIGINS. A present-but-disallowed Origin header is
// rejected outright rather than silently stripped, since the stream
// endpoint serves potentially large byte ranges.
func CORS(allowedOrigins []string, next http.Handler) http.Handler {
	if len(allowedOrigins) == 0 {
		allowedOrigins = originsFromEnv()
	}

	// Explicitly disable all origins.
	if allowedOrigins == nil {
		return next
	}

	allowAll := len(allowedOrigins) == 1 && allowedOrigins[0] == "*"
	allowedSet := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowedSet[o] = struct{}{}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			next.ServeHTTP(w, r)
			return
		}

		if !allowAll && !originAllowed(origin, allowedSet) {
			http.Error(w, "origin not allowed", http.StatusForbidden)
			return
		}

		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Expose-Headers", "Content-Range, Accept-Ranges, Content-Length")

		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Range")
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func originAllowed(origin string, allowedSet map[string]struct{}) bool {
	_, ok := allowedSet[origin]
	return ok
}

// originsFromEnv reads the comma-separated MAPLAYER_ORIGINS environment
// variable. An unset or empty variable means no origins are allowed.
func originsFromEnv() (origins []string) {
	raw := os.Getenv("MAPLAYER_ORIGINS")
	if raw == "" {
		return nil
	}

	for _, o := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(o); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	if len(origins) == 0 {
		return nil
	}
	return origins
}
