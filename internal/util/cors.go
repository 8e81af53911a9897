package util

import (
	"net/http"
	"strings"
)

// WithCORS allows the configured web app origin to call the API with
// credentials (session cookie). An empty origin falls back to "*" without
// credentials for local development.
func WithCORS(appOrigin string, next http.Handler) http.Handler {
	appOrigin = strings.TrimRight(strings.TrimSpace(appOrigin), "/")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if appOrigin == "" {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			w.Header().Set("Access-Control-Allow-Origin", appOrigin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-Id")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
