package httpserver

import (
	"net/http"
	"strings"

	"github.com/wilsonzlin/aero/proxy/webrtc-roulette/internal/origin"
)

// WithOriginPolicy rejects browser requests from origins the policy does not
// allow and adds CORS headers for the ones it does. Requests without an Origin
// header pass through untouched.
func WithOriginPolicy(policy origin.Policy, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if strings.TrimSpace(r.Header.Get("Origin")) == "" {
			next(w, r)
			return
		}

		normalizedOrigin, ok := policy.Check(r.Header.Get("Origin"), r.Host)
		if !ok {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		if policy.AllowsAny() {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			w.Header().Set("Access-Control-Allow-Origin", normalizedOrigin)
			w.Header().Add("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Expose-Headers", "X-Request-ID")

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.Header().Set("Access-Control-Allow-Methods", "GET,OPTIONS")
			if requestHeaders := strings.TrimSpace(r.Header.Get("Access-Control-Request-Headers")); requestHeaders != "" {
				w.Header().Set("Access-Control-Allow-Headers", requestHeaders)
			}
			w.Header().Set("Access-Control-Max-Age", "600")
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next(w, r)
	}
}
