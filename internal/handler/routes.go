package handler

import (
	"net/http"

	"github.com/fabian4/redirect-gateway/internal/metrics"
)

const HealthPath = "/healthz"

// Routes puts the health and metrics endpoints in front of the gateway. Paths
// are compared verbatim so the redirect table sees the uncleaned request path.
func Routes(gw http.Handler, m *metrics.Registry, metricsPath string) http.Handler {
	var mh http.Handler
	if m != nil && metricsPath != "" {
		mh = m.Handler()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == HealthPath:
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			_, _ = w.Write([]byte("ok"))
		case mh != nil && r.URL.Path == metricsPath:
			mh.ServeHTTP(w, r)
		default:
			gw.ServeHTTP(w, r)
		}
	})
}
