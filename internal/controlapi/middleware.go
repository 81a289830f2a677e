package controlapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cortexmesh/cortex-id/internal/meshmetrics"
)

// requestIDHeader carries a per-request correlation id, generated if
// the caller didn't supply one, so a line in the node's log can be
// tied back to a specific Control API call.
const requestIDHeader = "X-Request-Id"

// WithRequestID assigns each request a correlation id — the caller's
// own X-Request-Id if present, otherwise a fresh one — and echoes it
// back on the response.
func WithRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

// statusRecorder wraps a ResponseWriter to capture the status code
// actually written, for metrics purposes.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// InstrumentHandler wraps next with Prometheus request-count and
// duration observations. A nil metrics is a no-op passthrough.
func InstrumentHandler(next http.Handler, metrics *meshmetrics.Metrics) http.Handler {
	if metrics == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		route := sanitizePath(r.URL.Path)
		metrics.APIRequestsTotal.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		metrics.APIRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// sanitizePath collapses a request path to a low-cardinality route
// label. This API has no path parameters today, but the helper keeps
// the metrics label stable if one is added later.
func sanitizePath(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		return "/"
	}
	return "/" + parts[0]
}
