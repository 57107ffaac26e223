// Package otelobs carries the tracing glue: a build-tag-gated OTLP exporter
// and HTTP middleware that stamps trace ids on responses and access logs.
package otelobs

import (
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"

	"typeauthn/pkg/structlog"
)

// HTTPTraceLogMiddleware emits one structured access-log line per request
// with trace_id/span_id and mirrors them into Trace-Id/Span-Id response
// headers for correlation. It does not replace handler-level logging.
func HTTPTraceLogMiddleware(logger *structlog.Logger, next http.Handler) http.Handler {
	if next == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sr, r)

		traceID, spanID := "-", "-"
		if sc := trace.SpanContextFromContext(r.Context()); sc.IsValid() {
			traceID = sc.TraceID().String()
			spanID = sc.SpanID().String()
			sr.Header().Set("Trace-Id", traceID)
			sr.Header().Set("Span-Id", spanID)
		}
		logger.Info("access", structlog.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   sr.status,
			"dur_ms":   time.Since(start).Milliseconds(),
			"trace_id": traceID,
			"span_id":  spanID,
		})
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}
