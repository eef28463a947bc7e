package httpapi

import (
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricRequestsTotal   = "midas.http.requests.total"
	metricRequestDuration = "midas.http.request.duration.seconds"

	attrRoute  = "route"
	attrMethod = "method"
	attrStatus = "status"
)

// requestMetrics holds the RED-style instruments recorded by
// metricsMiddleware. A nil *requestMetrics is safe to use: observe
// becomes a no-op so a failed instrument build never blocks startup.
type requestMetrics struct {
	requestsTotal   metric.Int64Counter
	requestDuration metric.Float64Histogram
}

// newRequestMetrics builds instruments from the global meter provider.
// In the absence of a configured SDK, otel's default no-op provider
// keeps these calls cheap and side-effect free.
func newRequestMetrics() *requestMetrics {
	meter := otel.Meter("github.com/thebtf/midas/internal/httpapi")

	counter, err := meter.Int64Counter(metricRequestsTotal, metric.WithDescription("total HTTP requests handled"), metric.WithUnit("{request}"))
	if err != nil {
		return nil
	}
	histogram, err := meter.Float64Histogram(metricRequestDuration, metric.WithDescription("HTTP request duration"), metric.WithUnit("s"))
	if err != nil {
		return nil
	}
	return &requestMetrics{requestsTotal: counter, requestDuration: histogram}
}

func (rm *requestMetrics) observe(r *http.Request, status int, d time.Duration) {
	if rm == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(attrRoute, r.URL.Path),
		attribute.String(attrMethod, r.Method),
		attribute.Int(attrStatus, status),
	)
	rm.requestsTotal.Add(r.Context(), 1, attrs)
	rm.requestDuration.Record(r.Context(), d.Seconds(), attrs)
}

type statusWriter struct {
	http.ResponseWriter
	status  int
	written bool
}

func (sw *statusWriter) WriteHeader(code int) {
	if !sw.written {
		sw.status = code
		sw.written = true
	}
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(buf []byte) (int, error) {
	if !sw.written {
		sw.status = http.StatusOK
		sw.written = true
	}
	return sw.ResponseWriter.Write(buf)
}

// metricsMiddleware records one requestsTotal/requestDuration observation
// per request, generalized from the teacher pack's OTel HTTP middleware
// without the tracing half (Midas has no span exporter configured).
func metricsMiddleware(rm *requestMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := &statusWriter{ResponseWriter: w}
			start := time.Now()
			next.ServeHTTP(sw, r)
			rm.observe(r, sw.status, time.Since(start))
		})
	}
}
