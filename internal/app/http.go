package app

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var healthRoutes = []string{"/livez", "/readyz", "/healthz"}

// newRouter serves the metrics exposition and the health probes. Requests are
// traced unless traceMode is "off".
func newRouter(metricsHandler, healthHandler http.Handler, traceMode string, tracer trace.Tracer) http.Handler {
	if metricsHandler == nil {
		metricsHandler = http.NotFoundHandler()
	}

	router := chi.NewRouter()
	if !strings.EqualFold(strings.TrimSpace(traceMode), "off") && tracer != nil {
		router.Use(traceRequests(tracer))
	}
	router.Method(http.MethodGet, "/metrics", metricsHandler)
	for _, route := range healthRoutes {
		router.Method(http.MethodGet, route, healthHandler)
	}
	return router
}

// traceRequests opens one server span per request, named after the matched
// route so unknown paths share a single span name.
func traceRequests(tracer trace.Tracer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, span := tracer.Start(r.Context(), "http.server",
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("http.method", r.Method),
					attribute.String("http.target", r.URL.Path),
				),
			)
			defer span.End()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			if routeCtx := chi.RouteContext(ctx); routeCtx != nil {
				if pattern := routeCtx.RoutePattern(); pattern != "" {
					span.SetName("http.server " + pattern)
				}
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			span.SetAttributes(attribute.Int("http.status_code", status))
			if status >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(status))
				return
			}
			span.SetStatus(codes.Ok, "")
		})
	}
}
