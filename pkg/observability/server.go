package observability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	// MetricsPath is the Prometheus scrape path.
	MetricsPath = "/metrics"
	// HealthPath is the liveness probe path.
	HealthPath = "/healthz"

	readHeaderTimeout = 5 * time.Second
	serverStopTimeout = 5 * time.Second
)

// statusWriter wraps [http.ResponseWriter] to capture the status code.
type statusWriter struct {
	http.ResponseWriter

	statusCode int
}

// WriteHeader captures the first status code before delegating.
func (sw *statusWriter) WriteHeader(code int) {
	if sw.statusCode == 0 {
		sw.statusCode = code
	}

	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(buf []byte) (int, error) {
	if sw.statusCode == 0 {
		sw.statusCode = http.StatusOK
	}

	n, err := sw.ResponseWriter.Write(buf)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}

	return n, nil
}

// HTTPMiddleware returns an [http.Handler] that creates a server span named
// "METHOD /path" per request, continuing any incoming W3C trace context.
func HTTPMiddleware(tracer trace.Tracer, next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, hr *http.Request) {
		parentCtx := otel.GetTextMapPropagator().Extract(hr.Context(), propagation.HeaderCarrier(hr.Header))

		ctx, span := tracer.Start(parentCtx, hr.Method+" "+hr.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				semconv.HTTPRequestMethodKey.String(hr.Method),
				attribute.String("http.target", hr.URL.Path),
			),
		)
		defer span.End()

		sw := &statusWriter{ResponseWriter: rw}
		next.ServeHTTP(sw, hr.WithContext(ctx))

		span.SetAttributes(semconv.HTTPResponseStatusCode(sw.statusCode))

		if sw.statusCode >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(sw.statusCode))
		}
	})
}

// HealthHandler answers liveness probes with 200 {"status":"ok"}.
func HealthHandler() http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, _ *http.Request) {
		rw.Header().Set("Content-Type", "application/json")
		rw.WriteHeader(http.StatusOK)

		err := json.NewEncoder(rw).Encode(map[string]string{"status": "ok"})
		if err != nil {
			return
		}
	})
}

// NewMux routes /metrics (when providers carry a metrics handler) and /healthz,
// wrapped in HTTPMiddleware.
func NewMux(providers Providers) http.Handler {
	mux := http.NewServeMux()
	mux.Handle(HealthPath, HealthHandler())

	if providers.MetricsHandler != nil {
		mux.Handle(MetricsPath, providers.MetricsHandler)
	}

	return HTTPMiddleware(providers.Tracer, mux)
}

// Serve listens on addr and serves handler until ctx is cancelled. The bound
// address is reported through logger, which matters when addr uses port 0.
func Serve(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	logger = LoggerOrDiscard(logger)

	var lc net.ListenConfig

	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)

	go func() {
		errCh <- srv.Serve(ln)
	}()

	logger.InfoContext(ctx, "metrics server listening", "addr", ln.Addr().String())

	select {
	case serveErr := <-errCh:
		if errors.Is(serveErr, http.ErrServerClosed) {
			return nil
		}

		return fmt.Errorf("serve metrics: %w", serveErr)
	case <-ctx.Done():
	}

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), serverStopTimeout)
	defer cancel()

	err = srv.Shutdown(stopCtx)
	if err != nil {
		return fmt.Errorf("stop metrics server: %w", err)
	}

	return nil
}
