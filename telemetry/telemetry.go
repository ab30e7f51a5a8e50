// Package telemetry bundles the service logger and tracer. Tracing exports
// OTLP over gRPC when enabled and falls back to a noop tracer when not, so
// callers never branch on whether telemetry is on.
package telemetry

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

type Telemetry struct {
	Logger      zerolog.Logger
	Tracer      trace.Tracer
	serviceName string

	shutdown func(context.Context) error
}

// Options configure the logger and the OTLP exporter.
type Options struct {
	// ServiceName tags traces and component loggers.
	ServiceName string

	// LogLevel is a zerolog level name. Unknown names fall back to info.
	LogLevel string

	// LogPretty switches from JSON output to a console writer.
	LogPretty bool

	// Endpoint is the OTLP gRPC collector address, host:port.
	Endpoint string

	// TraceSampleRate is the fraction of traces to sample, within [0, 1].
	TraceSampleRate float64
}

// New builds the telemetry for a service. With enabled false the tracer is a
// noop and no connection is made.
func New(ctx context.Context, enabled bool, opts Options) (Telemetry, error) {
	if opts.ServiceName == "" {
		return Telemetry{}, eris.New("telemetry service name is required")
	}

	tracer, logger, shutdown, err := setupOpenTelemetry(ctx, enabled, opts)
	if err != nil {
		return Telemetry{}, eris.Wrap(err, "failed to setup telemetry")
	}

	return Telemetry{
		Logger:      logger,
		Tracer:      tracer,
		serviceName: opts.ServiceName,
		shutdown:    shutdown,
	}, nil
}

// Nop returns a telemetry that discards everything. Meant for tests.
func Nop() Telemetry {
	return Telemetry{
		Logger:      zerolog.Nop(),
		Tracer:      noop.NewTracerProvider().Tracer("nop"),
		serviceName: "nop",
	}
}

// Shutdown gracefully shuts down the telemetry system.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t.shutdown != nil {
		return t.shutdown(ctx)
	}
	return nil
}

// GetLogger returns a component-specific logger.
func (t *Telemetry) GetLogger(component string) zerolog.Logger {
	return t.Logger.With().Str("component", t.serviceName+"."+component).Logger()
}

// GetLoggerWithTrace returns a component-specific logger enriched with trace context.
func (t *Telemetry) GetLoggerWithTrace(ctx context.Context, component string) zerolog.Logger {
	span := trace.SpanFromContext(ctx)

	logger := t.Logger.With().Str("component", t.serviceName+"."+component)

	if span.IsRecording() {
		spanCtx := span.SpanContext()
		logger = logger.
			Str("trace_id", spanCtx.TraceID().String()).
			Str("span_id", spanCtx.SpanID().String())
	}

	return logger.Logger()
}
