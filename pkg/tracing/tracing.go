// Package tracing wraps OpenTelemetry so domain packages can open spans
// without importing the SDK. Until Init installs a provider every span is a
// no-op.
package tracing

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/JaimeStill/steward/pkg/lifecycle"
)

const instrumentation = "github.com/JaimeStill/steward"

var (
	providerOnce sync.Once
	providerErr  error
	provider     *sdktrace.TracerProvider
)

// Init installs a stdout exporter writing to output ("" or "stdout" for
// os.Stdout, "stderr", or a file path). Only the first call has effect.
func Init(serviceName, serviceVersion, output string) error {
	w, err := writer(output)
	if err != nil {
		return err
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return fmt.Errorf("create exporter: %w", err)
	}
	return InitWithExporter(serviceName, serviceVersion, exporter)
}

// InitWithExporter installs the given exporter as the global provider.
// Only the first call has effect.
func InitWithExporter(serviceName, serviceVersion string, exporter sdktrace.SpanExporter) error {
	if exporter == nil {
		return nil
	}

	providerOnce.Do(func() {
		res, err := resource.New(context.Background(),
			resource.WithAttributes(
				attribute.String("service.name", serviceName),
				attribute.String("service.version", serviceVersion),
			),
		)
		if err != nil {
			providerErr = err
			return
		}

		provider = sdktrace.NewTracerProvider(
			sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(provider)
	})

	return providerErr
}

// Start registers a shutdown hook that flushes the installed provider.
func Start(lc *lifecycle.Coordinator) {
	lc.OnShutdown(func() {
		<-lc.Context().Done()
		if provider != nil {
			_ = provider.Shutdown(context.Background())
		}
	})
}

func writer(output string) (io.Writer, error) {
	switch output {
	case "", "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	default:
		f, err := os.Create(output)
		if err != nil {
			return nil, fmt.Errorf("open trace output: %w", err)
		}
		return f, nil
	}
}

// Span wraps an OpenTelemetry span.
type Span struct {
	span trace.Span
}

// StartSpan opens an internal span named name with string attributes given
// as alternating key/value pairs.
func StartSpan(ctx context.Context, name string, kv ...string) (context.Context, *Span) {
	ctx, span := otel.Tracer(instrumentation).Start(ctx, name, trace.WithSpanKind(trace.SpanKindInternal))
	s := &Span{span: span}
	s.Set(kv...)
	return ctx, s
}

// Set attaches alternating key/value string attributes. A trailing key without value is ignored.
func (s *Span) Set(kv ...string) *Span {
	if s == nil || len(kv) < 2 {
		return s
	}
	attrs := make([]attribute.KeyValue, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		attrs = append(attrs, attribute.String(kv[i], kv[i+1]))
	}
	s.span.SetAttributes(attrs...)
	return s
}

// End records err (if any) as the span status and ends the span.
func (s *Span) End(err error) {
	if s == nil {
		return
	}
	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	} else {
		s.span.SetStatus(codes.Ok, "")
	}
	s.span.End()
}
