// Package tracing installs the OpenTelemetry tracer provider used for
// invocation spans.
package tracing

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// OutputStdout selects os.Stdout as the trace destination.
const OutputStdout = "stdout"

// Shutdown flushes and stops the provider.
type Shutdown func(context.Context) error

func noop(context.Context) error { return nil }

// Init configures the stdout exporter. An empty output leaves the global
// no-op provider in place; "stdout" writes to os.Stdout; anything else is a
// file path that is created or truncated.
func Init(serviceName, serviceVersion, output string) (Shutdown, error) {
	if output == "" {
		return noop, nil
	}

	var w io.Writer = os.Stdout
	var closer io.Closer
	if output != OutputStdout {
		f, err := os.Create(output)
		if err != nil {
			return noop, fmt.Errorf("open trace output: %w", err)
		}
		w, closer = f, f
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		if closer != nil {
			_ = closer.Close()
		}
		return noop, fmt.Errorf("create stdout exporter: %w", err)
	}

	shutdown, err := InitWithExporter(serviceName, serviceVersion, exporter)
	if err != nil {
		if closer != nil {
			_ = closer.Close()
		}
		return noop, err
	}
	if closer == nil {
		return shutdown, nil
	}
	return func(ctx context.Context) error {
		err := shutdown(ctx)
		if cerr := closer.Close(); err == nil {
			err = cerr
		}
		return err
	}, nil
}

// InitWithExporter registers exporter behind a synchronous span processor
// as the global tracer provider.
func InitWithExporter(serviceName, serviceVersion string, exporter sdktrace.SpanExporter) (Shutdown, error) {
	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			attribute.String("service.name", serviceName),
			attribute.String("service.version", serviceVersion),
		),
	)
	if err != nil {
		return noop, fmt.Errorf("build trace resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}
