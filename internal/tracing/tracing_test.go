package tracing

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInitDisabled(t *testing.T) {
	shutdown, err := Init("trialmatch", "test", "")
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInitWithExporterRecordsSpans(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	shutdown, err := InitWithExporter("trialmatch", "test", exp)
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(context.Background(), "bridge.invoke")
	span.SetAttributes(attribute.String("correlation_id", "abc"))
	span.End()

	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "bridge.invoke", spans[0].Name)

	var service string
	for _, kv := range spans[0].Resource.Attributes() {
		if kv.Key == "service.name" {
			service = kv.Value.AsString()
		}
	}
	assert.Equal(t, "trialmatch", service)
	require.NoError(t, shutdown(context.Background()))
}

func TestInitWritesFile(t *testing.T) {
	out := filepath.Join(t.TempDir(), "traces.json")
	shutdown, err := Init("trialmatch", "test", out)
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(context.Background(), "file-span")
	span.End()
	require.NoError(t, shutdown(context.Background()))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), "file-span")
}

func TestInitBadPath(t *testing.T) {
	_, err := Init("trialmatch", "test", filepath.Join(t.TempDir(), "missing", "traces.json"))
	assert.Error(t, err)
}
