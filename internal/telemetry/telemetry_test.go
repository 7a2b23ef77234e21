package telemetry

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestInit_StdoutExportsSpans(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer

	shutdown, err := Init(ctx, Config{ServiceName: "chronicle-test", Stdout: true, Writer: &buf})
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(ctx, "Replay.All")
	span.End()

	require.NoError(t, shutdown(ctx))
	assert.Contains(t, buf.String(), `"Name": "Replay.All"`)
	assert.Contains(t, buf.String(), "chronicle-test")
}

func TestInit_WithoutExporter(t *testing.T) {
	ctx := context.Background()
	shutdown, err := Init(ctx, Config{})
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(ctx, "noop")
	assert.True(t, span.SpanContext().IsValid(), "spans are still recorded")
	span.End()
	require.NoError(t, shutdown(ctx))
}
