package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestSpans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	shutdown, err := InitWithExporter("kanbanflow-test", "test", exporter)
	require.NoError(t, err)
	defer func() { _ = shutdown(context.Background()) }()

	_, span := StartSpan(context.Background(), "approval.approve", map[string]string{"kanban.id": "k-1"})
	EndSpan(span, nil)

	_, failed := StartSpan(context.Background(), "approval.reject", nil)
	EndSpan(failed, errors.New("boom"))

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)
	assert.Equal(t, "approval.approve", spans[0].Name)
	assert.Equal(t, codes.Ok, spans[0].Status.Code)
	assert.Equal(t, "k-1", spans[0].Attributes[0].Value.AsString())
	assert.Equal(t, codes.Error, spans[1].Status.Code)
}
