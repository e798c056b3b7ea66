package otel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup_DisabledReturnsNoopShutdown(t *testing.T) {
	shutdown, err := Setup("recourse", "dev", false)
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}

func TestSetup(t *testing.T) {
	tests := []struct {
		name        string
		serviceName string
		version     string
	}{
		{"basic setup", "test-service", "1.0.0"},
		{"dev version", "recourse", "dev"},
		{"empty version", "recourse", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			shutdown, err := Setup(tt.serviceName, tt.version, true)
			require.NoError(t, err)
			require.NotNil(t, shutdown, "shutdown function must not be nil")

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			err = shutdown(ctx)
			assert.NoError(t, err, "shutdown should complete without error")
		})
	}
}

func TestTracer_ReturnsNonNilTracer(t *testing.T) {
	tr := Tracer("github.com/dativo-io/recourse/internal/test")
	assert.NotNil(t, tr)
}

func TestTracer_CreatesValidSpans(t *testing.T) {
	shutdown, err := Setup("test-service", "0.0.1", true)
	require.NoError(t, err)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = shutdown(ctx)
	}()

	tr := Tracer("github.com/dativo-io/recourse/internal/otel/test")
	_, span := tr.Start(context.Background(), "test.operation")
	defer span.End()

	assert.NotNil(t, span)
	assert.True(t, span.SpanContext().IsValid(), "span context should be valid after Setup()")
	assert.True(t, span.SpanContext().HasTraceID(), "span should have a trace ID")
}
