package llm

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("github.com/dativo-io/recourse/internal/llm")

var (
	callsTotal metric.Int64Counter
	callErrors metric.Int64Counter
)

func init() {
	var err error
	callsTotal, err = meter.Int64Counter("llm.calls.total",
		metric.WithDescription("Total LLM chat completion calls"))
	if err != nil {
		callsTotal, _ = meter.Int64Counter("llm.calls.total.fallback")
	}

	callErrors, err = meter.Int64Counter("llm.calls.errors",
		metric.WithDescription("Failed LLM chat completion calls"))
	if err != nil {
		callErrors, _ = meter.Int64Counter("llm.calls.errors.fallback")
	}
}

func callsAdd(ctx context.Context, provider, model string) {
	callsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("llm.provider", provider),
		attribute.String("llm.request.model", model),
	))
}

func callErrorsAdd(ctx context.Context, provider, model string) {
	callErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("llm.provider", provider),
		attribute.String("llm.request.model", model),
	))
}
