package llm

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

var (
	llmMetricsOnce sync.Once
	llmCalls       otelmetric.Int64Counter
	llmLatency     otelmetric.Float64Histogram
)

func initLLMMetrics() {
	meter := otel.Meter("marketbrain/llm")
	var err error
	llmCalls, err = meter.Int64Counter(
		"llm_calls_total",
		otelmetric.WithDescription("Chat completion calls by provider, model and outcome"),
	)
	if err != nil {
		log.Printf("llm metrics init: llm_calls_total: %v", err)
	}
	llmLatency, err = meter.Float64Histogram(
		"llm_call_duration_seconds",
		otelmetric.WithDescription("Latency of chat completion calls"),
		otelmetric.WithUnit("s"),
	)
	if err != nil {
		log.Printf("llm metrics init: llm_call_duration_seconds: %v", err)
	}
}

func recordCall(ctx context.Context, provider, model string, elapsed time.Duration, err error) {
	llmMetricsOnce.Do(initLLMMetrics)
	outcome := "ok"
	if err != nil {
		outcome = "error"
		var pe *ProviderError
		if errors.As(Classify(provider, err), &pe) {
			outcome = pe.Kind.Error()
		}
	}
	attrs := otelmetric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("model", model),
		attribute.String("outcome", outcome),
	)
	if llmCalls != nil {
		llmCalls.Add(ctx, 1, attrs)
	}
	if llmLatency != nil {
		llmLatency.Record(ctx, elapsed.Seconds(), attrs)
	}
}
