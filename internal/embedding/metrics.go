package embedding

import (
	"context"
	"log"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

var (
	embedMetricsOnce sync.Once
	embeddedTexts    otelmetric.Int64Counter
	cacheLookups     otelmetric.Int64Counter
)

func initEmbedMetrics() {
	meter := otel.Meter("marketbrain/embedding")
	var err error
	embeddedTexts, err = meter.Int64Counter(
		"embedding_texts_total",
		otelmetric.WithDescription("Texts sent to the embedding provider"),
	)
	if err != nil {
		log.Printf("embedding metrics init: embedding_texts_total: %v", err)
	}
	cacheLookups, err = meter.Int64Counter(
		"embedding_cache_lookups_total",
		otelmetric.WithDescription("Embedding cache lookups by result"),
	)
	if err != nil {
		log.Printf("embedding metrics init: embedding_cache_lookups_total: %v", err)
	}
}

func recordEmbedded(ctx context.Context, model string, n int) {
	embedMetricsOnce.Do(initEmbedMetrics)
	if embeddedTexts != nil && n > 0 {
		embeddedTexts.Add(ctx, int64(n), otelmetric.WithAttributes(attribute.String("model", model)))
	}
}

func recordCache(ctx context.Context, hit bool) {
	embedMetricsOnce.Do(initEmbedMetrics)
	if cacheLookups == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookups.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("result", result)))
}
