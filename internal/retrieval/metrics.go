package retrieval

import (
	"context"
	"log"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

var (
	retrievalMetricsOnce sync.Once
	searchCount          otelmetric.Int64Counter
	searchLatency        otelmetric.Float64Histogram
	searchResults        otelmetric.Int64Histogram
	rerankFallbacks      otelmetric.Int64Counter
)

func initRetrievalMetrics() {
	meter := otel.Meter("marketbrain/retrieval")
	var err error
	searchCount, err = meter.Int64Counter("retrieval_searches_total",
		otelmetric.WithDescription("Knowledge searches by rerank outcome"))
	if err != nil {
		log.Printf("retrieval metrics init: retrieval_searches_total: %v", err)
	}
	searchLatency, err = meter.Float64Histogram("retrieval_search_duration_seconds",
		otelmetric.WithDescription("End to end search latency"),
		otelmetric.WithUnit("s"))
	if err != nil {
		log.Printf("retrieval metrics init: retrieval_search_duration_seconds: %v", err)
	}
	searchResults, err = meter.Int64Histogram("retrieval_results",
		otelmetric.WithDescription("Results returned per search"))
	if err != nil {
		log.Printf("retrieval metrics init: retrieval_results: %v", err)
	}
	rerankFallbacks, err = meter.Int64Counter("retrieval_rerank_fallbacks_total",
		otelmetric.WithDescription("Reranks that failed and kept similarity order"))
	if err != nil {
		log.Printf("retrieval metrics init: retrieval_rerank_fallbacks_total: %v", err)
	}
}

func recordSearch(ctx context.Context, reranked bool, n int, elapsed time.Duration) {
	retrievalMetricsOnce.Do(initRetrievalMetrics)
	attrs := otelmetric.WithAttributes(attribute.Bool("reranked", reranked))
	if searchCount != nil {
		searchCount.Add(ctx, 1, attrs)
	}
	if searchLatency != nil {
		searchLatency.Record(ctx, elapsed.Seconds(), attrs)
	}
	if searchResults != nil {
		searchResults.Record(ctx, int64(n), attrs)
	}
}

func recordRerankFallback(ctx context.Context) {
	retrievalMetricsOnce.Do(initRetrievalMetrics)
	if rerankFallbacks != nil {
		rerankFallbacks.Add(ctx, 1)
	}
}
