package booklearning

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
	bookMetricsOnce  sync.Once
	booksProcessed   otelmetric.Int64Counter
	bookDuration     otelmetric.Float64Histogram
	conceptsStored   otelmetric.Int64Counter
	degradedConcepts otelmetric.Int64Counter
	staleBooksSwept  otelmetric.Int64Counter
)

func initBookMetrics() {
	meter := otel.Meter("marketbrain/booklearning")
	var err error
	booksProcessed, err = meter.Int64Counter("books_processed_total",
		otelmetric.WithDescription("Books reaching a terminal state"))
	if err != nil {
		log.Printf("book metrics init: books_processed_total: %v", err)
	}
	bookDuration, err = meter.Float64Histogram("book_processing_duration_seconds",
		otelmetric.WithDescription("Wall time from start to terminal state"),
		otelmetric.WithUnit("s"))
	if err != nil {
		log.Printf("book metrics init: book_processing_duration_seconds: %v", err)
	}
	conceptsStored, err = meter.Int64Counter("book_concepts_stored_total",
		otelmetric.WithDescription("Concept rows written"))
	if err != nil {
		log.Printf("book metrics init: book_concepts_stored_total: %v", err)
	}
	degradedConcepts, err = meter.Int64Counter("book_concepts_degraded_total",
		otelmetric.WithDescription("Extractions that fell back to the raw response"))
	if err != nil {
		log.Printf("book metrics init: book_concepts_degraded_total: %v", err)
	}
	staleBooksSwept, err = meter.Int64Counter("books_stale_failed_total",
		otelmetric.WithDescription("Books failed by the stale sweeper"))
	if err != nil {
		log.Printf("book metrics init: books_stale_failed_total: %v", err)
	}
}

func recordBook(ctx context.Context, status string, elapsed time.Duration) {
	bookMetricsOnce.Do(initBookMetrics)
	attrs := otelmetric.WithAttributes(attribute.String("status", status))
	if booksProcessed != nil {
		booksProcessed.Add(ctx, 1, attrs)
	}
	if bookDuration != nil {
		bookDuration.Record(ctx, elapsed.Seconds(), attrs)
	}
}

func recordConcepts(ctx context.Context, n int) {
	bookMetricsOnce.Do(initBookMetrics)
	if conceptsStored != nil {
		conceptsStored.Add(ctx, int64(n))
	}
}

func recordDegradedExtraction(ctx context.Context) {
	bookMetricsOnce.Do(initBookMetrics)
	if degradedConcepts != nil {
		degradedConcepts.Add(ctx, 1)
	}
}

func recordStale(ctx context.Context, n int64) {
	bookMetricsOnce.Do(initBookMetrics)
	if staleBooksSwept != nil {
		staleBooksSwept.Add(ctx, n)
	}
}
