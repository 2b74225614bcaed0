package pipeline

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// instrumentationScope names the meter and tracer for every pipeline
// instrument.
const instrumentationScope = "github.com/narralabs/narra-core/runtime"

// convMetrics carries the conversion counters. A nil *convMetrics is
// valid and records nothing, so a failed instrument build never stops
// a run.
type convMetrics struct {
	chaptersCompleted metric.Int64Counter
	chaptersFailed    metric.Int64Counter
	chunksSynthesized metric.Int64Counter
	chapterDuration   metric.Float64Histogram
}

func newConvMetrics(meter metric.Meter) (*convMetrics, error) {
	m := &convMetrics{}
	var err error
	if m.chaptersCompleted, err = meter.Int64Counter("narra.chapters.completed",
		metric.WithDescription("Chapters converted to audio")); err != nil {
		return nil, err
	}
	if m.chaptersFailed, err = meter.Int64Counter("narra.chapters.failed",
		metric.WithDescription("Chapters whose conversion failed")); err != nil {
		return nil, err
	}
	if m.chunksSynthesized, err = meter.Int64Counter("narra.chunks.synthesized",
		metric.WithDescription("Text chunks synthesized")); err != nil {
		return nil, err
	}
	if m.chapterDuration, err = meter.Float64Histogram("narra.chapter.duration_ms",
		metric.WithDescription("Wall time to convert one chapter"),
		metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *convMetrics) recordChapter(ctx context.Context, workerID string, success bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("worker", workerID))
	if success {
		m.chaptersCompleted.Add(ctx, 1, attrs)
	} else {
		m.chaptersFailed.Add(ctx, 1, attrs)
	}
	m.chapterDuration.Record(ctx, float64(elapsed.Milliseconds()), attrs)
}

func (m *convMetrics) recordChunk(ctx context.Context) {
	if m == nil {
		return
	}
	m.chunksSynthesized.Add(ctx, 1)
}
