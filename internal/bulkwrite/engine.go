// Package bulkwrite batches record writes against the indexed store,
// resubmitting whatever the store rejects until the retry budget runs out.
package bulkwrite

import (
	"context"
	"log/slog"
	"time"

	"github.com/krxwatch/disclosure-radar/backend/internal/metrics"
	"github.com/krxwatch/disclosure-radar/backend/internal/models"
)

// BatchWriter is the store operation the engine drives. It returns the subset
// of records the store did not durably commit.
type BatchWriter interface {
	BatchWrite(ctx context.Context, recs []models.DisclosureRecord) ([]models.DisclosureRecord, error)
}

// Result aggregates one WriteAll call.
type Result struct {
	SuccessCount int
	FailedCount  int
	Unprocessed  []models.DisclosureRecord
}

// Engine chunks writes and retries unprocessed leftovers with backoff.
type Engine struct {
	writer       BatchWriter
	log          *slog.Logger
	chunkSize    int
	maxRetries   int
	initialDelay time.Duration
}

// Option tweaks an Engine.
type Option func(*Engine)

// WithChunkSize overrides the store's maximum atomic-batch size.
func WithChunkSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.chunkSize = n
		}
	}
}

// WithRetries overrides the per-chunk resubmission budget and its first delay.
func WithRetries(maxRetries int, initialDelay time.Duration) Option {
	return func(e *Engine) {
		e.maxRetries = maxRetries
		e.initialDelay = initialDelay
	}
}

// NewEngine creates an engine over the given writer.
func NewEngine(writer BatchWriter, log *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		writer:       writer,
		log:          log,
		chunkSize:    25,
		maxRetries:   3,
		initialDelay: 200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// WriteAll writes items in fixed-size chunks. Items the store reports as
// unprocessed are resubmitted with exponential backoff; whatever survives the
// retry budget is folded into the aggregate Unprocessed and counted failed. A
// chunk-level error after retries fails that chunk only; later chunks still
// execute. Empty input returns a zero result without touching the store.
func (e *Engine) WriteAll(ctx context.Context, items []models.DisclosureRecord) Result {
	var res Result
	if len(items) == 0 {
		return res
	}

	for start := 0; start < len(items); start += e.chunkSize {
		end := start + e.chunkSize
		if end > len(items) {
			end = len(items)
		}
		chunk := items[start:end]

		leftover := e.writeChunk(ctx, chunk)
		res.SuccessCount += len(chunk) - len(leftover)
		res.FailedCount += len(leftover)
		res.Unprocessed = append(res.Unprocessed, leftover...)
	}

	if len(res.Unprocessed) > 0 {
		metrics.BulkUnprocessedTotal.Add(float64(len(res.Unprocessed)))
	}
	return res
}

// writeChunk submits one chunk and resubmits rejects until the budget runs
// out. It returns the records that never made it in.
func (e *Engine) writeChunk(ctx context.Context, chunk []models.DisclosureRecord) []models.DisclosureRecord {
	pending := chunk
	delay := e.initialDelay

	for attempt := 0; ; attempt++ {
		unprocessed, err := e.writer.BatchWrite(ctx, pending)
		if err == nil && len(unprocessed) == 0 {
			return nil
		}

		if err != nil {
			e.log.Warn("batch write failed",
				slog.Any("err", err),
				slog.Int("attempt", attempt+1),
				slog.Int("pending", len(pending)),
			)
			unprocessed = pending
		} else {
			e.log.Warn("batch write left items unprocessed",
				slog.Int("attempt", attempt+1),
				slog.Int("unprocessed", len(unprocessed)),
			)
		}

		if attempt >= e.maxRetries {
			return unprocessed
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return unprocessed
		}
		timer.Stop()

		pending = unprocessed
		delay *= 2
	}
}
