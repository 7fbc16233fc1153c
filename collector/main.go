package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/krxwatch/disclosure-radar/backend/internal/bulkwrite"
	"github.com/krxwatch/disclosure-radar/backend/internal/collector"
	"github.com/krxwatch/disclosure-radar/backend/internal/config"
	"github.com/krxwatch/disclosure-radar/backend/internal/dedupe"
	"github.com/krxwatch/disclosure-radar/backend/internal/docstore"
	"github.com/krxwatch/disclosure-radar/backend/internal/elasticsearch"
	"github.com/krxwatch/disclosure-radar/backend/internal/logger"
	"github.com/krxwatch/disclosure-radar/backend/internal/metrics"
	"github.com/krxwatch/disclosure-radar/backend/internal/models"
	"github.com/krxwatch/disclosure-radar/backend/internal/ratelimit"
	"github.com/krxwatch/disclosure-radar/backend/internal/retry"
	"github.com/krxwatch/disclosure-radar/backend/internal/source"
	"github.com/krxwatch/disclosure-radar/backend/internal/status"
)

// harvestRunner lets tests drive the message loop without a live stack.
type harvestRunner interface {
	Run(ctx context.Context, event models.CollectorEvent) models.CollectionResult
}

func main() {
	log := logger.New("collector")
	cfg, err := config.LoadCollector()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}
	metrics.Register()

	esClient, err := elasticsearch.New(cfg.ElasticsearchAddr, cfg.DisclosuresIndex, cfg.ExecutionsIndex, log)
	if err != nil {
		log.Error("init elasticsearch", slog.Any("err", err))
		os.Exit(1)
	}

	docs, err := docstore.NewRedis(cfg.RedisAddrs, cfg.RedisPassword, "documents:")
	if err != nil {
		log.Error("init document store", slog.Any("err", err))
		os.Exit(1)
	}
	defer docs.Close()

	loc, err := time.LoadLocation(cfg.SourceTimezone)
	if err != nil {
		log.Error("load source timezone", slog.Any("err", err))
		os.Exit(1)
	}

	orch := collector.New(collector.Config{
		SourceName: cfg.SourceName,
		Fetcher:    source.NewHTTPFetcher(cfg.SourceBaseURL, &http.Client{Timeout: 30 * time.Second}),
		Docs:       docs,
		Index:      esClient,
		Bulk:       bulkwrite.NewEngine(esClient, log),
		Tracker:    status.NewTracker(esClient),
		Limiter:    ratelimit.New(cfg.FetchSpacing),
		Seen:       dedupe.NewCache(cfg.SeenCapacity, cfg.SeenTTL),
		Location:   loc,
		Retry: retry.Options{
			MaxRetries:   cfg.FetchRetries,
			InitialDelay: 500 * time.Millisecond,
			Multiplier:   2,
			Jitter:       true,
		},
		Log: log,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.KafkaBrokers,
		Topic:          cfg.KafkaTopic,
		GroupID:        cfg.KafkaConsumer,
		MinBytes:       1e3,
		MaxBytes:       10e6,
		CommitInterval: 0, // Disable auto-commit; manual commit only
	})
	defer reader.Close()

	dlqWriter := kafka.NewWriter(kafka.WriterConfig{
		Brokers:     cfg.KafkaBrokers,
		Topic:       cfg.KafkaTopic + "_dlq",
		MaxAttempts: 3,
	})
	defer dlqWriter.Close()

	log.Info("collector started",
		slog.String("topic", cfg.KafkaTopic),
		slog.String("group", cfg.KafkaConsumer),
		slog.String("dlq_topic", cfg.KafkaTopic+"_dlq"),
	)

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				log.Info("context canceled, stopping")
				return
			}
			log.Error("fetch message", slog.Any("err", err))
			continue
		}

		if err := processMessage(ctx, log, orch, msg); err != nil {
			log.Warn("event rejected, sending to DLQ",
				slog.Any("err", err),
				slog.Int("partition", msg.Partition),
				slog.Int64("offset", msg.Offset),
			)

			if deadLetter(ctx, log, dlqWriter, msg, err) {
				if err := reader.CommitMessages(ctx, msg); err != nil {
					log.Error("commit dead-lettered message", slog.Any("err", err))
				}
			}
			continue
		}

		if err := reader.CommitMessages(ctx, msg); err != nil {
			log.Error("commit message", slog.Any("err", err))
		}
	}
}

// processMessage decodes one trigger event and runs the harvest. Only
// undecodable payloads error out; the orchestrator folds every run-level
// failure into its result.
func processMessage(ctx context.Context, log *slog.Logger, orch harvestRunner, msg kafka.Message) error {
	var event models.CollectorEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return fmt.Errorf("decode collector event: %w", err)
	}

	result := orch.Run(ctx, event)
	log.Info("harvest run processed",
		slog.String("execution_id", result.ExecutionID),
		slog.String("status", string(result.Status)),
		slog.Int("collected", result.CollectedCount),
		slog.Int("failed", result.FailedCount),
	)
	return nil
}

// deadLetter writes a poison message to the DLQ with exponential backoff and
// reports whether the write eventually succeeded.
func deadLetter(ctx context.Context, log *slog.Logger, writer *kafka.Writer, msg kafka.Message, cause error) bool {
	dlqMsg := kafka.Message{
		Value: msg.Value,
		Headers: append(msg.Headers,
			kafka.Header{Key: "original_partition", Value: []byte(fmt.Sprintf("%d", msg.Partition))},
			kafka.Header{Key: "original_offset", Value: []byte(fmt.Sprintf("%d", msg.Offset))},
			kafka.Header{Key: "error", Value: []byte(cause.Error())},
			kafka.Header{Key: "timestamp", Value: []byte(time.Now().UTC().Format(time.RFC3339))},
		),
	}

	for attempt := 0; attempt < 5; attempt++ {
		if err := writer.WriteMessages(ctx, dlqMsg); err == nil {
			log.Info("message sent to DLQ",
				slog.Int("partition", msg.Partition),
				slog.Int64("offset", msg.Offset),
				slog.Int("attempt", attempt+1),
			)
			return true
		} else {
			backoff := time.Duration(1<<uint(attempt)) * time.Second
			log.Warn("DLQ write failed, retrying",
				slog.Any("err", err),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
			)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				log.Info("context canceled during DLQ retry")
				return false
			}
		}
	}

	log.Error("DLQ write exhausted retries, message may be lost if later messages commit",
		slog.Int("partition", msg.Partition),
		slog.Int64("offset", msg.Offset),
	)
	return false
}
