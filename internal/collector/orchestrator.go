// Package collector drives harvest runs: expand the requested date range,
// fetch each day's disclosures from the source, persist document then
// metadata per item, and report progress.
package collector

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/krxwatch/disclosure-radar/backend/internal/bulkwrite"
	"github.com/krxwatch/disclosure-radar/backend/internal/dedupe"
	"github.com/krxwatch/disclosure-radar/backend/internal/docstore"
	"github.com/krxwatch/disclosure-radar/backend/internal/metrics"
	"github.com/krxwatch/disclosure-radar/backend/internal/models"
	"github.com/krxwatch/disclosure-radar/backend/internal/ratelimit"
	"github.com/krxwatch/disclosure-radar/backend/internal/retry"
	"github.com/krxwatch/disclosure-radar/backend/internal/source"
)

const dateLayout = "2006-01-02"

// recordIndexer is the metadata slice of the indexed store.
type recordIndexer interface {
	IndexDisclosure(ctx context.Context, rec models.DisclosureRecord) error
}

// statusTracker reports run progress.
type statusTracker interface {
	Update(ctx context.Context, executionID string, state models.ExecState, progress, collected, failed int, errMsg string) (*models.ExecutionStatus, error)
}

// Orchestrator owns one relationship with the external source and the stores
// behind it. The rate limiter is owned here, not process-global; one
// orchestrator paces one outbound stream.
type Orchestrator struct {
	sourceName string
	fetcher    source.Fetcher
	docs       docstore.Store
	index      recordIndexer
	bulk       *bulkwrite.Engine
	tracker    statusTracker
	limiter    *ratelimit.Limiter
	seen       *dedupe.Cache
	loc        *time.Location
	retryOpts  retry.Options
	log        *slog.Logger
	now        func() time.Time
}

// Config wires an Orchestrator.
type Config struct {
	// SourceName feeds deterministic record IDs; changing it changes every ID.
	SourceName string
	Fetcher    source.Fetcher
	Docs       docstore.Store
	Index      recordIndexer
	// Bulk, when set, batches each day's metadata writes through the bulk
	// engine instead of indexing records one by one.
	Bulk    *bulkwrite.Engine
	Tracker statusTracker
	Limiter *ratelimit.Limiter
	Seen    *dedupe.Cache
	// Location is the source's home time zone, used for the batch-mode
	// default date and for time buckets.
	Location *time.Location
	Retry    retry.Options
	Log      *slog.Logger
}

// New creates an orchestrator.
func New(cfg Config) *Orchestrator {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	retryOpts := cfg.Retry
	if retryOpts.InitialDelay <= 0 {
		retryOpts = retry.Options{
			MaxRetries:   3,
			InitialDelay: 500 * time.Millisecond,
			Multiplier:   2,
			Jitter:       true,
		}
	}
	return &Orchestrator{
		sourceName: cfg.SourceName,
		fetcher:    cfg.Fetcher,
		docs:       cfg.Docs,
		index:      cfg.Index,
		bulk:       cfg.Bulk,
		tracker:    cfg.Tracker,
		limiter:    cfg.Limiter,
		seen:       cfg.Seen,
		loc:        loc,
		retryOpts:  retryOpts,
		log:        cfg.Log,
		now:        time.Now,
	}
}

// Run executes one harvest. It never returns an error: every failure,
// validation included, lands in the result's status and message.
func (o *Orchestrator) Run(ctx context.Context, event models.CollectorEvent) models.CollectionResult {
	start := o.now()

	execID := event.ExecutionID
	if execID == "" {
		execID = o.newExecutionID(string(event.Mode))
	}

	dates, err := o.expandDates(event)
	if err != nil {
		o.log.Warn("harvest rejected", slog.String("execution_id", execID), slog.Any("err", err))
		metrics.HarvestRunsTotal.WithLabelValues(string(event.Mode), string(models.RunFailed)).Inc()
		return models.CollectionResult{
			ExecutionID: execID,
			Status:      models.RunFailed,
			Message:     err.Error(),
		}
	}

	o.reportStatus(ctx, execID, models.ExecRunning, 0, 0, 0, "")

	var collected, failed int
	for i, date := range dates {
		items, err := o.fetchDay(ctx, date)
		if err != nil {
			// A failed day is skipped, not fatal; its items never existed
			// from this run's point of view.
			o.log.Warn("fetch day failed",
				slog.String("execution_id", execID),
				slog.String("date", date),
				slog.Any("err", err),
			)
			failed++
		} else {
			c, f := o.persistDay(ctx, date, items)
			collected += c
			failed += f
		}

		progress := (i + 1) * 100 / len(dates)
		o.reportStatus(ctx, execID, models.ExecRunning, progress, collected, failed, "")
	}

	result := models.CollectionResult{
		ExecutionID:    execID,
		CollectedCount: collected,
		FailedCount:    failed,
	}
	switch {
	case failed == 0:
		result.Status = models.RunSuccess
	case collected == 0:
		result.Status = models.RunFailed
	default:
		result.Status = models.RunPartialSuccess
	}
	result.Message = fmt.Sprintf("collected %d items, %d failed across %d dates", collected, failed, len(dates))

	finalState := models.ExecCompleted
	errMsg := ""
	if result.Status == models.RunFailed {
		finalState = models.ExecFailed
		errMsg = result.Message
	}
	o.reportStatus(ctx, execID, finalState, 100, collected, failed, errMsg)

	metrics.HarvestRunsTotal.WithLabelValues(string(event.Mode), string(result.Status)).Inc()
	metrics.HarvestRunDuration.WithLabelValues(string(event.Mode)).Observe(o.now().Sub(start).Seconds())

	o.log.Info("harvest finished",
		slog.String("execution_id", execID),
		slog.String("status", string(result.Status)),
		slog.Int("collected", collected),
		slog.Int("failed", failed),
	)
	return result
}

// expandDates validates the event and enumerates every calendar date of the
// run, ascending. Validation failures happen before any store write.
func (o *Orchestrator) expandDates(event models.CollectorEvent) ([]string, error) {
	switch event.Mode {
	case models.ModeBatch:
		yesterday := o.now().In(o.loc).AddDate(0, 0, -1)
		return []string{yesterday.Format(dateLayout)}, nil
	case models.ModeOnDemand:
	default:
		return nil, fmt.Errorf("unknown mode %q", event.Mode)
	}

	if event.StartDate == "" || event.EndDate == "" {
		return nil, fmt.Errorf("on-demand mode requires start_date and end_date")
	}

	start, err := time.ParseInLocation(dateLayout, event.StartDate, o.loc)
	if err != nil {
		return nil, fmt.Errorf("invalid start_date %q: expected YYYY-MM-DD", event.StartDate)
	}
	end, err := time.ParseInLocation(dateLayout, event.EndDate, o.loc)
	if err != nil {
		return nil, fmt.Errorf("invalid end_date %q: expected YYYY-MM-DD", event.EndDate)
	}

	if end.Before(start) {
		return nil, fmt.Errorf("start_date %s is after end_date %s", event.StartDate, event.EndDate)
	}

	today := o.now().In(o.loc)
	today = time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, o.loc)
	if start.Before(today.AddDate(-1, 0, 0)) {
		return nil, fmt.Errorf("start_date %s is older than one year", event.StartDate)
	}
	if end.After(today.AddDate(0, 0, 1)) {
		return nil, fmt.Errorf("end_date %s is later than tomorrow", event.EndDate)
	}

	var dates []string
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		dates = append(dates, d.Format(dateLayout))
	}
	return dates, nil
}

// fetchDay lists one day's disclosures, paced by the rate limiter and retried
// on transient source errors.
func (o *Orchestrator) fetchDay(ctx context.Context, date string) ([]source.Item, error) {
	var items []source.Item
	err := retry.Do(ctx, func() error {
		if err := o.limiter.WaitIfNeeded(ctx); err != nil {
			return err
		}
		var err error
		items, err = o.fetcher.FetchList(ctx, date)
		return err
	}, o.retryOpts)
	return items, err
}

// persistDay stores every item of one fetched day: document first, metadata
// second. A document failure means the metadata is never written for that
// item. A metadata failure after a stored document leaves the orphan in
// place; re-harvesting overwrites it under the same ref.
func (o *Orchestrator) persistDay(ctx context.Context, date string, items []source.Item) (collected, failed int) {
	if o.bulk != nil {
		return o.persistDayBulk(ctx, date, items)
	}

	for seq, item := range items {
		rec := o.toRecord(item, date, seq)

		if o.seen != nil && o.seen.Seen(rec.ID) {
			collected++
			continue
		}

		if err := o.persistItem(ctx, rec, item); err != nil {
			o.log.Warn("persist item failed",
				slog.String("date", date),
				slog.String("record_id", rec.ID),
				slog.Any("err", err),
			)
			failed++
			metrics.HarvestItemsTotal.WithLabelValues("failed").Inc()
			continue
		}

		if o.seen != nil {
			o.seen.Mark(rec.ID)
		}
		collected++
		metrics.HarvestItemsTotal.WithLabelValues("collected").Inc()
	}
	return collected, failed
}

// persistDayBulk stores each document individually, then indexes the day's
// metadata in one bulk pass. Records the store leaves unprocessed count as
// failed and stay out of the seen cache; their documents remain in place and
// the next run overwrites them under the same ref.
func (o *Orchestrator) persistDayBulk(ctx context.Context, date string, items []source.Item) (collected, failed int) {
	var recs []models.DisclosureRecord
	for seq, item := range items {
		rec := o.toRecord(item, date, seq)

		if o.seen != nil && o.seen.Seen(rec.ID) {
			collected++
			continue
		}

		if err := o.storeDocument(ctx, rec, item); err != nil {
			o.log.Warn("persist item failed",
				slog.String("date", date),
				slog.String("record_id", rec.ID),
				slog.Any("err", err),
			)
			failed++
			metrics.HarvestItemsTotal.WithLabelValues("failed").Inc()
			continue
		}
		recs = append(recs, rec)
	}

	if len(recs) == 0 {
		return collected, failed
	}

	res := o.bulk.WriteAll(ctx, recs)
	rejected := make(map[string]struct{}, len(res.Unprocessed))
	for _, rec := range res.Unprocessed {
		rejected[rec.ID] = struct{}{}
	}
	for _, rec := range recs {
		if _, bad := rejected[rec.ID]; bad {
			failed++
			metrics.HarvestItemsTotal.WithLabelValues("failed").Inc()
			continue
		}
		if o.seen != nil {
			o.seen.Mark(rec.ID)
		}
		collected++
		metrics.HarvestItemsTotal.WithLabelValues("collected").Inc()
	}
	return collected, failed
}

func (o *Orchestrator) persistItem(ctx context.Context, rec models.DisclosureRecord, item source.Item) error {
	if err := o.storeDocument(ctx, rec, item); err != nil {
		return err
	}

	if err := retry.Do(ctx, func() error {
		return o.index.IndexDisclosure(ctx, rec)
	}, o.retryOpts); err != nil {
		return fmt.Errorf("index metadata: %w", err)
	}
	return nil
}

// storeDocument downloads the item's document and writes the blob under the
// record's ref.
func (o *Orchestrator) storeDocument(ctx context.Context, rec models.DisclosureRecord, item source.Item) error {
	var data []byte
	err := retry.Do(ctx, func() error {
		var err error
		data, err = o.fetcher.Download(ctx, item)
		return err
	}, o.retryOpts)
	if err != nil {
		return fmt.Errorf("download document: %w", err)
	}

	if err := retry.Do(ctx, func() error {
		return o.docs.Put(ctx, rec.DocumentRef, data)
	}, o.retryOpts); err != nil {
		return fmt.Errorf("store document: %w", err)
	}
	return nil
}

func (o *Orchestrator) toRecord(item source.Item, date string, seq int) models.DisclosureRecord {
	id := models.BuildRecordID(o.sourceName, date, seq)
	return models.DisclosureRecord{
		ID:          id,
		EntityCode:  item.EntityCode,
		EntityName:  item.EntityName,
		Category:    item.Category,
		Title:       item.Title,
		PublishedAt: item.PublishedAt,
		DocumentRef: "documents/" + id,
		TimeBucket:  models.TimeBucketOf(item.PublishedAt, o.loc),
		FetchedAt:   o.now().UTC(),
	}
}

// reportStatus pushes a tracker update; a status-write failure is logged and
// swallowed so it cannot sink the harvest itself.
func (o *Orchestrator) reportStatus(ctx context.Context, execID string, state models.ExecState, progress, collected, failed int, errMsg string) {
	if o.tracker == nil {
		return
	}
	err := retry.Do(ctx, func() error {
		_, err := o.tracker.Update(ctx, execID, state, progress, collected, failed, errMsg)
		return err
	}, o.retryOpts)
	if err != nil {
		o.log.Warn("status update failed",
			slog.String("execution_id", execID),
			slog.Any("err", err),
		)
	}
}

// newExecutionID builds a traceable run ID: monotonic timestamp, short random
// component, and the trigger fragment. Uniqueness, not idempotency.
func (o *Orchestrator) newExecutionID(fragment string) string {
	return fmt.Sprintf("exec-%d-%s-%s", o.now().UnixMilli(), uuid.NewString()[:8], fragment)
}
