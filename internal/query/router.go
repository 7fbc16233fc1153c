// Package query selects an index strategy per request, fans out bucket
// queries, and merges, filters, sorts, and paginates the results.
package query

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/krxwatch/disclosure-radar/backend/internal/faults"
	"github.com/krxwatch/disclosure-radar/backend/internal/metrics"
	"github.com/krxwatch/disclosure-radar/backend/internal/models"
	"github.com/krxwatch/disclosure-radar/backend/internal/retry"
)

const dateLayout = "2006-01-02"

// indexStore is the slice of the indexed store the router reads through.
// Every method drains all of the store's internal pages before returning.
type indexStore interface {
	QueryByEntity(ctx context.Context, entityCode string, start, end *time.Time) ([]models.DisclosureRecord, error)
	QueryByBucket(ctx context.Context, bucket string) ([]models.DisclosureRecord, error)
	Scan(ctx context.Context, limit int) ([]models.DisclosureRecord, error)
}

// Router answers disclosure queries.
type Router struct {
	store     indexStore
	loc       *time.Location
	retryOpts retry.Options
	log       *slog.Logger
	now       func() time.Time
}

// NewRouter creates a router over the given store. loc is the calendar used
// to interpret date filters and bucket boundaries.
func NewRouter(store indexStore, loc *time.Location, retryOpts retry.Options, log *slog.Logger) *Router {
	if loc == nil {
		loc = time.UTC
	}
	if retryOpts.InitialDelay <= 0 {
		retryOpts = retry.Options{
			MaxRetries:   2,
			InitialDelay: 200 * time.Millisecond,
			Multiplier:   2,
			Jitter:       true,
		}
	}
	return &Router{store: store, loc: loc, retryOpts: retryOpts, log: log, now: time.Now}
}

// Query resolves one request. Strategy priority: entity index when an entity
// code is given, bucket fan-out when only a date range is given, bounded scan
// otherwise. Unlike the harvest path, a query has no partial-result
// semantics: any failing sub-query fails the whole call.
func (r *Router) Query(ctx context.Context, params models.QueryParams) (*models.QueryResult, error) {
	if params.Limit <= 0 {
		return nil, faults.Validation("limit must be positive")
	}
	if params.Offset < 0 {
		return nil, faults.Validation("offset cannot be negative")
	}

	startDay, endDay, err := r.parseRange(params)
	if err != nil {
		return nil, err
	}

	strategy := "scan"
	started := r.now()

	var records []models.DisclosureRecord
	switch {
	case params.EntityCode != "":
		strategy = "entity"
		records, err = r.byEntity(ctx, params.EntityCode, startDay, endDay)
	case startDay != nil:
		strategy = "bucket"
		records, err = r.byBuckets(ctx, *startDay, endDay)
	default:
		records, err = r.scan(ctx, params.Offset+params.Limit)
	}

	if err != nil {
		metrics.QueryRequestsTotal.WithLabelValues(strategy, "error").Inc()
		return nil, err
	}

	if params.Category != "" {
		filtered := records[:0]
		for _, rec := range records {
			if rec.Category == params.Category {
				filtered = append(filtered, rec)
			}
		}
		records = filtered
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].PublishedAt.Equal(records[j].PublishedAt) {
			return records[i].ID > records[j].ID
		}
		return records[i].PublishedAt.After(records[j].PublishedAt)
	})

	total := len(records)
	page := paginate(records, params.Offset, params.Limit)

	metrics.QueryRequestsTotal.WithLabelValues(strategy, "ok").Inc()
	metrics.QueryDuration.WithLabelValues(strategy).Observe(r.now().Sub(started).Seconds())

	r.log.Debug("query resolved",
		slog.String("strategy", strategy),
		slog.Int("matched", total),
		slog.Int("returned", len(page)),
	)

	return &models.QueryResult{
		Items:  page,
		Total:  total,
		Count:  len(page),
		Offset: params.Offset,
		Limit:  params.Limit,
	}, nil
}

// parseRange validates the optional date filters. endDay defaults to today
// when only startDay is given.
func (r *Router) parseRange(params models.QueryParams) (*time.Time, *time.Time, error) {
	var startDay, endDay *time.Time

	if params.StartDate != "" {
		d, err := time.ParseInLocation(dateLayout, params.StartDate, r.loc)
		if err != nil {
			return nil, nil, faults.Validation("invalid start_date %q: expected YYYY-MM-DD", params.StartDate)
		}
		startDay = &d
	}
	if params.EndDate != "" {
		d, err := time.ParseInLocation(dateLayout, params.EndDate, r.loc)
		if err != nil {
			return nil, nil, faults.Validation("invalid end_date %q: expected YYYY-MM-DD", params.EndDate)
		}
		endDay = &d
	}
	if startDay != nil && endDay != nil && endDay.Before(*startDay) {
		return nil, nil, faults.Validation("start_date %s is after end_date %s", params.StartDate, params.EndDate)
	}
	if startDay != nil && endDay == nil {
		today := r.now().In(r.loc)
		d := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, r.loc)
		endDay = &d
	}
	return startDay, endDay, nil
}

func (r *Router) byEntity(ctx context.Context, entityCode string, startDay, endDay *time.Time) ([]models.DisclosureRecord, error) {
	start := startDay
	var end *time.Time
	if endDay != nil {
		e := endDay.AddDate(0, 0, 1).Add(-time.Nanosecond)
		end = &e
	}

	var records []models.DisclosureRecord
	err := retry.Do(ctx, func() error {
		var err error
		records, err = r.store.QueryByEntity(ctx, entityCode, start, end)
		return err
	}, r.retryOpts)
	return records, err
}

// byBuckets issues one index query per year-month bucket concurrently, waits
// for all of them, then discards records whose calendar date falls outside
// the filter. Buckets are coarser than day filters, so over-fetch-then-trim
// is required for correctness.
func (r *Router) byBuckets(ctx context.Context, startDay time.Time, endDay *time.Time) ([]models.DisclosureRecord, error) {
	end := startDay
	if endDay != nil {
		end = *endDay
	}

	buckets := bucketsBetween(startDay, end)

	results := make([][]models.DisclosureRecord, len(buckets))
	errs := make([]error, len(buckets))
	var wg sync.WaitGroup
	for i, bucket := range buckets {
		wg.Add(1)
		go func(i int, bucket string) {
			defer wg.Done()
			errs[i] = retry.Do(ctx, func() error {
				var err error
				results[i], err = r.store.QueryByBucket(ctx, bucket)
				return err
			}, r.retryOpts)
		}(i, bucket)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	endExclusive := end.AddDate(0, 0, 1)
	var merged []models.DisclosureRecord
	for _, part := range results {
		for _, rec := range part {
			published := rec.PublishedAt.In(r.loc)
			if published.Before(startDay) || !published.Before(endExclusive) {
				continue
			}
			merged = append(merged, rec)
		}
	}
	return merged, nil
}

func (r *Router) scan(ctx context.Context, softCap int) ([]models.DisclosureRecord, error) {
	var records []models.DisclosureRecord
	err := retry.Do(ctx, func() error {
		var err error
		records, err = r.store.Scan(ctx, softCap)
		return err
	}, r.retryOpts)
	return records, err
}

// bucketsBetween lists the year-month keys spanning [start, end], ascending.
func bucketsBetween(start, end time.Time) []string {
	cur := time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, start.Location())
	last := time.Date(end.Year(), end.Month(), 1, 0, 0, 0, 0, end.Location())

	var buckets []string
	for !cur.After(last) {
		buckets = append(buckets, cur.Format("2006-01"))
		cur = cur.AddDate(0, 1, 0)
	}
	return buckets
}

func paginate(records []models.DisclosureRecord, offset, limit int) []models.DisclosureRecord {
	if offset >= len(records) {
		return []models.DisclosureRecord{}
	}
	end := offset + limit
	if end > len(records) {
		end = len(records)
	}
	return records[offset:end]
}
