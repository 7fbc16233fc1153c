package query_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/krxwatch/disclosure-radar/backend/internal/faults"
	"github.com/krxwatch/disclosure-radar/backend/internal/models"
	"github.com/krxwatch/disclosure-radar/backend/internal/query"
	"github.com/krxwatch/disclosure-radar/backend/internal/retry"
)

type fakeStore struct {
	mu          sync.Mutex
	byEntity    []models.DisclosureRecord
	byBucket    map[string][]models.DisclosureRecord
	scanned     []models.DisclosureRecord
	bucketErrs  map[string]error
	entityCalls int
	bucketCalls []string
	scanCalls   []int
	lastStart   *time.Time
	lastEnd     *time.Time
}

func (f *fakeStore) QueryByEntity(_ context.Context, _ string, start, end *time.Time) ([]models.DisclosureRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entityCalls++
	f.lastStart, f.lastEnd = start, end
	return f.byEntity, nil
}

func (f *fakeStore) QueryByBucket(_ context.Context, bucket string) ([]models.DisclosureRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bucketCalls = append(f.bucketCalls, bucket)
	if err := f.bucketErrs[bucket]; err != nil {
		return nil, err
	}
	return f.byBucket[bucket], nil
}

func (f *fakeStore) Scan(_ context.Context, limit int) ([]models.DisclosureRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scanCalls = append(f.scanCalls, limit)
	return f.scanned, nil
}

func newRouter(store *fakeStore) *query.Router {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return query.NewRouter(store, time.UTC, retry.Options{
		MaxRetries:   0,
		InitialDelay: time.Millisecond,
		Multiplier:   1,
	}, log)
}

func rec(id, entity, category string, published time.Time) models.DisclosureRecord {
	return models.DisclosureRecord{
		ID:          id,
		EntityCode:  entity,
		Category:    category,
		PublishedAt: published,
		TimeBucket:  published.UTC().Format("2006-01"),
	}
}

func TestEntityStrategyPagination(t *testing.T) {
	older := rec("r1", "1234", "earnings", time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC))
	newer := rec("r2", "1234", "earnings", time.Date(2026, 2, 3, 9, 0, 0, 0, time.UTC))
	store := &fakeStore{byEntity: []models.DisclosureRecord{older, newer}}
	router := newRouter(store)

	result, err := router.Query(context.Background(), models.QueryParams{
		EntityCode: "1234",
		Limit:      2,
		Offset:     0,
	})
	require.NoError(t, err)
	require.Equal(t, 2, result.Count)
	require.Equal(t, 2, result.Total)
	require.Equal(t, "r2", result.Items[0].ID, "descending by published_at")
	require.Equal(t, "r1", result.Items[1].ID)
	require.Equal(t, 1, store.entityCalls)
	require.Empty(t, store.bucketCalls)
	require.Empty(t, store.scanCalls)

	result, err = router.Query(context.Background(), models.QueryParams{
		EntityCode: "1234",
		Limit:      2,
		Offset:     1,
	})
	require.NoError(t, err)
	require.Equal(t, 1, result.Count)
	require.Equal(t, 2, result.Total)
	require.Equal(t, "r1", result.Items[0].ID)
}

func TestEntityStrategyPassesDayBounds(t *testing.T) {
	store := &fakeStore{}
	router := newRouter(store)

	_, err := router.Query(context.Background(), models.QueryParams{
		EntityCode: "1234",
		StartDate:  "2026-02-01",
		EndDate:    "2026-02-03",
		Limit:      10,
	})
	require.NoError(t, err)
	require.NotNil(t, store.lastStart)
	require.NotNil(t, store.lastEnd)
	require.Equal(t, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), store.lastStart.UTC())
	// End bound covers the whole final calendar day.
	require.True(t, store.lastEnd.After(time.Date(2026, 2, 3, 23, 59, 59, 0, time.UTC)))
	require.True(t, store.lastEnd.Before(time.Date(2026, 2, 4, 0, 0, 0, 0, time.UTC)))
}

func TestEntityStrategyOpenEndedRange(t *testing.T) {
	store := &fakeStore{}
	router := newRouter(store)

	_, err := router.Query(context.Background(), models.QueryParams{
		EntityCode: "1234",
		EndDate:    "2026-02-03",
		Limit:      10,
	})
	require.NoError(t, err)
	require.Nil(t, store.lastStart)
	require.NotNil(t, store.lastEnd)
}

func TestThreeMonthRangeFansOutThreeBuckets(t *testing.T) {
	inRange := rec("in", "", "", time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	beforeRange := rec("early", "", "", time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC))
	afterRange := rec("late", "", "", time.Date(2026, 4, 20, 12, 0, 0, 0, time.UTC))
	store := &fakeStore{
		byBucket: map[string][]models.DisclosureRecord{
			"2026-02": {beforeRange},
			"2026-03": {inRange},
			"2026-04": {afterRange},
		},
	}
	router := newRouter(store)

	result, err := router.Query(context.Background(), models.QueryParams{
		StartDate: "2026-02-15",
		EndDate:   "2026-04-02",
		Limit:     50,
	})
	require.NoError(t, err)
	require.Len(t, store.bucketCalls, 3)
	require.ElementsMatch(t, []string{"2026-02", "2026-03", "2026-04"}, store.bucketCalls)

	// Bucket granularity over-fetches; records outside the day range are gone.
	require.Equal(t, 1, result.Total)
	require.Equal(t, "in", result.Items[0].ID)
}

func TestBucketRangeBoundariesInclusive(t *testing.T) {
	first := rec("first", "", "", time.Date(2026, 2, 15, 0, 30, 0, 0, time.UTC))
	last := rec("last", "", "", time.Date(2026, 4, 2, 23, 30, 0, 0, time.UTC))
	store := &fakeStore{
		byBucket: map[string][]models.DisclosureRecord{
			"2026-02": {first},
			"2026-04": {last},
		},
	}
	router := newRouter(store)

	result, err := router.Query(context.Background(), models.QueryParams{
		StartDate: "2026-02-15",
		EndDate:   "2026-04-02",
		Limit:     50,
	})
	require.NoError(t, err)
	require.Equal(t, 2, result.Total)
}

func TestBucketFailureFailsWholeQuery(t *testing.T) {
	store := &fakeStore{
		byBucket: map[string][]models.DisclosureRecord{
			"2026-02": {rec("ok", "", "", time.Date(2026, 2, 16, 0, 0, 0, 0, time.UTC))},
		},
		bucketErrs: map[string]error{
			"2026-03": errors.New("shard unavailable"),
		},
	}
	router := newRouter(store)

	_, err := router.Query(context.Background(), models.QueryParams{
		StartDate: "2026-02-15",
		EndDate:   "2026-03-15",
		Limit:     50,
	})
	require.Error(t, err)
}

func TestEndDateDefaultsToToday(t *testing.T) {
	store := &fakeStore{byBucket: map[string][]models.DisclosureRecord{}}
	router := newRouter(store)

	start := time.Now().UTC().Format("2006-01-02")
	_, err := router.Query(context.Background(), models.QueryParams{
		StartDate: start,
		Limit:     10,
	})
	require.NoError(t, err)
	require.Equal(t, []string{time.Now().UTC().Format("2006-01")}, store.bucketCalls)
}

func TestScanStrategyBoundedByOffsetPlusLimit(t *testing.T) {
	store := &fakeStore{
		scanned: []models.DisclosureRecord{
			rec("a", "", "", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
			rec("b", "", "", time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)),
			rec("c", "", "", time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC)),
		},
	}
	router := newRouter(store)

	result, err := router.Query(context.Background(), models.QueryParams{Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Equal(t, []int{3}, store.scanCalls)
	require.Equal(t, 3, result.Total)
	require.Equal(t, 2, result.Count)
	require.Equal(t, "b", result.Items[0].ID)
	require.Equal(t, "a", result.Items[1].ID)
}

func TestCategoryFilterAppliesToEveryStrategy(t *testing.T) {
	store := &fakeStore{byEntity: []models.DisclosureRecord{
		rec("r1", "1234", "earnings", time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)),
		rec("r2", "1234", "ownership", time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)),
	}}
	router := newRouter(store)

	result, err := router.Query(context.Background(), models.QueryParams{
		EntityCode: "1234",
		Category:   "earnings",
		Limit:      10,
	})
	require.NoError(t, err)
	require.Equal(t, 1, result.Total)
	require.Equal(t, "r1", result.Items[0].ID)
}

func TestOffsetBeyondResultsReturnsEmptyPage(t *testing.T) {
	store := &fakeStore{byEntity: []models.DisclosureRecord{
		rec("r1", "1234", "", time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)),
	}}
	router := newRouter(store)

	result, err := router.Query(context.Background(), models.QueryParams{
		EntityCode: "1234",
		Limit:      10,
		Offset:     5,
	})
	require.NoError(t, err)
	require.Equal(t, 1, result.Total)
	require.Equal(t, 0, result.Count)
	require.Empty(t, result.Items)
}

func TestValidationErrors(t *testing.T) {
	router := newRouter(&fakeStore{})

	tests := []struct {
		name   string
		params models.QueryParams
	}{
		{"zero limit", models.QueryParams{Limit: 0}},
		{"negative offset", models.QueryParams{Limit: 10, Offset: -1}},
		{"bad start date", models.QueryParams{Limit: 10, StartDate: "Feb 1"}},
		{"bad end date", models.QueryParams{Limit: 10, StartDate: "2026-02-01", EndDate: "soon"}},
		{"inverted range", models.QueryParams{Limit: 10, StartDate: "2026-03-01", EndDate: "2026-02-01"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := router.Query(context.Background(), tt.params)
			require.Error(t, err)
			require.True(t, faults.IsValidation(err))
		})
	}
}
