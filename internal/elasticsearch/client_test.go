package elasticsearch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSortSpecUsesKeywordSubfieldForTieBreak(t *testing.T) {
	spec := sortSpec()
	require.Len(t, spec, 2)

	_, ok := spec[0]["published_at"]
	require.True(t, ok)

	// The id field is dynamically mapped as text; sorting it directly would
	// be rejected by the store.
	_, ok = spec[1]["id.keyword"]
	require.True(t, ok)
	_, bare := spec[1]["id"]
	require.False(t, bare)
}

func TestPublishedRangeKeepsSubsecondPrecision(t *testing.T) {
	end := time.Date(2026, 2, 3, 23, 59, 59, 999_999_999, time.UTC)
	filter := publishedRange(nil, &end)
	require.NotNil(t, filter)

	rangeQuery := filter["range"].(map[string]any)["published_at"].(map[string]any)
	require.Equal(t, "2026-02-03T23:59:59.999999999Z", rangeQuery["lte"])
	require.NotContains(t, rangeQuery, "gte")
}

func TestPublishedRangeBothBounds(t *testing.T) {
	start := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 2, 3, 12, 30, 0, 0, time.UTC)
	filter := publishedRange(&start, &end)

	rangeQuery := filter["range"].(map[string]any)["published_at"].(map[string]any)
	require.Equal(t, "2026-02-01T00:00:00Z", rangeQuery["gte"])
	require.Equal(t, "2026-02-03T12:30:00Z", rangeQuery["lte"])
}

func TestPublishedRangeOpenBothEnds(t *testing.T) {
	require.Nil(t, publishedRange(nil, nil))
}
