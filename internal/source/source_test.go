package source_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/krxwatch/disclosure-radar/backend/internal/faults"
	"github.com/krxwatch/disclosure-radar/backend/internal/source"
)

func TestFetchListDecodesItems(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/disclosures", r.URL.Path)
		require.Equal(t, "2026-02-01", r.URL.Query().Get("date"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items":[
			{"entity_code":"005930","entity_name":"Samsung Electronics","category":"earnings",
			 "title":"Q4 results","published_at":"2026-02-01T09:00:00Z","document_url":"http://x/doc/1"}
		]}`))
	}))
	defer srv.Close()

	fetcher := source.NewHTTPFetcher(srv.URL, srv.Client())
	items, err := fetcher.FetchList(context.Background(), "2026-02-01")
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "005930", items[0].EntityCode)
	require.Equal(t, "Q4 results", items[0].Title)
	require.Equal(t, time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC), items[0].PublishedAt)
}

func TestFetchListThrottlingIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	fetcher := source.NewHTTPFetcher(srv.URL, srv.Client())
	_, err := fetcher.FetchList(context.Background(), "2026-02-01")
	require.Error(t, err)
	require.True(t, faults.IsRetryable(err))
}

func TestFetchListClientErrorIsNotRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	fetcher := source.NewHTTPFetcher(srv.URL, srv.Client())
	_, err := fetcher.FetchList(context.Background(), "2026-02-01")
	require.Error(t, err)
	require.False(t, faults.IsRetryable(err))
}

func TestDownloadReturnsPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("%PDF-1.7 fake"))
	}))
	defer srv.Close()

	fetcher := source.NewHTTPFetcher(srv.URL, srv.Client())
	data, err := fetcher.Download(context.Background(), source.Item{DocumentURL: srv.URL + "/doc/1"})
	require.NoError(t, err)
	require.Equal(t, []byte("%PDF-1.7 fake"), data)
}

func TestDownloadMissingDocumentIsNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	fetcher := source.NewHTTPFetcher(srv.URL, srv.Client())
	_, err := fetcher.Download(context.Background(), source.Item{DocumentURL: srv.URL + "/doc/9"})
	require.Error(t, err)
	require.True(t, faults.IsNotFound(err))
	require.False(t, faults.IsRetryable(err))
}
