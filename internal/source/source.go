// Package source talks to the external disclosure publication endpoint. The
// endpoint yields structured items per requested day; parsing the publisher's
// HTML is upstream of this service.
package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/krxwatch/disclosure-radar/backend/internal/faults"
)

// Item is one disclosure as reported by the source for a given day.
type Item struct {
	EntityCode  string    `json:"entity_code"`
	EntityName  string    `json:"entity_name"`
	Category    string    `json:"category"`
	Title       string    `json:"title"`
	PublishedAt time.Time `json:"published_at"`
	DocumentURL string    `json:"document_url"`
}

// Fetcher lists the disclosures published on one calendar day and downloads
// their documents.
type Fetcher interface {
	FetchList(ctx context.Context, date string) ([]Item, error)
	Download(ctx context.Context, item Item) ([]byte, error)
}

// HTTPFetcher implements Fetcher against the JSON listing endpoint.
type HTTPFetcher struct {
	baseURL string
	client  *http.Client
}

// NewHTTPFetcher creates a fetcher for the given listing endpoint.
func NewHTTPFetcher(baseURL string, client *http.Client) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPFetcher{baseURL: baseURL, client: client}
}

// FetchList returns every disclosure the source published on date (YYYY-MM-DD).
func (f *HTTPFetcher) FetchList(ctx context.Context, date string) ([]Item, error) {
	endpoint := fmt.Sprintf("%s/disclosures?date=%s", f.baseURL, url.QueryEscape(date))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build list request: %w", err)
	}

	res, err := f.client.Do(req)
	if err != nil {
		return nil, classify(fmt.Errorf("fetch list for %s: %w", date, err))
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, statusError(fmt.Sprintf("fetch list for %s", date), res)
	}

	var parsed struct {
		Items []Item `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode list for %s: %w", date, err)
	}
	return parsed.Items, nil
}

// Download fetches the document payload behind one listed item.
func (f *HTTPFetcher) Download(ctx context.Context, item Item) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, item.DocumentURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build download request: %w", err)
	}

	res, err := f.client.Do(req)
	if err != nil {
		return nil, classify(fmt.Errorf("download %s: %w", item.DocumentURL, err))
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return nil, faults.NotFound("document %s", item.DocumentURL)
	}
	if res.StatusCode != http.StatusOK {
		return nil, statusError("download "+item.DocumentURL, res)
	}

	return io.ReadAll(res.Body)
}

// classify tags connection resets, timeouts, and DNS failures as transient.
func classify(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return faults.Transient(err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return faults.Transient(err)
	}
	return err
}

func statusError(msg string, res *http.Response) error {
	err := fmt.Errorf("%s: unexpected status %s", msg, res.Status)
	switch res.StatusCode {
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return faults.Transient(err)
	}
	return err
}
