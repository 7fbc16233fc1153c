package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/krxwatch/disclosure-radar/backend/internal/faults"
	"github.com/krxwatch/disclosure-radar/backend/internal/models"
)

// drainPageSize bounds one page of an internally paginated query. Every query
// path drains all pages before returning; callers never see a partial page.
const drainPageSize = 1000

// Client wraps go-elasticsearch with helpers tailored to this project.
type Client struct {
	es          *elasticsearch.Client
	disclosures string
	executions  string
	log         *slog.Logger
}

// New instantiates the Elasticsearch client for the disclosure and execution
// indices.
func New(addr, disclosuresIndex, executionsIndex string, logger *slog.Logger) (*Client, error) {
	cfg := elasticsearch.Config{
		Addresses: []string{addr},
	}

	es, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}

	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Client{
		es:          es,
		disclosures: disclosuresIndex,
		executions:  executionsIndex,
		log:         logger,
	}, nil
}

// Ping checks if Elasticsearch is available.
func (c *Client) Ping(ctx context.Context) error {
	res, err := c.es.Ping(c.es.Ping.WithContext(ctx))
	if err != nil {
		return classify(err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return statusError("elasticsearch ping failed", res)
	}

	return nil
}

// Health pings the cluster to ensure connectivity.
func (c *Client) Health(ctx context.Context) error {
	res, err := c.es.Cluster.Health(c.es.Cluster.Health.WithContext(ctx))
	if err != nil {
		return classify(err)
	}
	defer res.Body.Close()
	if res.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(res.Body)
		return fmt.Errorf("cluster health bad: %s", strings.TrimSpace(string(data)))
	}
	return nil
}

// IndexDisclosure writes a single disclosure record, keyed by its ID so
// re-harvesting the same item overwrites in place.
func (c *Client) IndexDisclosure(ctx context.Context, rec models.DisclosureRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal disclosure: %w", err)
	}

	req := esapi.IndexRequest{
		Index:      c.disclosures,
		DocumentID: rec.ID,
		Body:       bytes.NewReader(payload),
		Refresh:    "false",
	}

	res, err := req.Do(ctx, c.es)
	if err != nil {
		return classify(err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return statusError("index disclosure failed", res)
	}

	return nil
}

// BatchWrite submits records through the bulk API and returns the subset the
// store did not durably commit. Resubmission policy belongs to the caller.
func (c *Client) BatchWrite(ctx context.Context, recs []models.DisclosureRecord) ([]models.DisclosureRecord, error) {
	if len(recs) == 0 {
		return nil, nil
	}

	var buf bytes.Buffer
	byID := make(map[string]models.DisclosureRecord, len(recs))
	for _, rec := range recs {
		byID[rec.ID] = rec
		meta := map[string]map[string]string{
			"index": {"_index": c.disclosures, "_id": rec.ID},
		}
		metaLine, err := json.Marshal(meta)
		if err != nil {
			return nil, fmt.Errorf("marshal bulk meta: %w", err)
		}
		docLine, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("marshal bulk doc: %w", err)
		}
		buf.Write(metaLine)
		buf.WriteByte('\n')
		buf.Write(docLine)
		buf.WriteByte('\n')
	}

	res, err := c.es.Bulk(
		bytes.NewReader(buf.Bytes()),
		c.es.Bulk.WithContext(ctx),
		c.es.Bulk.WithIndex(c.disclosures),
	)
	if err != nil {
		return nil, classify(err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, statusError("bulk write failed", res)
	}

	var parsed struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			ID     string `json:"_id"`
			Status int    `json:"status"`
			Error  *struct {
				Type   string `json:"type"`
				Reason string `json:"reason"`
			} `json:"error"`
		} `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode bulk response: %w", err)
	}

	if !parsed.Errors {
		return nil, nil
	}

	var unprocessed []models.DisclosureRecord
	for _, item := range parsed.Items {
		for _, op := range item {
			if op.Error == nil {
				continue
			}
			if rec, ok := byID[op.ID]; ok {
				unprocessed = append(unprocessed, rec)
			}
		}
	}
	return unprocessed, nil
}

// QueryByEntity drains all disclosures for one entity code, optionally
// restricted by a published_at range. Open-start and open-end ranges are
// supported by passing nil bounds.
func (c *Client) QueryByEntity(ctx context.Context, entityCode string, start, end *time.Time) ([]models.DisclosureRecord, error) {
	filters := []map[string]any{
		{"term": map[string]any{"entity_code": entityCode}},
	}
	if rangeFilter := publishedRange(start, end); rangeFilter != nil {
		filters = append(filters, rangeFilter)
	}

	return c.drain(ctx, map[string]any{
		"bool": map[string]any{"filter": filters},
	})
}

// QueryByBucket drains all disclosures in one time bucket (calendar
// year-month partition).
func (c *Client) QueryByBucket(ctx context.Context, bucket string) ([]models.DisclosureRecord, error) {
	return c.drain(ctx, map[string]any{
		"bool": map[string]any{
			"filter": []map[string]any{
				{"term": map[string]any{"time_bucket": bucket}},
			},
		},
	})
}

// Scan returns up to limit disclosures with no filter. The cap is an
// efficiency concession for the unfiltered path, not a completeness guarantee.
func (c *Client) Scan(ctx context.Context, limit int) ([]models.DisclosureRecord, error) {
	if limit <= 0 || limit > 10_000 {
		limit = 10_000
	}

	body := map[string]any{
		"size":             limit,
		"track_total_hits": true,
		"query":            map[string]any{"match_all": map[string]any{}},
		"sort":             sortSpec(),
	}

	hits, _, err := c.search(ctx, body)
	return hits, err
}

// drain pulls every page of a query via search_after until the store runs dry.
func (c *Client) drain(ctx context.Context, query map[string]any) ([]models.DisclosureRecord, error) {
	var all []models.DisclosureRecord
	var cursor []any

	for {
		body := map[string]any{
			"size":  drainPageSize,
			"query": query,
			"sort":  sortSpec(),
		}
		if cursor != nil {
			body["search_after"] = cursor
		}

		hits, last, err := c.search(ctx, body)
		if err != nil {
			return nil, err
		}
		all = append(all, hits...)

		if len(hits) < drainPageSize || last == nil {
			return all, nil
		}
		cursor = last
	}
}

// search runs one page and returns its hits plus the sort cursor of the last
// hit for search_after continuation.
func (c *Client) search(ctx context.Context, body map[string]any) ([]models.DisclosureRecord, []any, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal search body: %w", err)
	}

	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(c.disclosures),
		c.es.Search.WithBody(bytes.NewReader(payload)),
	)
	if err != nil {
		return nil, nil, classify(err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, nil, statusError("search failed", res)
	}

	var parsed struct {
		Hits struct {
			Hits []struct {
				Source models.DisclosureRecord `json:"_source"`
				Sort   []any                   `json:"sort"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, nil, fmt.Errorf("decode search response: %w", err)
	}

	items := make([]models.DisclosureRecord, 0, len(parsed.Hits.Hits))
	var last []any
	for _, hit := range parsed.Hits.Hits {
		items = append(items, hit.Source)
		last = hit.Sort
	}
	return items, last, nil
}

// PutExecution writes the full execution-status document, keyed by its
// execution ID.
func (c *Client) PutExecution(ctx context.Context, st models.ExecutionStatus) error {
	payload, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal execution status: %w", err)
	}

	req := esapi.IndexRequest{
		Index:      c.executions,
		DocumentID: st.ExecutionID,
		Body:       bytes.NewReader(payload),
		Refresh:    "false",
	}

	res, err := req.Do(ctx, c.es)
	if err != nil {
		return classify(err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return statusError("index execution status failed", res)
	}

	return nil
}

// GetExecution point-looks-up one execution status. A missing document is
// reported as (nil, nil), not an error.
func (c *Client) GetExecution(ctx context.Context, executionID string) (*models.ExecutionStatus, error) {
	req := esapi.GetRequest{Index: c.executions, DocumentID: executionID}

	res, err := req.Do(ctx, c.es)
	if err != nil {
		return nil, classify(err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if res.IsError() {
		return nil, statusError("get execution status failed", res)
	}

	var parsed struct {
		Source models.ExecutionStatus `json:"_source"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode execution status: %w", err)
	}
	return &parsed.Source, nil
}

// DeleteExpiredExecutions removes execution-status documents whose expiry_time
// has passed, using batched delete-by-query. It loops until a batch deletes
// fewer documents than the requested batchSize.
func (c *Client) DeleteExpiredExecutions(ctx context.Context, now time.Time, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 1000
	}

	cutoff := now.UTC().Format(time.RFC3339)
	totalDeleted := int64(0)

	for {
		body := map[string]any{
			"query": map[string]any{
				"range": map[string]any{
					"expiry_time": map[string]any{
						"lte": cutoff,
					},
				},
			},
		}

		payload, err := json.Marshal(body)
		if err != nil {
			return totalDeleted, fmt.Errorf("marshal delete body: %w", err)
		}

		res, err := c.es.DeleteByQuery(
			[]string{c.executions},
			bytes.NewReader(payload),
			c.es.DeleteByQuery.WithContext(ctx),
			c.es.DeleteByQuery.WithWaitForCompletion(true),
			c.es.DeleteByQuery.WithConflicts("proceed"),
			c.es.DeleteByQuery.WithScrollSize(batchSize),
		)
		if err != nil {
			return totalDeleted, classify(err)
		}

		if res.IsError() {
			data, _ := io.ReadAll(res.Body)
			res.Body.Close()
			return totalDeleted, fmt.Errorf("delete by query failed: %s", strings.TrimSpace(string(data)))
		}

		var parsed struct {
			Deleted int64 `json:"deleted"`
		}
		if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
			res.Body.Close()
			return totalDeleted, fmt.Errorf("decode delete response: %w", err)
		}
		res.Body.Close()

		totalDeleted += parsed.Deleted

		if parsed.Deleted < int64(batchSize) {
			break
		}
	}

	return totalDeleted, nil
}

// sortSpec fixes the result order for every search path. The ID tie-break
// makes search_after cursors unambiguous; it targets the keyword subfield
// because the dynamically mapped id field itself is text and not sortable.
func sortSpec() []map[string]any {
	return []map[string]any{
		{"published_at": map[string]any{"order": "desc"}},
		{"id.keyword": map[string]any{"order": "desc"}},
	}
}

// publishedRange serializes bounds at nanosecond precision; callers pass
// inclusive end-of-day instants one nanosecond short of midnight.
func publishedRange(start, end *time.Time) map[string]any {
	if start == nil && end == nil {
		return nil
	}
	rangeQuery := map[string]any{}
	if start != nil {
		rangeQuery["gte"] = start.UTC().Format(time.RFC3339Nano)
	}
	if end != nil {
		rangeQuery["lte"] = end.UTC().Format(time.RFC3339Nano)
	}
	return map[string]any{
		"range": map[string]any{"published_at": rangeQuery},
	}
}

// classify tags transport-level failures as transient at the point of origin.
func classify(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return faults.Transient(err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return faults.Transient(err)
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return faults.Transient(err)
	}
	return err
}

// statusError maps an errored response to the fault taxonomy: throttling and
// overload statuses are transient, everything else is a plain store error.
func statusError(msg string, res *esapi.Response) error {
	data, _ := io.ReadAll(res.Body)
	err := fmt.Errorf("%s: %s %s", msg, res.Status(), strings.TrimSpace(string(data)))
	switch res.StatusCode {
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return faults.Transient(err)
	}
	return err
}
