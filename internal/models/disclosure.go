package models

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"time"
)

// DisclosureRecord represents the canonical structure stored in Elasticsearch.
// Records are append-only: once written they are never mutated or deleted here.
type DisclosureRecord struct {
	ID          string    `json:"id"`
	EntityCode  string    `json:"entity_code"`
	EntityName  string    `json:"entity_name"`
	Category    string    `json:"category"`
	Title       string    `json:"title"`
	PublishedAt time.Time `json:"published_at"`
	DocumentRef string    `json:"document_ref"`
	TimeBucket  string    `json:"time_bucket"`
	FetchedAt   time.Time `json:"fetched_at"`
}

// BuildRecordID hashes the stable source coordinates so re-harvesting the same
// item always yields the same ID.
func BuildRecordID(source, date string, sequence int) string {
	s := sha1.Sum([]byte(source + "|" + date + "|" + fmt.Sprintf("%06d", sequence)))
	return hex.EncodeToString(s[:])
}

// TimeBucketOf derives the coarse partition key (calendar year-month) from a
// publication instant, evaluated in the given location.
func TimeBucketOf(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("2006-01")
}

// ExecState is the lifecycle state of one harvesting run.
type ExecState string

const (
	ExecPending   ExecState = "pending"
	ExecRunning   ExecState = "running"
	ExecCompleted ExecState = "completed"
	ExecFailed    ExecState = "failed"
)

// Terminal reports whether the state ends a run.
func (s ExecState) Terminal() bool {
	return s == ExecCompleted || s == ExecFailed
}

// ExecutionStatus tracks one harvesting run end to end.
type ExecutionStatus struct {
	ExecutionID    string     `json:"execution_id"`
	State          ExecState  `json:"state"`
	Progress       int        `json:"progress"`
	CollectedCount int        `json:"collected_count"`
	FailedCount    int        `json:"failed_count"`
	StartedAt      time.Time  `json:"started_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	ExpiryTime     *time.Time `json:"expiry_time,omitempty"`
}

// CollectMode selects how a harvest run derives its date range.
type CollectMode string

const (
	ModeBatch    CollectMode = "batch"
	ModeOnDemand CollectMode = "on-demand"
)

// CollectorEvent is the trigger payload for one harvest run.
type CollectorEvent struct {
	Mode        CollectMode `json:"mode"`
	StartDate   string      `json:"start_date,omitempty"`
	EndDate     string      `json:"end_date,omitempty"`
	ExecutionID string      `json:"execution_id,omitempty"`
}

// RunStatus is the aggregate outcome of a harvest run.
type RunStatus string

const (
	RunSuccess        RunStatus = "success"
	RunPartialSuccess RunStatus = "partial_success"
	RunFailed         RunStatus = "failed"
)

// CollectionResult is the harvest entry point's response shape.
type CollectionResult struct {
	ExecutionID    string    `json:"execution_id"`
	Status         RunStatus `json:"status"`
	Message        string    `json:"message"`
	CollectedCount int       `json:"collected_count"`
	FailedCount    int       `json:"failed_count"`
}

// QueryParams narrow the disclosure query endpoint. Sort order is fixed:
// descending by published_at.
type QueryParams struct {
	EntityCode string
	StartDate  string // YYYY-MM-DD, optional
	EndDate    string // YYYY-MM-DD, optional
	Category   string
	Limit      int
	Offset     int
}

// QueryResult bundles the merged page and its pre-slice total.
type QueryResult struct {
	Items  []DisclosureRecord `json:"items"`
	Total  int                `json:"total"`
	Count  int                `json:"count"`
	Offset int                `json:"offset"`
	Limit  int                `json:"limit"`
}
