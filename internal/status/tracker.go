// Package status tracks harvesting-run progress in the executions index.
package status

import (
	"context"
	"time"

	"github.com/krxwatch/disclosure-radar/backend/internal/models"
)

// retentionHorizon is how long terminal execution records stay queryable
// before the retention job may evict them.
const retentionHorizon = 30 * 24 * time.Hour

// Store is the slice of the indexed store the tracker needs.
type Store interface {
	GetExecution(ctx context.Context, executionID string) (*models.ExecutionStatus, error)
	PutExecution(ctx context.Context, st models.ExecutionStatus) error
}

// Tracker persists execution status with clamped, monotonic progress.
type Tracker struct {
	store Store
	now   func() time.Time
}

// NewTracker creates a tracker over the given store.
func NewTracker(store Store) *Tracker {
	return &Tracker{store: store, now: time.Now}
}

// Update writes the full status record for one execution. Progress is clamped
// to [0,100] and never moves backwards across successive writes. StartedAt is
// preserved from the first write. CompletedAt and ExpiryTime are stamped
// exactly when the state is terminal. Store errors propagate unchanged; retry
// policy belongs to the caller.
func (t *Tracker) Update(ctx context.Context, executionID string, state models.ExecState, progress, collected, failed int, errMsg string) (*models.ExecutionStatus, error) {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}

	now := t.now().UTC()

	st := models.ExecutionStatus{
		ExecutionID:    executionID,
		State:          state,
		Progress:       progress,
		CollectedCount: collected,
		FailedCount:    failed,
		StartedAt:      now,
		UpdatedAt:      now,
		ErrorMessage:   errMsg,
	}

	prior, err := t.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if prior != nil {
		st.StartedAt = prior.StartedAt
		if prior.Progress > st.Progress {
			st.Progress = prior.Progress
		}
	}

	if state.Terminal() {
		completed := now
		expiry := now.Add(retentionHorizon)
		st.CompletedAt = &completed
		st.ExpiryTime = &expiry
	}

	if err := t.store.PutExecution(ctx, st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Get looks up one execution status. Absence is (nil, nil), not an error.
func (t *Tracker) Get(ctx context.Context, executionID string) (*models.ExecutionStatus, error) {
	return t.store.GetExecution(ctx, executionID)
}
