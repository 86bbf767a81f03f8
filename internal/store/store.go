// Package store persists ScheduledTask records. Implementations own storage
// and indexed lookup only; scheduling logic lives with the callers.
package store

import (
	"context"
	"time"

	"contentflow/internal/domain"
)

// ScheduleStore is the storage contract. Update is a compare-and-swap on
// (id, expected status): it fails with domain.ErrStaleTask instead of
// overwriting when the stored status no longer matches, which keeps two
// workers from claiming the same task.
type ScheduleStore interface {
	Create(ctx context.Context, t *domain.ScheduledTask) error
	Get(ctx context.Context, id string) (domain.ScheduledTask, error)
	Update(ctx context.Context, t domain.ScheduledTask, expected domain.Status) error

	// FindPendingExecution returns pending tasks with scheduledFor <= now,
	// ordered by scheduledFor, then priority rank, then creation time.
	FindPendingExecution(ctx context.Context, now time.Time, limit int) ([]domain.ScheduledTask, error)

	// FindPendingRetry returns failed tasks whose nextRetryAt <= now.
	FindPendingRetry(ctx context.Context, now time.Time, limit int) ([]domain.ScheduledTask, error)

	// FindWindow returns the customer's tasks on one platform whose
	// scheduledFor falls within [from, to], any status.
	FindWindow(ctx context.Context, customerID string, platform domain.Platform, from, to time.Time) ([]domain.ScheduledTask, error)

	// ListByCustomer returns every task for the customer; zero from/to
	// means unbounded on that side.
	ListByCustomer(ctx context.Context, customerID string, from, to time.Time) ([]domain.ScheduledTask, error)

	// CountInstances counts tasks spawned from the given template.
	CountInstances(ctx context.Context, parentID string) (int, error)

	RecordAttempt(ctx context.Context, taskID string, res domain.ExecutionResult) error
	GetAttempts(ctx context.Context, taskID string) ([]domain.ExecutionResult, error)

	// RecoverStale requeues tasks stuck in running longer than timeout.
	RecoverStale(ctx context.Context, now time.Time, timeout time.Duration) (int, error)
}
