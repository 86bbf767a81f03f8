// Package lifecycle validates and applies every task status transition.
//
// The transition table:
//
//	pending  --dispatch-->  running      (scheduledFor <= now)
//	running  --succeed--->  completed
//	running  --fail------>  failed       (sets nextRetryAt while retries remain)
//	failed   --retry----->  pending      (retryCount < maxRetries)
//	failed   --retry----->  cancelled    (retries exhausted)
//	pending  --pause----->  paused
//	paused   --resume---->  pending      (newTime required if scheduledFor passed)
//	pending/paused/failed --cancel--> cancelled
//
// Transitions from completed or cancelled are always rejected.
package lifecycle

import (
	"time"

	"contentflow/internal/clock"
	"contentflow/internal/domain"
)

const (
	ReasonRetriesExhausted = "retries exhausted"
	ReasonNonRetryable     = "non-retryable error"
)

// Lifecycle applies transitions to a copy of the task and returns the
// updated record; callers persist it with a conditional store update keyed
// on the previous status.
type Lifecycle struct {
	clock clock.Clock
	retry RetryPolicy
}

func New(clk clock.Clock, retry RetryPolicy) *Lifecycle {
	return &Lifecycle{clock: clk, retry: retry}
}

// Dispatch moves a due pending task to running.
func (l *Lifecycle) Dispatch(t domain.ScheduledTask) (domain.ScheduledTask, error) {
	if t.Status != domain.StatusPending {
		return t, &domain.InvalidTransitionError{From: t.Status, Event: "dispatch"}
	}
	now := l.clock.Now()
	if t.ScheduledFor.After(now) {
		return t, domain.Validationf("task %s not due until %s", t.ID, t.ScheduledFor)
	}
	t.Status = domain.StatusRunning
	t.UpdatedAt = now
	return t, nil
}

// Succeed marks a running task completed and records the execution instant.
func (l *Lifecycle) Succeed(t domain.ScheduledTask, res domain.ExecutionResult) (domain.ScheduledTask, error) {
	if t.Status != domain.StatusRunning {
		return t, &domain.InvalidTransitionError{From: t.Status, Event: "succeed"}
	}
	now := l.clock.Now()
	t.Status = domain.StatusCompleted
	t.ExecutedAt = &now
	t.NextRetryAt = nil
	t.UpdatedAt = now
	return t, nil
}

// Fail records a failed attempt. Retryable failures with retries remaining
// stay failed with nextRetryAt set; the retry poller moves them back to
// pending once due. Non-retryable or exhausted failures terminate as
// cancelled.
func (l *Lifecycle) Fail(t domain.ScheduledTask, res domain.ExecutionResult) (domain.ScheduledTask, error) {
	if t.Status != domain.StatusRunning {
		return t, &domain.InvalidTransitionError{From: t.Status, Event: "fail"}
	}
	now := l.clock.Now()
	t.Status = domain.StatusFailed
	t.RetryCount++
	t.NextRetryAt = nil
	t.UpdatedAt = now

	if res.Error != nil && !res.Error.Retryable {
		t.Status = domain.StatusCancelled
		t.CancelReason = ReasonNonRetryable
		t.ExecutedAt = &now
		return t, nil
	}
	if l.retry.Exhausted(t.RetryCount) {
		t.Status = domain.StatusCancelled
		t.CancelReason = ReasonRetriesExhausted
		t.ExecutedAt = &now
		return t, nil
	}
	next := now.Add(l.retry.Backoff(t.RetryCount))
	t.NextRetryAt = &next
	return t, nil
}

// Retry requeues a failed task. Exhausted tasks terminate as cancelled
// instead.
func (l *Lifecycle) Retry(t domain.ScheduledTask) (domain.ScheduledTask, error) {
	if t.Status != domain.StatusFailed {
		return t, &domain.InvalidTransitionError{From: t.Status, Event: "retry"}
	}
	now := l.clock.Now()
	t.UpdatedAt = now
	if l.retry.Exhausted(t.RetryCount) {
		t.Status = domain.StatusCancelled
		t.CancelReason = ReasonRetriesExhausted
		t.NextRetryAt = nil
		return t, nil
	}
	t.Status = domain.StatusPending
	t.NextRetryAt = nil
	return t, nil
}

// Cancel terminates a pending, paused or failed task. Running tasks cannot
// be cancelled; the in-flight execution completes and its outcome wins.
func (l *Lifecycle) Cancel(t domain.ScheduledTask, reason string) (domain.ScheduledTask, error) {
	if t.Status.Terminal() {
		return t, domain.ErrAlreadyTerminal
	}
	if t.Status == domain.StatusRunning {
		return t, &domain.InvalidTransitionError{From: t.Status, Event: "cancel"}
	}
	t.Status = domain.StatusCancelled
	t.CancelReason = reason
	t.NextRetryAt = nil
	t.UpdatedAt = l.clock.Now()
	return t, nil
}

// Pause takes a pending task out of the dispatch pool.
func (l *Lifecycle) Pause(t domain.ScheduledTask) (domain.ScheduledTask, error) {
	if t.Status != domain.StatusPending {
		return t, &domain.InvalidTransitionError{From: t.Status, Event: "pause"}
	}
	t.Status = domain.StatusPaused
	t.UpdatedAt = l.clock.Now()
	return t, nil
}

// Resume returns a paused task to pending. If the original scheduledFor has
// passed, a new time in the future is required.
func (l *Lifecycle) Resume(t domain.ScheduledTask, newTime *time.Time) (domain.ScheduledTask, error) {
	if t.Status != domain.StatusPaused {
		return t, &domain.InvalidTransitionError{From: t.Status, Event: "resume"}
	}
	now := l.clock.Now()
	if newTime != nil {
		if !newTime.After(now) {
			return t, domain.Validationf("new time %s is not in the future", newTime)
		}
		t.ScheduledFor = *newTime
	} else if t.ScheduledFor.Before(now) {
		return t, domain.Validationf("original time %s passed, a new time is required", t.ScheduledFor)
	}
	t.Status = domain.StatusPending
	t.UpdatedAt = now
	return t, nil
}
