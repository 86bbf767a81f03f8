package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"contentflow/internal/domain"
)

// Memory is a map-backed ScheduleStore. Used in tests and as a reference
// implementation of the conditional-update contract.
type Memory struct {
	mu       sync.RWMutex
	tasks    map[string]domain.ScheduledTask
	attempts map[string][]domain.ExecutionResult
}

func NewMemory() *Memory {
	return &Memory{
		tasks:    make(map[string]domain.ScheduledTask),
		attempts: make(map[string][]domain.ExecutionResult),
	}
}

func (m *Memory) Create(ctx context.Context, t *domain.ScheduledTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.ID == "" {
		t.ID = "sch_" + uuid.NewString()
	}
	m.tasks[t.ID] = cloneTask(*t)
	return nil
}

func (m *Memory) Get(ctx context.Context, id string) (domain.ScheduledTask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	if !ok {
		return domain.ScheduledTask{}, domain.ErrNotFound
	}
	return cloneTask(t), nil
}

func (m *Memory) Update(ctx context.Context, t domain.ScheduledTask, expected domain.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.tasks[t.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if cur.Status != expected {
		return domain.ErrStaleTask
	}
	m.tasks[t.ID] = cloneTask(t)
	return nil
}

func (m *Memory) FindPendingExecution(ctx context.Context, now time.Time, limit int) ([]domain.ScheduledTask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var due []domain.ScheduledTask
	for _, t := range m.tasks {
		if t.Status == domain.StatusPending && !t.ScheduledFor.After(now) {
			due = append(due, cloneTask(t))
		}
	}
	sortDispatchOrder(due)
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (m *Memory) FindPendingRetry(ctx context.Context, now time.Time, limit int) ([]domain.ScheduledTask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var due []domain.ScheduledTask
	for _, t := range m.tasks {
		if t.Status == domain.StatusFailed && t.NextRetryAt != nil && !t.NextRetryAt.After(now) {
			due = append(due, cloneTask(t))
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextRetryAt.Before(*due[j].NextRetryAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (m *Memory) FindWindow(ctx context.Context, customerID string, platform domain.Platform, from, to time.Time) ([]domain.ScheduledTask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.ScheduledTask
	for _, t := range m.tasks {
		if t.CustomerID != customerID || t.Platform != platform {
			continue
		}
		if t.ScheduledFor.Before(from) || t.ScheduledFor.After(to) {
			continue
		}
		out = append(out, cloneTask(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledFor.Before(out[j].ScheduledFor) })
	return out, nil
}

func (m *Memory) ListByCustomer(ctx context.Context, customerID string, from, to time.Time) ([]domain.ScheduledTask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.ScheduledTask
	for _, t := range m.tasks {
		if t.CustomerID != customerID {
			continue
		}
		if !from.IsZero() && t.ScheduledFor.Before(from) {
			continue
		}
		if !to.IsZero() && t.ScheduledFor.After(to) {
			continue
		}
		out = append(out, cloneTask(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledFor.Before(out[j].ScheduledFor) })
	return out, nil
}

func (m *Memory) CountInstances(ctx context.Context, parentID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, t := range m.tasks {
		if t.ParentScheduleID == parentID {
			n++
		}
	}
	return n, nil
}

func (m *Memory) RecordAttempt(ctx context.Context, taskID string, res domain.ExecutionResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[taskID]; !ok {
		return domain.ErrNotFound
	}
	m.attempts[taskID] = append(m.attempts[taskID], res)
	return nil
}

func (m *Memory) GetAttempts(ctx context.Context, taskID string) ([]domain.ExecutionResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.ExecutionResult, len(m.attempts[taskID]))
	copy(out, m.attempts[taskID])
	return out, nil
}

func (m *Memory) RecoverStale(ctx context.Context, now time.Time, timeout time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, t := range m.tasks {
		if t.Status == domain.StatusRunning && now.Sub(t.UpdatedAt) > timeout {
			t.Status = domain.StatusPending
			t.UpdatedAt = now
			m.tasks[id] = t
			n++
		}
	}
	return n, nil
}

func cloneTask(t domain.ScheduledTask) domain.ScheduledTask {
	if t.NextRetryAt != nil {
		v := *t.NextRetryAt
		t.NextRetryAt = &v
	}
	if t.ExecutedAt != nil {
		v := *t.ExecutedAt
		t.ExecutedAt = &v
	}
	if t.Recurrence != nil {
		v := *t.Recurrence
		v.DaysOfWeek = append([]int(nil), t.Recurrence.DaysOfWeek...)
		if t.Recurrence.EndsAt != nil {
			e := *t.Recurrence.EndsAt
			v.EndsAt = &e
		}
		t.Recurrence = &v
	}
	t.Tags = append([]string(nil), t.Tags...)
	return t
}

func sortDispatchOrder(ts []domain.ScheduledTask) {
	sort.Slice(ts, func(i, j int) bool {
		a, b := ts[i], ts[j]
		if !a.ScheduledFor.Equal(b.ScheduledFor) {
			return a.ScheduledFor.Before(b.ScheduledFor)
		}
		if a.Priority.Rank() != b.Priority.Rank() {
			return a.Priority.Rank() > b.Priority.Rank()
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
}
