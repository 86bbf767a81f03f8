// Package scheduler exposes the operations the outer transport layer calls:
// scheduling with conflict and rate validation, rescheduling, pause/resume,
// cancellation, bulk scheduling, slot discovery and statistics.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"contentflow/internal/clock"
	"contentflow/internal/config"
	"contentflow/internal/conflict"
	"contentflow/internal/domain"
	"contentflow/internal/lifecycle"
	"contentflow/internal/metrics"
	"contentflow/internal/recurrence"
	"contentflow/internal/store"
)

// ScheduleInput is a request to schedule one unit of work.
type ScheduleInput struct {
	CustomerID   string                    `json:"customer_id"`
	Platform     domain.Platform           `json:"platform"`
	EntityType   domain.EntityType         `json:"entity_type"`
	EntityID     string                    `json:"entity_id"`
	ScheduledFor time.Time                 `json:"scheduled_for"`
	Priority     domain.Priority           `json:"priority,omitempty"`
	Recurrence   *domain.RecurrencePattern `json:"recurrence,omitempty"`
	Tags         []string                  `json:"tags,omitempty"`
	Notes        string                    `json:"notes,omitempty"`
	CreatedBy    string                    `json:"created_by,omitempty"`

	// ForceSchedule proceeds past blocking conflicts.
	ForceSchedule bool `json:"force_schedule,omitempty"`
}

// BulkFailure reports one rejected input of a bulk request.
type BulkFailure struct {
	Index     int                       `json:"index"`
	Error     string                    `json:"error"`
	Conflicts []domain.ScheduleConflict `json:"conflicts,omitempty"`
}

type BulkResult struct {
	Scheduled []domain.ScheduledTask `json:"scheduled"`
	Failures  []BulkFailure          `json:"failures"`
}

// Statistics summarize a customer's schedule over a range.
type Statistics struct {
	Total       int                     `json:"total"`
	ByStatus    map[domain.Status]int   `json:"by_status"`
	ByPlatform  map[domain.Platform]int `json:"by_platform"`
	Upcoming    int                     `json:"upcoming"`
	SuccessRate float64                 `json:"success_rate"`
}

type Service struct {
	store     store.ScheduleStore
	detector  *conflict.Detector
	lifecycle *lifecycle.Lifecycle
	expander  *recurrence.Expander
	clock     clock.Clock
	collector *metrics.Collector

	buffer   time.Duration
	slotStep time.Duration
}

func NewService(st store.ScheduleStore, det *conflict.Detector, lc *lifecycle.Lifecycle, exp *recurrence.Expander, clk clock.Clock, col *metrics.Collector, cfg *config.Config) *Service {
	return &Service{
		store:     st,
		detector:  det,
		lifecycle: lc,
		expander:  exp,
		clock:     clk,
		collector: col,
		buffer:    cfg.Buffer(),
		slotStep:  cfg.SlotStep,
	}
}

// Schedule validates the input, checks conflicts and rate ceilings, and
// creates the task. Non-blocking conflicts are returned alongside the task;
// blocking ones reject the request unless ForceSchedule is set.
func (s *Service) Schedule(ctx context.Context, in ScheduleInput) (domain.ScheduledTask, []domain.ScheduleConflict, error) {
	if err := s.validate(&in); err != nil {
		return domain.ScheduledTask{}, nil, err
	}

	conflicts, err := s.detector.FindConflicts(ctx, in.CustomerID, in.Platform, in.ScheduledFor, "")
	if err != nil {
		return domain.ScheduledTask{}, nil, err
	}
	if blocked(conflicts) && !in.ForceSchedule {
		return domain.ScheduledTask{}, conflicts, &domain.ConflictError{Conflicts: conflicts}
	}

	now := s.clock.Now()
	t := domain.ScheduledTask{
		CustomerID:   in.CustomerID,
		Platform:     in.Platform,
		EntityType:   in.EntityType,
		EntityID:     in.EntityID,
		ScheduledFor: in.ScheduledFor.UTC(),
		Status:       domain.StatusPending,
		Priority:     in.Priority,
		Recurrence:   in.Recurrence,
		Tags:         in.Tags,
		Notes:        in.Notes,
		CreatedBy:    in.CreatedBy,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.Create(ctx, &t); err != nil {
		return domain.ScheduledTask{}, nil, fmt.Errorf("create task: %w", err)
	}
	s.collector.RecordScheduled()

	log.Info().
		Str("task_id", t.ID).
		Str("customer_id", t.CustomerID).
		Str("platform", string(t.Platform)).
		Time("scheduled_for", t.ScheduledFor).
		Int("conflicts", len(conflicts)).
		Msg("task scheduled")
	return t, conflicts, nil
}

// Reschedule moves a pending or paused task to a new time after rechecking
// conflicts, excluding the task itself from the scan.
func (s *Service) Reschedule(ctx context.Context, id string, newTime time.Time, force bool) (domain.ScheduledTask, error) {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return domain.ScheduledTask{}, err
	}
	if t.Status != domain.StatusPending && t.Status != domain.StatusPaused {
		return t, &domain.InvalidTransitionError{From: t.Status, Event: "reschedule"}
	}
	if !newTime.After(s.clock.Now()) {
		return t, domain.Validationf("new time %s is not in the future", newTime)
	}

	conflicts, err := s.detector.FindConflicts(ctx, t.CustomerID, t.Platform, newTime, t.ID)
	if err != nil {
		return domain.ScheduledTask{}, err
	}
	if blocked(conflicts) && !force {
		return t, &domain.ConflictError{Conflicts: conflicts}
	}

	prev := t.Status
	t.ScheduledFor = newTime.UTC()
	t.UpdatedAt = s.clock.Now()
	if err := s.store.Update(ctx, t, prev); err != nil {
		return domain.ScheduledTask{}, err
	}
	log.Info().Str("task_id", t.ID).Time("scheduled_for", t.ScheduledFor).Msg("task rescheduled")
	return t, nil
}

func (s *Service) Cancel(ctx context.Context, id, reason string) (domain.ScheduledTask, error) {
	return s.transition(ctx, id, func(t domain.ScheduledTask) (domain.ScheduledTask, error) {
		return s.lifecycle.Cancel(t, reason)
	})
}

func (s *Service) Pause(ctx context.Context, id string) (domain.ScheduledTask, error) {
	return s.transition(ctx, id, s.lifecycle.Pause)
}

func (s *Service) Resume(ctx context.Context, id string, newTime *time.Time) (domain.ScheduledTask, error) {
	return s.transition(ctx, id, func(t domain.ScheduledTask) (domain.ScheduledTask, error) {
		return s.lifecycle.Resume(t, newTime)
	})
}

func (s *Service) Get(ctx context.Context, id string) (domain.ScheduledTask, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) Attempts(ctx context.Context, id string) ([]domain.ExecutionResult, error) {
	if _, err := s.store.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.store.GetAttempts(ctx, id)
}

// BulkSchedule schedules a batch. With the "stagger" strategy, inputs for
// the same customer and platform are spaced one buffer apart starting from
// each input's requested time; any other value leaves times untouched.
func (s *Service) BulkSchedule(ctx context.Context, inputs []ScheduleInput, strategy string) (BulkResult, error) {
	if strategy == "stagger" {
		s.stagger(inputs)
	}
	var res BulkResult
	for i, in := range inputs {
		t, _, err := s.Schedule(ctx, in)
		if err != nil {
			f := BulkFailure{Index: i, Error: err.Error()}
			var ce *domain.ConflictError
			if errors.As(err, &ce) {
				f.Conflicts = ce.Conflicts
			}
			res.Failures = append(res.Failures, f)
			continue
		}
		res.Scheduled = append(res.Scheduled, t)
	}
	return res, nil
}

func (s *Service) stagger(inputs []ScheduleInput) {
	lastAt := make(map[string]time.Time)
	for i := range inputs {
		key := inputs[i].CustomerID + "|" + string(inputs[i].Platform)
		if prev, ok := lastAt[key]; ok {
			earliest := prev.Add(s.buffer)
			if inputs[i].ScheduledFor.Before(earliest) {
				inputs[i].ScheduledFor = earliest
			}
		}
		lastAt[key] = inputs[i].ScheduledFor
	}
}

// AvailableSlots walks the range in slot steps and keeps the instants that
// raise no conflicts at all, warnings included.
func (s *Service) AvailableSlots(ctx context.Context, customerID string, platform domain.Platform, from, to time.Time) ([]time.Time, error) {
	if !to.After(from) {
		return nil, domain.Validationf("range end %s not after start %s", to, from)
	}
	now := s.clock.Now()
	var slots []time.Time
	for at := from; !at.After(to); at = at.Add(s.slotStep) {
		if !at.After(now) {
			continue
		}
		conflicts, err := s.detector.FindConflicts(ctx, customerID, platform, at, "")
		if err != nil {
			return nil, err
		}
		if len(conflicts) == 0 {
			slots = append(slots, at)
		}
	}
	return slots, nil
}

// Statistics aggregates the customer's tasks; zero range bounds mean all
// time.
func (s *Service) Statistics(ctx context.Context, customerID string, from, to time.Time) (Statistics, error) {
	tasks, err := s.store.ListByCustomer(ctx, customerID, from, to)
	if err != nil {
		return Statistics{}, err
	}
	stats := Statistics{
		ByStatus:   make(map[domain.Status]int),
		ByPlatform: make(map[domain.Platform]int),
	}
	now := s.clock.Now()
	executed := 0
	for _, t := range tasks {
		stats.Total++
		stats.ByStatus[t.Status]++
		stats.ByPlatform[t.Platform]++
		if t.Status == domain.StatusPending && t.ScheduledFor.After(now) {
			stats.Upcoming++
		}
		// Only tasks that actually ran count toward the success rate. A
		// cancellation before execution is not a failed delivery.
		if t.ExecutedAt != nil {
			executed++
		}
	}
	if executed > 0 {
		stats.SuccessRate = float64(stats.ByStatus[domain.StatusCompleted]) / float64(executed)
	}
	return stats, nil
}

func (s *Service) transition(ctx context.Context, id string, apply func(domain.ScheduledTask) (domain.ScheduledTask, error)) (domain.ScheduledTask, error) {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return domain.ScheduledTask{}, err
	}
	prev := t.Status
	next, err := apply(t)
	if err != nil {
		return t, err
	}
	if err := s.store.Update(ctx, next, prev); err != nil {
		return domain.ScheduledTask{}, err
	}
	log.Info().Str("task_id", next.ID).Str("status", string(next.Status)).Msg("task transitioned")
	return next, nil
}

func (s *Service) validate(in *ScheduleInput) error {
	if in.CustomerID == "" {
		return domain.Validationf("customer_id is required")
	}
	if !in.Platform.Valid() {
		return domain.Validationf("unknown platform %q", in.Platform)
	}
	if !in.EntityType.Valid() {
		return domain.Validationf("unknown entity type %q", in.EntityType)
	}
	if in.EntityID == "" {
		return domain.Validationf("entity_id is required")
	}
	if !in.ScheduledFor.After(s.clock.Now()) {
		return domain.Validationf("scheduled time %s is in the past", in.ScheduledFor)
	}
	if in.Priority == "" {
		in.Priority = domain.PriorityNormal
	}
	if !in.Priority.Valid() {
		return domain.Validationf("unknown priority %q", in.Priority)
	}
	if err := s.expander.Validate(in.Recurrence); err != nil {
		return err
	}
	return nil
}

func blocked(conflicts []domain.ScheduleConflict) bool {
	for _, c := range conflicts {
		if c.Blocking() {
			return true
		}
	}
	return false
}
