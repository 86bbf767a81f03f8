package domain

import "time"

// Platform is a distribution target.
type Platform string

const (
	PlatformReddit   Platform = "reddit"
	PlatformQuora    Platform = "quora"
	PlatformForum    Platform = "forum"
	PlatformLinkedIn Platform = "linkedin"
)

var Platforms = []Platform{PlatformReddit, PlatformQuora, PlatformForum, PlatformLinkedIn}

func (p Platform) Valid() bool {
	switch p {
	case PlatformReddit, PlatformQuora, PlatformForum, PlatformLinkedIn:
		return true
	}
	return false
}

// EntityType discriminates what a task executes. The entity id is opaque;
// only the handler registered for the type knows how to resolve it.
type EntityType string

const (
	EntityRedditPost  EntityType = "reddit_post"
	EntityArticle     EntityType = "article"
	EntityGenericTask EntityType = "generic_task"
)

func (e EntityType) Valid() bool {
	switch e {
	case EntityRedditPost, EntityArticle, EntityGenericTask:
		return true
	}
	return false
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusPaused    Status = "paused"
)

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Rank orders priorities for dispatch tie-breaking. Higher runs first.
func (p Priority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 4
	case PriorityHigh:
		return 3
	case PriorityNormal:
		return 2
	case PriorityLow:
		return 1
	}
	return 0
}

func (p Priority) Valid() bool { return p.Rank() != 0 }

// ScheduledTask is one unit of future work tied to an entity and a target time.
type ScheduledTask struct {
	ID         string
	CustomerID string
	Platform   Platform
	EntityType EntityType
	EntityID   string

	ScheduledFor time.Time
	Status       Status
	Priority     Priority

	RetryCount  int
	NextRetryAt *time.Time

	// Recurrence is set only on templates; instances spawned from a template
	// carry ParentScheduleID instead, never both.
	Recurrence       *RecurrencePattern
	ParentScheduleID string

	Tags  []string
	Notes string

	CancelReason string
	ExecutedAt   *time.Time

	CreatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RateKey identifies the per-customer, per-platform serialization and
// rate-limiting domain of the task.
func (t *ScheduledTask) RateKey() string {
	return t.CustomerID + "|" + string(t.Platform)
}

type RecurrenceType string

const (
	RecurrenceOnce    RecurrenceType = "once"
	RecurrenceDaily   RecurrenceType = "daily"
	RecurrenceWeekly  RecurrenceType = "weekly"
	RecurrenceMonthly RecurrenceType = "monthly"
	RecurrenceCron    RecurrenceType = "cron"
)

// RecurrencePattern describes how a template task repeats. TimeOfDay is
// "HH:MM" interpreted in Timezone. DaysOfWeek uses time.Weekday numbering
// (Sunday=0). Either EndsAt or MaxOccurrences may bound the series.
type RecurrencePattern struct {
	Type           RecurrenceType `json:"type" yaml:"type"`
	TimeOfDay      string         `json:"time_of_day,omitempty" yaml:"time_of_day,omitempty"`
	Timezone       string         `json:"timezone,omitempty" yaml:"timezone,omitempty"`
	DaysOfWeek     []int          `json:"days_of_week,omitempty" yaml:"days_of_week,omitempty"`
	DayOfMonth     int            `json:"day_of_month,omitempty" yaml:"day_of_month,omitempty"`
	CronExpr       string         `json:"cron_expr,omitempty" yaml:"cron_expr,omitempty"`
	EndsAt         *time.Time     `json:"ends_at,omitempty" yaml:"ends_at,omitempty"`
	MaxOccurrences int            `json:"max_occurrences,omitempty" yaml:"max_occurrences,omitempty"`
}

type ConflictKind string

const (
	ConflictSameTime        ConflictKind = "same_time"
	ConflictBufferViolation ConflictKind = "buffer_violation"
	ConflictRateLimit       ConflictKind = "rate_limit"
	ConflictPlatformLimit   ConflictKind = "platform_limit"
)

type ConflictSeverity string

const (
	SeverityWarning  ConflictSeverity = "warning"
	SeverityBlocking ConflictSeverity = "blocking"
)

// ScheduleConflict explains why a proposed time is invalid. Produced on
// demand, never persisted.
type ScheduleConflict struct {
	ConflictingID string           `json:"conflicting_id,omitempty"`
	Kind          ConflictKind     `json:"kind"`
	Severity      ConflictSeverity `json:"severity"`
	Message       string           `json:"message"`
	SuggestedTime *time.Time       `json:"suggested_time,omitempty"`
}

func (c ScheduleConflict) Blocking() bool { return c.Severity == SeverityBlocking }

// ExecutionError classifies one attempt's failure. Retryable failures
// re-enter the retry path; non-retryable ones terminate the task.
type ExecutionError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// ExecutionResult is the outcome of a single execution attempt, one per
// dispatch, appended to the task's attempt history.
type ExecutionResult struct {
	Success     bool            `json:"success"`
	Duration    time.Duration   `json:"duration"`
	ExternalID  string          `json:"external_id,omitempty"`
	ExternalURL string          `json:"external_url,omitempty"`
	Error       *ExecutionError `json:"error,omitempty"`
	FinishedAt  time.Time       `json:"finished_at"`
}
