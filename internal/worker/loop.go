// Package worker polls the store for runnable tasks and drives them through
// their handlers. Concurrency is bounded by a semaphore; tasks sharing a
// customer and platform are serialized relative to each other so rate-limit
// ordering holds, while distinct pairs run in parallel.
package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"contentflow/internal/clock"
	"contentflow/internal/config"
	"contentflow/internal/domain"
	"contentflow/internal/lifecycle"
	"contentflow/internal/metrics"
	"contentflow/internal/ratelimit"
	"contentflow/internal/recurrence"
	"contentflow/internal/store"
)

// Handler performs the platform-specific action for one entity type. It must
// be safe to call once per dispatch and must honor the context deadline.
type Handler interface {
	Execute(ctx context.Context, entityType domain.EntityType, entityID string) domain.ExecutionResult
}

type Loop struct {
	store     store.ScheduleStore
	lifecycle *lifecycle.Lifecycle
	limiter   *ratelimit.Limiter
	expander  *recurrence.Expander
	clock     clock.Clock
	handlers  map[domain.EntityType]Handler
	collector *metrics.Collector

	pollEvery      time.Duration
	retryPollEvery time.Duration
	taskTimeout    time.Duration
	sem            chan struct{}

	// inflight guards per-key serialization across poll ticks.
	inflight *keySet

	stop    chan struct{}
	errLogs *rate.Limiter
}

func NewLoop(st store.ScheduleStore, lc *lifecycle.Lifecycle, rl *ratelimit.Limiter, exp *recurrence.Expander, clk clock.Clock, handlers map[domain.EntityType]Handler, col *metrics.Collector, cfg *config.Config) *Loop {
	return &Loop{
		store:          st,
		lifecycle:      lc,
		limiter:        rl,
		expander:       exp,
		clock:          clk,
		handlers:       handlers,
		collector:      col,
		pollEvery:      cfg.PollInterval,
		retryPollEvery: cfg.RetryPollInterval,
		taskTimeout:    cfg.TaskTimeout,
		sem:            make(chan struct{}, cfg.MaxConcurrent),
		inflight:       newKeySet(),
		stop:           make(chan struct{}),
		errLogs:        rate.NewLimiter(rate.Every(time.Minute), 3),
	}
}

// Run polls until the context is cancelled or Stop is called. A failed poll
// is logged and retried on the next tick, never fatal.
func (l *Loop) Run(ctx context.Context) {
	log.Info().
		Dur("poll_interval", l.pollEvery).
		Dur("retry_poll_interval", l.retryPollEvery).
		Int("max_concurrent", cap(l.sem)).
		Msg("worker loop started")

	poll := time.NewTicker(l.pollEvery)
	defer poll.Stop()
	retry := time.NewTicker(l.retryPollEvery)
	defer retry.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stop:
			return
		case <-poll.C:
			l.dispatchDue(ctx)
		case <-retry.C:
			l.requeueRetries(ctx)
			l.recoverStale(ctx)
		}
	}
}

func (l *Loop) Stop() { close(l.stop) }

// dispatchDue claims due pending tasks and hands each customer+platform
// group to one goroutine, preserving scheduledFor order inside the group.
func (l *Loop) dispatchDue(ctx context.Context) {
	now := l.clock.Now()
	due, err := l.store.FindPendingExecution(ctx, now, cap(l.sem)*4)
	if err != nil {
		l.logPollError(err, "find pending tasks")
		return
	}
	for _, group := range groupByKey(due) {
		key := group[0].RateKey()
		if !l.inflight.tryAcquire(key) {
			continue
		}
		select {
		case l.sem <- struct{}{}:
		case <-ctx.Done():
			l.inflight.release(key)
			return
		}
		go func(tasks []domain.ScheduledTask, key string) {
			defer func() {
				<-l.sem
				l.inflight.release(key)
			}()
			for _, t := range tasks {
				if !l.dispatchOne(ctx, t) {
					return
				}
			}
		}(group, key)
	}
}

// dispatchOne runs a single task end to end. It returns false when the rest
// of the group should wait for a later tick, i.e. on rate-limit rejection or
// context cancellation.
func (l *Loop) dispatchOne(ctx context.Context, t domain.ScheduledTask) bool {
	if ctx.Err() != nil {
		return false
	}
	now := l.clock.Now()
	if ok, retryAt := l.limiter.Admit(t.CustomerID, t.Platform, now); !ok {
		l.collector.RecordRateLimited()
		log.Debug().
			Str("task_id", t.ID).
			Time("retry_at", retryAt).
			Msg("dispatch delayed by rate limit")
		return false
	}

	running, err := l.lifecycle.Dispatch(t)
	if err != nil {
		log.Warn().Err(err).Str("task_id", t.ID).Msg("dispatch rejected")
		return true
	}
	if err := l.store.Update(ctx, running, domain.StatusPending); err != nil {
		// Another worker claimed it, or it was cancelled between poll and
		// claim. Either way someone else owns the outcome.
		if err != domain.ErrStaleTask {
			l.logPollError(err, "claim task")
		}
		return true
	}
	l.collector.RecordDispatch()

	res := l.execute(ctx, running)
	l.finish(ctx, running, res)
	return true
}

// execute invokes the registered handler under the task timeout. A handler
// that outlives the deadline is recorded as a retryable timeout failure; its
// goroutine finishes on its own.
func (l *Loop) execute(ctx context.Context, t domain.ScheduledTask) domain.ExecutionResult {
	h, ok := l.handlers[t.EntityType]
	if !ok {
		return domain.ExecutionResult{
			Success:    false,
			FinishedAt: l.clock.Now(),
			Error: &domain.ExecutionError{
				Code:      "no_handler",
				Message:   "no handler registered for entity type " + string(t.EntityType),
				Retryable: false,
			},
		}
	}

	execCtx, cancel := context.WithTimeout(ctx, l.taskTimeout)
	defer cancel()

	start := time.Now()
	done := make(chan domain.ExecutionResult, 1)
	go func() {
		done <- h.Execute(execCtx, t.EntityType, t.EntityID)
	}()

	select {
	case res := <-done:
		if res.Duration == 0 {
			res.Duration = time.Since(start)
		}
		if res.FinishedAt.IsZero() {
			res.FinishedAt = l.clock.Now()
		}
		return res
	case <-execCtx.Done():
		return domain.ExecutionResult{
			Success:    false,
			Duration:   time.Since(start),
			FinishedAt: l.clock.Now(),
			Error: &domain.ExecutionError{
				Code:      "timeout",
				Message:   "handler exceeded task timeout",
				Retryable: true,
			},
		}
	}
}

// finish feeds the result back through the lifecycle, records the attempt,
// and expands the next recurrence occurrence on terminal outcomes.
func (l *Loop) finish(ctx context.Context, t domain.ScheduledTask, res domain.ExecutionResult) {
	var next domain.ScheduledTask
	var err error
	if res.Success {
		next, err = l.lifecycle.Succeed(t, res)
	} else {
		next, err = l.lifecycle.Fail(t, res)
	}
	if err != nil {
		log.Error().Err(err).Str("task_id", t.ID).Msg("result transition rejected")
		return
	}
	if err := l.store.Update(ctx, next, domain.StatusRunning); err != nil {
		l.logPollError(err, "record task result")
		return
	}
	if err := l.store.RecordAttempt(ctx, t.ID, res); err != nil {
		l.logPollError(err, "record attempt")
	}

	if res.Success {
		l.collector.RecordCompleted(res.Duration)
		log.Info().
			Str("task_id", t.ID).
			Str("external_url", res.ExternalURL).
			Dur("duration", res.Duration).
			Msg("task completed")
	} else {
		l.collector.RecordFailed(res.Duration)
		ev := log.Warn().Str("task_id", t.ID).Int("retry_count", next.RetryCount)
		if res.Error != nil {
			ev = ev.Str("error_code", res.Error.Code).Bool("retryable", res.Error.Retryable)
		}
		if next.Status == domain.StatusCancelled {
			l.collector.RecordCancelled()
			ev.Str("reason", next.CancelReason).Msg("task terminated")
		} else {
			ev.Time("next_retry_at", *next.NextRetryAt).Msg("task failed, retry scheduled")
		}
	}

	if next.Status.Terminal() {
		l.expandRecurrence(ctx, next)
	}
}

// requeueRetries moves failed tasks whose nextRetryAt has arrived back to
// pending.
func (l *Loop) requeueRetries(ctx context.Context) {
	now := l.clock.Now()
	due, err := l.store.FindPendingRetry(ctx, now, cap(l.sem)*4)
	if err != nil {
		l.logPollError(err, "find pending retries")
		return
	}
	for _, t := range due {
		next, err := l.lifecycle.Retry(t)
		if err != nil {
			log.Warn().Err(err).Str("task_id", t.ID).Msg("retry transition rejected")
			continue
		}
		if err := l.store.Update(ctx, next, domain.StatusFailed); err != nil {
			if err != domain.ErrStaleTask {
				l.logPollError(err, "requeue retry")
			}
			continue
		}
		if next.Status == domain.StatusCancelled {
			l.collector.RecordCancelled()
			continue
		}
		l.collector.RecordRetried()
		log.Info().Str("task_id", t.ID).Int("retry_count", next.RetryCount).Msg("task requeued for retry")
	}
}

func (l *Loop) recoverStale(ctx context.Context) {
	// Treat anything running for three timeouts as abandoned by a dead
	// worker.
	n, err := l.store.RecoverStale(ctx, l.clock.Now(), 3*l.taskTimeout)
	if err != nil {
		l.logPollError(err, "recover stale tasks")
		return
	}
	if n > 0 {
		log.Warn().Int("recovered", n).Msg("requeued stale running tasks")
	}
}

// expandRecurrence creates the next instance for a recurring series. One
// instance exhausting its retries does not halt the series; a manually
// cancelled template does.
func (l *Loop) expandRecurrence(ctx context.Context, t domain.ScheduledTask) {
	template := t
	if t.Recurrence == nil {
		if t.ParentScheduleID == "" {
			return
		}
		parent, err := l.store.Get(ctx, t.ParentScheduleID)
		if err != nil {
			l.logPollError(err, "load recurrence template")
			return
		}
		template = parent
	}
	if template.Recurrence == nil {
		return
	}
	if template.ID != t.ID && template.Status == domain.StatusCancelled && template.CancelReason != lifecycle.ReasonRetriesExhausted && template.CancelReason != lifecycle.ReasonNonRetryable {
		return
	}

	instances, err := l.store.CountInstances(ctx, template.ID)
	if err != nil {
		l.logPollError(err, "count recurrence instances")
		return
	}
	// The template's own execution is the first occurrence.
	occurrences := instances + 1

	next, err := l.expander.Next(template.Recurrence, t.ScheduledFor, occurrences)
	if err == domain.ErrRecurrenceEnded {
		log.Info().Str("template_id", template.ID).Msg("recurrence series ended")
		return
	}
	if err != nil {
		log.Error().Err(err).Str("template_id", template.ID).Msg("recurrence expansion failed")
		return
	}

	now := l.clock.Now()
	instance := domain.ScheduledTask{
		CustomerID:       template.CustomerID,
		Platform:         template.Platform,
		EntityType:       template.EntityType,
		EntityID:         template.EntityID,
		ScheduledFor:     next,
		Status:           domain.StatusPending,
		Priority:         template.Priority,
		ParentScheduleID: template.ID,
		Tags:             template.Tags,
		Notes:            template.Notes,
		CreatedBy:        template.CreatedBy,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := l.store.Create(ctx, &instance); err != nil {
		l.logPollError(err, "create recurrence instance")
		return
	}
	l.collector.RecordScheduled()
	log.Info().
		Str("template_id", template.ID).
		Str("task_id", instance.ID).
		Time("scheduled_for", next).
		Msg("next occurrence scheduled")
}

// logPollError throttles repeated infrastructure errors so a down store does
// not flood the log every tick.
func (l *Loop) logPollError(err error, op string) {
	if l.errLogs.Allow() {
		log.Error().Err(err).Str("op", op).Msg(op + " failed")
	}
}

// groupByKey splits tasks by customer+platform, preserving the store's
// dispatch order inside each group.
func groupByKey(tasks []domain.ScheduledTask) [][]domain.ScheduledTask {
	byKey := make(map[string][]domain.ScheduledTask)
	var order []string
	for _, t := range tasks {
		k := t.RateKey()
		if _, seen := byKey[k]; !seen {
			order = append(order, k)
		}
		byKey[k] = append(byKey[k], t)
	}
	groups := make([][]domain.ScheduledTask, 0, len(order))
	for _, k := range order {
		groups = append(groups, byKey[k])
	}
	return groups
}
