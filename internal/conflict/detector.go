// Package conflict finds scheduling collisions for a proposed execution time.
package conflict

import (
	"context"
	"fmt"
	"time"

	"contentflow/internal/clock"
	"contentflow/internal/config"
	"contentflow/internal/domain"
	"contentflow/internal/ratelimit"
	"contentflow/internal/store"
)

// Detector scans a customer's tasks on one platform for buffer violations
// around a proposed time. Read-only; callers decide whether to proceed when
// conflicts are warnings, or force past them.
type Detector struct {
	store   store.ScheduleStore
	limiter *ratelimit.Limiter
	clock   clock.Clock

	buffer       time.Duration
	minIntervals map[domain.Platform]time.Duration
}

func NewDetector(st store.ScheduleStore, limiter *ratelimit.Limiter, clk clock.Clock, cfg *config.Config) *Detector {
	minIntervals := make(map[domain.Platform]time.Duration, len(cfg.Platforms))
	for p, lim := range cfg.Platforms {
		minIntervals[p] = lim.MinInterval
	}
	return &Detector{
		store:        st,
		limiter:      limiter,
		clock:        clk,
		buffer:       cfg.Buffer(),
		minIntervals: minIntervals,
	}
}

// FindConflicts reports every conflict for scheduling at proposedTime.
// excludeID skips one task, used when rechecking a reschedule of that task.
// The scan reaches one suggestion step past the buffer so the suggested
// time can be verified against its own neighbors.
func (d *Detector) FindConflicts(ctx context.Context, customerID string, platform domain.Platform, proposedTime time.Time, excludeID string) ([]domain.ScheduleConflict, error) {
	scan := d.suggestStep(platform) + d.buffer
	nearby, err := d.store.FindWindow(ctx, customerID, platform, proposedTime.Add(-scan), proposedTime.Add(scan))
	if err != nil {
		return nil, fmt.Errorf("scan schedule window: %w", err)
	}

	var conflicts []domain.ScheduleConflict
	var suggested time.Time
	for _, t := range nearby {
		if t.ID == excludeID || t.Status.Terminal() {
			continue
		}
		gap := absGap(proposedTime, t.ScheduledFor)
		if gap > d.buffer {
			continue
		}
		if suggested.IsZero() {
			suggested = d.suggest(platform, proposedTime, nearby, excludeID)
		}
		conflicts = append(conflicts, d.classify(t, platform, gap, suggested))
	}

	if ok, retryAt := d.limiter.Check(customerID, platform, proposedTime); !ok {
		conflicts = append(conflicts, domain.ScheduleConflict{
			Kind:          domain.ConflictRateLimit,
			Severity:      domain.SeverityBlocking,
			Message:       fmt.Sprintf("%s rate limit reached for customer %s", platform, customerID),
			SuggestedTime: &retryAt,
		})
	}
	return conflicts, nil
}

func (d *Detector) classify(t domain.ScheduledTask, platform domain.Platform, gap time.Duration, suggested time.Time) domain.ScheduleConflict {
	if gap == 0 {
		return domain.ScheduleConflict{
			ConflictingID: t.ID,
			Kind:          domain.ConflictSameTime,
			Severity:      domain.SeverityBlocking,
			Message:       fmt.Sprintf("task %s already scheduled at the same instant", t.ID),
			SuggestedTime: &suggested,
		}
	}

	// Inside the buffer. A platform minimum interval wider than the gap
	// upgrades the violation from warning to blocking.
	severity := domain.SeverityWarning
	kind := domain.ConflictBufferViolation
	if min := d.minIntervals[platform]; min > 0 && gap < min {
		severity = domain.SeverityBlocking
		kind = domain.ConflictPlatformLimit
	}
	return domain.ScheduleConflict{
		ConflictingID: t.ID,
		Kind:          kind,
		Severity:      severity,
		Message:       fmt.Sprintf("task %s scheduled %s away, inside the %s buffer", t.ID, gap, d.buffer),
		SuggestedTime: &suggested,
	}
}

// suggest proposes the nearest slot that clears every scanned task: one step
// earlier when that keeps the time in the future and free, otherwise stepping
// later until a free instant is found.
func (d *Detector) suggest(platform domain.Platform, proposedTime time.Time, nearby []domain.ScheduledTask, excludeID string) time.Time {
	step := d.suggestStep(platform)
	if earlier := proposedTime.Add(-step); earlier.After(d.clock.Now()) && d.free(earlier, platform, nearby, excludeID) {
		return earlier
	}
	later := proposedTime.Add(step)
	for !d.free(later, platform, nearby, excludeID) {
		later = later.Add(step)
	}
	return later
}

// suggestStep is the spacing a suggestion needs from its neighbors: strictly
// past the buffer, whose boundary the window scan treats as a conflict, and
// at least the platform minimum interval.
func (d *Detector) suggestStep(platform domain.Platform) time.Duration {
	step := d.buffer + time.Minute
	if min := d.minIntervals[platform]; min > step {
		step = min
	}
	return step
}

func (d *Detector) free(at time.Time, platform domain.Platform, nearby []domain.ScheduledTask, excludeID string) bool {
	min := d.minIntervals[platform]
	for _, t := range nearby {
		if t.ID == excludeID || t.Status.Terminal() {
			continue
		}
		gap := absGap(at, t.ScheduledFor)
		if gap <= d.buffer || (min > 0 && gap < min) {
			return false
		}
	}
	return true
}

func absGap(a, b time.Time) time.Duration {
	gap := a.Sub(b)
	if gap < 0 {
		return -gap
	}
	return gap
}
