// Package recurrence turns a RecurrencePattern into the next concrete
// execution instant.
package recurrence

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"contentflow/internal/domain"
)

// Expander computes occurrences in the pattern's declared timezone and
// normalizes them to absolute instants.
type Expander struct{}

func NewExpander() *Expander { return &Expander{} }

// Next returns the occurrence following prev. occurrences is how many
// instances the template has produced so far, counted against
// MaxOccurrences. Returns domain.ErrRecurrenceEnded once the end condition
// is reached.
func (e *Expander) Next(p *domain.RecurrencePattern, prev time.Time, occurrences int) (time.Time, error) {
	if p == nil || p.Type == domain.RecurrenceOnce {
		return time.Time{}, domain.ErrRecurrenceEnded
	}
	if p.MaxOccurrences > 0 && occurrences >= p.MaxOccurrences {
		return time.Time{}, domain.ErrRecurrenceEnded
	}

	loc, err := location(p.Timezone)
	if err != nil {
		return time.Time{}, err
	}
	local := prev.In(loc)

	var next time.Time
	switch p.Type {
	case domain.RecurrenceDaily:
		next, err = e.nextDaily(p, local, loc)
	case domain.RecurrenceWeekly:
		next, err = e.nextWeekly(p, local, loc)
	case domain.RecurrenceMonthly:
		next, err = e.nextMonthly(p, local, loc)
	case domain.RecurrenceCron:
		next, err = e.nextCron(p, local)
	default:
		return time.Time{}, domain.Validationf("unknown recurrence type %q", p.Type)
	}
	if err != nil {
		return time.Time{}, err
	}

	if p.EndsAt != nil && next.After(*p.EndsAt) {
		return time.Time{}, domain.ErrRecurrenceEnded
	}
	return next.UTC(), nil
}

// Validate rejects patterns the expander cannot evaluate.
func (e *Expander) Validate(p *domain.RecurrencePattern) error {
	if p == nil {
		return nil
	}
	if _, err := location(p.Timezone); err != nil {
		return err
	}
	switch p.Type {
	case domain.RecurrenceOnce:
		return nil
	case domain.RecurrenceDaily:
		_, _, err := timeOfDay(p.TimeOfDay)
		return err
	case domain.RecurrenceWeekly:
		if len(p.DaysOfWeek) == 0 {
			return domain.Validationf("weekly recurrence needs days_of_week")
		}
		for _, d := range p.DaysOfWeek {
			if d < 0 || d > 6 {
				return domain.Validationf("day_of_week %d out of range", d)
			}
		}
		_, _, err := timeOfDay(p.TimeOfDay)
		return err
	case domain.RecurrenceMonthly:
		if p.DayOfMonth < 1 || p.DayOfMonth > 31 {
			return domain.Validationf("day_of_month %d out of range", p.DayOfMonth)
		}
		_, _, err := timeOfDay(p.TimeOfDay)
		return err
	case domain.RecurrenceCron:
		if _, err := cron.ParseStandard(p.CronExpr); err != nil {
			return domain.Validationf("invalid cron expression %q: %v", p.CronExpr, err)
		}
		return nil
	}
	return domain.Validationf("unknown recurrence type %q", p.Type)
}

func (e *Expander) nextDaily(p *domain.RecurrencePattern, local time.Time, loc *time.Location) (time.Time, error) {
	hour, min, err := timeOfDay(p.TimeOfDay)
	if err != nil {
		return time.Time{}, err
	}
	day := local.AddDate(0, 0, 1)
	return time.Date(day.Year(), day.Month(), day.Day(), hour, min, 0, 0, loc), nil
}

func (e *Expander) nextWeekly(p *domain.RecurrencePattern, local time.Time, loc *time.Location) (time.Time, error) {
	hour, min, err := timeOfDay(p.TimeOfDay)
	if err != nil {
		return time.Time{}, err
	}
	allowed := make(map[time.Weekday]bool, len(p.DaysOfWeek))
	for _, d := range p.DaysOfWeek {
		allowed[time.Weekday(d)] = true
	}
	// Walk forward at most a week plus one day; the same weekday at a later
	// time-of-day still counts as today.
	for i := 0; i <= 7; i++ {
		day := local.AddDate(0, 0, i)
		candidate := time.Date(day.Year(), day.Month(), day.Day(), hour, min, 0, 0, loc)
		if allowed[candidate.Weekday()] && candidate.After(local) {
			return candidate, nil
		}
	}
	return time.Time{}, domain.Validationf("weekly recurrence has no matching day")
}

func (e *Expander) nextMonthly(p *domain.RecurrencePattern, local time.Time, loc *time.Location) (time.Time, error) {
	hour, min, err := timeOfDay(p.TimeOfDay)
	if err != nil {
		return time.Time{}, err
	}
	year, month := local.Year(), local.Month()
	for i := 0; i < 2; i++ {
		day := p.DayOfMonth
		if last := daysIn(year, month); day > last {
			day = last
		}
		candidate := time.Date(year, month, day, hour, min, 0, 0, loc)
		if candidate.After(local) {
			return candidate, nil
		}
		month++
		if month > time.December {
			month = time.January
			year++
		}
	}
	return time.Time{}, domain.Validationf("monthly recurrence produced no next occurrence")
}

func (e *Expander) nextCron(p *domain.RecurrencePattern, local time.Time) (time.Time, error) {
	sched, err := cron.ParseStandard(p.CronExpr)
	if err != nil {
		return time.Time{}, domain.Validationf("invalid cron expression %q: %v", p.CronExpr, err)
	}
	return sched.Next(local), nil
}

func location(tz string) (*time.Location, error) {
	if tz == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, domain.Validationf("unknown timezone %q", tz)
	}
	return loc, nil
}

func timeOfDay(s string) (hour, min int, err error) {
	if s == "" {
		return 0, 0, domain.Validationf("time_of_day is required")
	}
	if _, err := fmt.Sscanf(s, "%d:%d", &hour, &min); err != nil {
		return 0, 0, domain.Validationf("invalid time_of_day %q", s)
	}
	if hour < 0 || hour > 23 || min < 0 || min > 59 {
		return 0, 0, domain.Validationf("time_of_day %q out of range", s)
	}
	return hour, min, nil
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
