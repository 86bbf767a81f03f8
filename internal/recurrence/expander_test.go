package recurrence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contentflow/internal/domain"
)

func TestNextDaily(t *testing.T) {
	e := NewExpander()
	p := &domain.RecurrencePattern{Type: domain.RecurrenceDaily, TimeOfDay: "09:00"}
	prev := time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC)

	next, err := e.Next(p, prev, 1)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 2, 3, 9, 0, 0, 0, time.UTC), next)
}

func TestNextWeeklyMonWedFri(t *testing.T) {
	// Repeated expansion from a Monday start must yield exactly Mon, Wed,
	// Fri at 09:00 with no skipped or duplicated day.
	e := NewExpander()
	p := &domain.RecurrencePattern{
		Type:       domain.RecurrenceWeekly,
		TimeOfDay:  "09:00",
		DaysOfWeek: []int{1, 3, 5},
	}

	at := time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC) // a Monday
	require.Equal(t, time.Monday, at.Weekday())

	want := []time.Time{
		time.Date(2026, 2, 4, 9, 0, 0, 0, time.UTC),  // Wed
		time.Date(2026, 2, 6, 9, 0, 0, 0, time.UTC),  // Fri
		time.Date(2026, 2, 9, 9, 0, 0, 0, time.UTC),  // Mon
		time.Date(2026, 2, 11, 9, 0, 0, 0, time.UTC), // Wed
		time.Date(2026, 2, 13, 9, 0, 0, 0, time.UTC), // Fri
		time.Date(2026, 2, 16, 9, 0, 0, 0, time.UTC), // Mon
	}
	for i, expect := range want {
		next, err := e.Next(p, at, i+1)
		require.NoError(t, err, "step %d", i)
		assert.Equal(t, expect, next, "step %d", i)
		at = next
	}
}

func TestNextMonthlyClampsToShortMonths(t *testing.T) {
	e := NewExpander()
	p := &domain.RecurrencePattern{
		Type:       domain.RecurrenceMonthly,
		TimeOfDay:  "12:00",
		DayOfMonth: 31,
	}

	jan := time.Date(2026, 1, 31, 12, 0, 0, 0, time.UTC)
	feb, err := e.Next(p, jan, 1)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 2, 28, 12, 0, 0, 0, time.UTC), feb)

	mar, err := e.Next(p, feb, 2)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC), mar)
}

func TestNextInTimezone(t *testing.T) {
	e := NewExpander()
	p := &domain.RecurrencePattern{
		Type:      domain.RecurrenceDaily,
		TimeOfDay: "09:00",
		Timezone:  "America/New_York",
	}
	// 2026-02-02 09:00 in New York is 14:00 UTC.
	prev := time.Date(2026, 2, 2, 14, 0, 0, 0, time.UTC)

	next, err := e.Next(p, prev, 1)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 2, 3, 14, 0, 0, 0, time.UTC), next)
}

func TestNextCron(t *testing.T) {
	e := NewExpander()
	p := &domain.RecurrencePattern{
		Type:     domain.RecurrenceCron,
		CronExpr: "30 8 * * *",
	}
	prev := time.Date(2026, 2, 2, 8, 30, 0, 0, time.UTC)

	next, err := e.Next(p, prev, 1)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 2, 3, 8, 30, 0, 0, time.UTC), next)
}

func TestEndConditions(t *testing.T) {
	e := NewExpander()

	t.Run("once never recurs", func(t *testing.T) {
		p := &domain.RecurrencePattern{Type: domain.RecurrenceOnce}
		_, err := e.Next(p, time.Now(), 1)
		require.ErrorIs(t, err, domain.ErrRecurrenceEnded)
	})

	t.Run("max occurrences reached", func(t *testing.T) {
		p := &domain.RecurrencePattern{Type: domain.RecurrenceDaily, TimeOfDay: "09:00", MaxOccurrences: 3}
		_, err := e.Next(p, time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC), 3)
		require.ErrorIs(t, err, domain.ErrRecurrenceEnded)

		_, err = e.Next(p, time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC), 2)
		require.NoError(t, err)
	})

	t.Run("ends at passed", func(t *testing.T) {
		endsAt := time.Date(2026, 2, 3, 0, 0, 0, 0, time.UTC)
		p := &domain.RecurrencePattern{Type: domain.RecurrenceDaily, TimeOfDay: "09:00", EndsAt: &endsAt}
		_, err := e.Next(p, time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC), 1)
		require.ErrorIs(t, err, domain.ErrRecurrenceEnded)
	})
}

func TestValidate(t *testing.T) {
	e := NewExpander()

	cases := []struct {
		name    string
		pattern *domain.RecurrencePattern
		ok      bool
	}{
		{"nil pattern", nil, true},
		{"once", &domain.RecurrencePattern{Type: domain.RecurrenceOnce}, true},
		{"daily", &domain.RecurrencePattern{Type: domain.RecurrenceDaily, TimeOfDay: "08:30"}, true},
		{"daily missing time", &domain.RecurrencePattern{Type: domain.RecurrenceDaily}, false},
		{"daily bad time", &domain.RecurrencePattern{Type: domain.RecurrenceDaily, TimeOfDay: "25:00"}, false},
		{"weekly", &domain.RecurrencePattern{Type: domain.RecurrenceWeekly, TimeOfDay: "09:00", DaysOfWeek: []int{1, 3, 5}}, true},
		{"weekly no days", &domain.RecurrencePattern{Type: domain.RecurrenceWeekly, TimeOfDay: "09:00"}, false},
		{"weekly day out of range", &domain.RecurrencePattern{Type: domain.RecurrenceWeekly, TimeOfDay: "09:00", DaysOfWeek: []int{7}}, false},
		{"monthly", &domain.RecurrencePattern{Type: domain.RecurrenceMonthly, TimeOfDay: "09:00", DayOfMonth: 15}, true},
		{"monthly day zero", &domain.RecurrencePattern{Type: domain.RecurrenceMonthly, TimeOfDay: "09:00"}, false},
		{"cron", &domain.RecurrencePattern{Type: domain.RecurrenceCron, CronExpr: "*/5 * * * *"}, true},
		{"cron invalid", &domain.RecurrencePattern{Type: domain.RecurrenceCron, CronExpr: "not a cron"}, false},
		{"bad timezone", &domain.RecurrencePattern{Type: domain.RecurrenceDaily, TimeOfDay: "09:00", Timezone: "Mars/Olympus"}, false},
		{"unknown type", &domain.RecurrencePattern{Type: "yearly"}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := e.Validate(tc.pattern)
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, domain.ErrValidation)
			}
		})
	}
}
