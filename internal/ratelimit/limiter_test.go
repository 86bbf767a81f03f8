package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contentflow/internal/config"
	"contentflow/internal/domain"
)

var start = time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC)

func limits(perHour, perDay int, minInterval time.Duration) map[domain.Platform]config.PlatformLimits {
	return map[domain.Platform]config.PlatformLimits{
		domain.PlatformReddit: {MaxPerHour: perHour, MaxPerDay: perDay, MinInterval: minInterval},
	}
}

func TestMinInterval(t *testing.T) {
	l := New(limits(100, 1000, 10*time.Minute))

	ok, _ := l.Admit("c1", domain.PlatformReddit, start)
	require.True(t, ok)

	ok, retryAt := l.Admit("c1", domain.PlatformReddit, start.Add(5*time.Minute))
	require.False(t, ok)
	assert.Equal(t, start.Add(10*time.Minute), retryAt)

	ok, _ = l.Admit("c1", domain.PlatformReddit, start.Add(10*time.Minute))
	assert.True(t, ok)
}

func TestHourlyCeilingRollingWindow(t *testing.T) {
	// No rolling 60-minute window may ever see more than maxPerHour
	// admissions, regardless of how requests are spaced.
	const maxPerHour = 3
	l := New(limits(maxPerHour, 1000, 0))

	var admitted []time.Time
	at := start
	for i := 0; i < 200; i++ {
		if ok, _ := l.Admit("c1", domain.PlatformReddit, at); ok {
			admitted = append(admitted, at)
		}
		at = at.Add(7 * time.Minute)
	}

	require.NotEmpty(t, admitted)
	for i, a := range admitted {
		inWindow := 0
		for _, b := range admitted[i:] {
			if b.Sub(a) < time.Hour {
				inWindow++
			}
		}
		assert.LessOrEqual(t, inWindow, maxPerHour, "window starting at %s", a)
	}
}

func TestHourlyRejectionReturnsReleaseInstant(t *testing.T) {
	l := New(limits(2, 1000, 0))

	ok, _ := l.Admit("c1", domain.PlatformReddit, start)
	require.True(t, ok)
	ok, _ = l.Admit("c1", domain.PlatformReddit, start.Add(10*time.Minute))
	require.True(t, ok)

	at := start.Add(20 * time.Minute)
	ok, retryAt := l.Admit("c1", domain.PlatformReddit, at)
	require.False(t, ok)
	// The oldest admission in the hour must age out first.
	assert.Equal(t, start.Add(time.Hour), retryAt)

	ok, _ = l.Admit("c1", domain.PlatformReddit, retryAt.Add(time.Second))
	assert.True(t, ok)
}

func TestDailyCeiling(t *testing.T) {
	l := New(limits(100, 4, 0))

	at := start
	for i := 0; i < 4; i++ {
		ok, _ := l.Admit("c1", domain.PlatformReddit, at)
		require.True(t, ok, "admission %d", i)
		at = at.Add(2 * time.Hour)
	}

	ok, retryAt := l.Admit("c1", domain.PlatformReddit, at)
	require.False(t, ok)
	assert.Equal(t, start.Add(24*time.Hour), retryAt)

	ok, _ = l.Admit("c1", domain.PlatformReddit, start.Add(24*time.Hour+time.Second))
	assert.True(t, ok)
}

func TestKeysAreIndependent(t *testing.T) {
	l := New(limits(1, 10, time.Hour))

	ok, _ := l.Admit("c1", domain.PlatformReddit, start)
	require.True(t, ok)

	// Different customer, same platform.
	ok, _ = l.Admit("c2", domain.PlatformReddit, start)
	assert.True(t, ok)

	// Unconfigured platform is never limited.
	ok, _ = l.Admit("c1", domain.PlatformQuora, start)
	assert.True(t, ok)
}

func TestCheckDoesNotConsume(t *testing.T) {
	l := New(limits(1, 10, 0))

	for i := 0; i < 5; i++ {
		ok, _ := l.Check("c1", domain.PlatformReddit, start)
		require.True(t, ok)
	}

	ok, _ := l.Admit("c1", domain.PlatformReddit, start)
	require.True(t, ok)

	ok, _ = l.Check("c1", domain.PlatformReddit, start.Add(time.Minute))
	assert.False(t, ok)
}

func TestCheckFarAheadKeepsHistory(t *testing.T) {
	// Scheduling-time checks routinely ask about instants days out. They must
	// not age out the stored admissions, or the next dispatch over-admits
	// past the hourly ceiling.
	const maxPerHour = 3
	l := New(limits(maxPerHour, 1000, 0))

	for i := 0; i < maxPerHour; i++ {
		ok, _ := l.Admit("c1", domain.PlatformReddit, start.Add(time.Duration(i)*time.Minute))
		require.True(t, ok, "admission %d", i)
	}
	ok, _ := l.Admit("c1", domain.PlatformReddit, start.Add(3*time.Minute))
	require.False(t, ok, "hourly ceiling reached")

	ok, _ = l.Check("c1", domain.PlatformReddit, start.Add(72*time.Hour))
	assert.True(t, ok, "far-future instant has a clear window")

	ok, _ = l.Admit("c1", domain.PlatformReddit, start.Add(6*time.Minute))
	assert.False(t, ok, "the rolling hour still holds maxPerHour admissions")
}

func TestConcurrentAdmitNeverOverAdmits(t *testing.T) {
	const maxPerHour = 10
	l := New(limits(maxPerHour, 1000, 0))

	results := make(chan bool, 100)
	for i := 0; i < 100; i++ {
		go func() {
			ok, _ := l.Admit("c1", domain.PlatformReddit, start)
			results <- ok
		}()
	}

	admitted := 0
	for i := 0; i < 100; i++ {
		if <-results {
			admitted++
		}
	}
	assert.Equal(t, maxPerHour, admitted)
}
