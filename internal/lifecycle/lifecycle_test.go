package lifecycle

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contentflow/internal/clock"
	"contentflow/internal/domain"
)

var baseTime = time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC)

func newLifecycle(t *testing.T, retry RetryPolicy) (*Lifecycle, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(baseTime)
	return New(clk, retry), clk
}

func pendingTask(at time.Time) domain.ScheduledTask {
	return domain.ScheduledTask{
		ID:           "sch_test",
		CustomerID:   "cust-1",
		Platform:     domain.PlatformReddit,
		EntityType:   domain.EntityRedditPost,
		EntityID:     "post-1",
		ScheduledFor: at,
		Status:       domain.StatusPending,
		Priority:     domain.PriorityNormal,
	}
}

func TestDispatch(t *testing.T) {
	lc, clk := newLifecycle(t, RetryPolicy{MaxRetries: 3, BaseDelay: 15 * time.Minute})

	t.Run("due pending task moves to running", func(t *testing.T) {
		got, err := lc.Dispatch(pendingTask(baseTime.Add(-time.Minute)))
		require.NoError(t, err)
		assert.Equal(t, domain.StatusRunning, got.Status)
	})

	t.Run("not yet due is rejected", func(t *testing.T) {
		_, err := lc.Dispatch(pendingTask(clk.Now().Add(time.Hour)))
		require.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("non-pending is rejected", func(t *testing.T) {
		tk := pendingTask(baseTime.Add(-time.Minute))
		tk.Status = domain.StatusRunning
		_, err := lc.Dispatch(tk)
		var ite *domain.InvalidTransitionError
		require.ErrorAs(t, err, &ite)
		assert.Equal(t, domain.StatusRunning, ite.From)
	})
}

func TestTransitionTable(t *testing.T) {
	lc, _ := newLifecycle(t, RetryPolicy{MaxRetries: 3, BaseDelay: 15 * time.Minute})
	res := domain.ExecutionResult{Success: true}
	failRes := domain.ExecutionResult{Error: &domain.ExecutionError{Code: "x", Retryable: true}}

	cases := []struct {
		name  string
		from  domain.Status
		apply func(domain.ScheduledTask) (domain.ScheduledTask, error)
		to    domain.Status
		ok    bool
	}{
		{"succeed from running", domain.StatusRunning, func(tk domain.ScheduledTask) (domain.ScheduledTask, error) { return lc.Succeed(tk, res) }, domain.StatusCompleted, true},
		{"fail from running", domain.StatusRunning, func(tk domain.ScheduledTask) (domain.ScheduledTask, error) { return lc.Fail(tk, failRes) }, domain.StatusFailed, true},
		{"succeed from pending rejected", domain.StatusPending, func(tk domain.ScheduledTask) (domain.ScheduledTask, error) { return lc.Succeed(tk, res) }, "", false},
		{"pause from pending", domain.StatusPending, lc.Pause, domain.StatusPaused, true},
		{"pause from failed rejected", domain.StatusFailed, lc.Pause, "", false},
		{"retry from failed", domain.StatusFailed, lc.Retry, domain.StatusPending, true},
		{"retry from completed rejected", domain.StatusCompleted, lc.Retry, "", false},
		{"cancel from pending", domain.StatusPending, func(tk domain.ScheduledTask) (domain.ScheduledTask, error) { return lc.Cancel(tk, "by test") }, domain.StatusCancelled, true},
		{"cancel from paused", domain.StatusPaused, func(tk domain.ScheduledTask) (domain.ScheduledTask, error) { return lc.Cancel(tk, "by test") }, domain.StatusCancelled, true},
		{"cancel from failed", domain.StatusFailed, func(tk domain.ScheduledTask) (domain.ScheduledTask, error) { return lc.Cancel(tk, "by test") }, domain.StatusCancelled, true},
		{"cancel from running rejected", domain.StatusRunning, func(tk domain.ScheduledTask) (domain.ScheduledTask, error) { return lc.Cancel(tk, "by test") }, "", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tk := pendingTask(baseTime.Add(-time.Minute))
			tk.Status = tc.from
			got, err := tc.apply(tk)
			if tc.ok {
				require.NoError(t, err)
				assert.Equal(t, tc.to, got.Status)
			} else {
				require.Error(t, err)
			}
		})
	}
}

func TestRetryExhaustion(t *testing.T) {
	// A task failing retryably three times at maxRetries=3 with fixed 15m
	// backoff ends cancelled with no retry scheduled.
	lc, clk := newLifecycle(t, RetryPolicy{MaxRetries: 3, BaseDelay: 15 * time.Minute})
	tk := pendingTask(baseTime.Add(-time.Minute))
	failRes := domain.ExecutionResult{Error: &domain.ExecutionError{Code: "flaky", Retryable: true}}

	for attempt := 1; attempt <= 3; attempt++ {
		var err error
		tk, err = lc.Dispatch(tk)
		require.NoError(t, err, "attempt %d", attempt)
		tk, err = lc.Fail(tk, failRes)
		require.NoError(t, err, "attempt %d", attempt)
		assert.Equal(t, attempt, tk.RetryCount)
		assert.LessOrEqual(t, tk.RetryCount, 3)

		if attempt < 3 {
			require.Equal(t, domain.StatusFailed, tk.Status)
			require.NotNil(t, tk.NextRetryAt)
			assert.Equal(t, clk.Now().Add(15*time.Minute), *tk.NextRetryAt)

			clk.Advance(15 * time.Minute)
			tk, err = lc.Retry(tk)
			require.NoError(t, err)
			assert.Equal(t, domain.StatusPending, tk.Status)
			assert.Nil(t, tk.NextRetryAt)
		}
	}

	assert.Equal(t, domain.StatusCancelled, tk.Status)
	assert.Equal(t, ReasonRetriesExhausted, tk.CancelReason)
	assert.Nil(t, tk.NextRetryAt)
}

func TestFailNonRetryable(t *testing.T) {
	lc, _ := newLifecycle(t, RetryPolicy{MaxRetries: 3, BaseDelay: 15 * time.Minute})
	tk := pendingTask(baseTime.Add(-time.Minute))
	tk, err := lc.Dispatch(tk)
	require.NoError(t, err)

	tk, err = lc.Fail(tk, domain.ExecutionResult{Error: &domain.ExecutionError{Code: "forbidden", Retryable: false}})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, tk.Status)
	assert.Equal(t, ReasonNonRetryable, tk.CancelReason)
	assert.Nil(t, tk.NextRetryAt)
}

func TestCancelTerminalIsRejected(t *testing.T) {
	lc, _ := newLifecycle(t, RetryPolicy{MaxRetries: 3, BaseDelay: time.Minute})
	tk := pendingTask(baseTime.Add(time.Hour))

	tk, err := lc.Cancel(tk, "first")
	require.NoError(t, err)

	_, err = lc.Cancel(tk, "second")
	require.ErrorIs(t, err, domain.ErrAlreadyTerminal)
	assert.Equal(t, "first", tk.CancelReason, "second cancel must not overwrite the reason")
}

func TestResume(t *testing.T) {
	lc, clk := newLifecycle(t, RetryPolicy{MaxRetries: 3, BaseDelay: time.Minute})

	t.Run("future original time needs no new time", func(t *testing.T) {
		tk := pendingTask(clk.Now().Add(2 * time.Hour))
		tk.Status = domain.StatusPaused
		got, err := lc.Resume(tk, nil)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusPending, got.Status)
	})

	t.Run("passed original time requires new time", func(t *testing.T) {
		tk := pendingTask(clk.Now().Add(-time.Hour))
		tk.Status = domain.StatusPaused
		_, err := lc.Resume(tk, nil)
		require.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("future new time succeeds", func(t *testing.T) {
		tk := pendingTask(clk.Now().Add(-time.Hour))
		tk.Status = domain.StatusPaused
		newTime := clk.Now().Add(3 * time.Hour)
		got, err := lc.Resume(tk, &newTime)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusPending, got.Status)
		assert.Equal(t, newTime, got.ScheduledFor)
	})

	t.Run("past new time is rejected", func(t *testing.T) {
		tk := pendingTask(clk.Now().Add(-time.Hour))
		tk.Status = domain.StatusPaused
		newTime := clk.Now().Add(-time.Minute)
		_, err := lc.Resume(tk, &newTime)
		require.ErrorIs(t, err, domain.ErrValidation)
	})
}

func TestBackoff(t *testing.T) {
	t.Run("fixed", func(t *testing.T) {
		p := RetryPolicy{MaxRetries: 5, BaseDelay: 15 * time.Minute}
		for n := 1; n <= 5; n++ {
			assert.Equal(t, 15*time.Minute, p.Backoff(n))
		}
	})

	t.Run("exponential doubles and caps", func(t *testing.T) {
		p := RetryPolicy{MaxRetries: 10, BaseDelay: time.Minute, Exponential: true, MaxDelay: 10 * time.Minute}
		assert.Equal(t, time.Minute, p.Backoff(1))
		assert.Equal(t, 2*time.Minute, p.Backoff(2))
		assert.Equal(t, 4*time.Minute, p.Backoff(3))
		assert.Equal(t, 8*time.Minute, p.Backoff(4))
		assert.Equal(t, 10*time.Minute, p.Backoff(5))
		assert.Equal(t, 10*time.Minute, p.Backoff(9))
	})
}

func TestInvalidTransitionErrorUnwrap(t *testing.T) {
	lc, _ := newLifecycle(t, RetryPolicy{MaxRetries: 1, BaseDelay: time.Minute})
	tk := pendingTask(baseTime)
	tk.Status = domain.StatusCompleted
	_, err := lc.Pause(tk)
	var ite *domain.InvalidTransitionError
	require.True(t, errors.As(err, &ite))
	assert.Equal(t, "pause", ite.Event)
}
