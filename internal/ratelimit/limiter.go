// Package ratelimit tracks per-customer, per-platform throughput against
// configured ceilings. Counters are sliding windows anchored to the admission
// instant; there is no explicit reset.
package ratelimit

import (
	"sync"
	"time"

	"contentflow/internal/config"
	"contentflow/internal/domain"
)

// Limiter admits or rejects execution attempts. All checks and increments for
// one (customer, platform) key happen inside that key's critical section, so
// concurrent workers cannot over-admit.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*window
	limits  map[domain.Platform]config.PlatformLimits
}

// window holds admission timestamps for one key, pruned lazily. Admissions
// older than a day no longer affect any ceiling.
type window struct {
	mu         sync.Mutex
	admissions []time.Time
}

func New(limits map[domain.Platform]config.PlatformLimits) *Limiter {
	return &Limiter{
		windows: make(map[string]*window),
		limits:  limits,
	}
}

// Admit records an execution attempt at the given instant if all ceilings
// allow it. On rejection it returns the earliest instant at which admission
// would succeed.
func (l *Limiter) Admit(customerID string, platform domain.Platform, at time.Time) (bool, time.Time) {
	lim, limited := l.limits[platform]
	if !limited {
		return true, time.Time{}
	}
	w := l.window(customerID, platform)
	w.mu.Lock()
	defer w.mu.Unlock()

	w.prune(at)
	if retryAt, ok := earliestAdmission(w.admissions, lim, at); !ok {
		return false, retryAt
	}
	w.admissions = append(w.admissions, at)
	return true, time.Time{}
}

// Check reports whether an attempt at the given instant would be admitted,
// without recording it. Used for scheduling-time validation. The proposal
// instant is often far in the future, so Check must never mutate the window:
// it evaluates a pruned view and leaves the stored history intact.
func (l *Limiter) Check(customerID string, platform domain.Platform, at time.Time) (bool, time.Time) {
	lim, limited := l.limits[platform]
	if !limited {
		return true, time.Time{}
	}
	w := l.window(customerID, platform)
	w.mu.Lock()
	defer w.mu.Unlock()

	if retryAt, ok := earliestAdmission(w.pruned(at), lim, at); !ok {
		return false, retryAt
	}
	return true, time.Time{}
}

func (l *Limiter) window(customerID string, platform domain.Platform) *window {
	key := customerID + "|" + string(platform)
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.windows[key]
	if !ok {
		w = &window{}
		l.windows[key] = w
	}
	return w
}

func (w *window) prune(at time.Time) {
	kept := w.pruned(at)
	if len(kept) != len(w.admissions) {
		w.admissions = append([]time.Time(nil), kept...)
	}
}

// pruned returns the admissions still inside the 24h horizon of at, without
// modifying the window.
func (w *window) pruned(at time.Time) []time.Time {
	cutoff := at.Add(-24 * time.Hour)
	for i, a := range w.admissions {
		if a.After(cutoff) {
			return w.admissions[i:]
		}
	}
	return nil
}

// earliestAdmission checks every ceiling at once. When one or more reject,
// the returned instant is the latest of the per-ceiling release times, since
// all ceilings must hold simultaneously.
func earliestAdmission(admissions []time.Time, lim config.PlatformLimits, at time.Time) (time.Time, bool) {
	var retryAt time.Time
	ok := true

	if lim.MinInterval > 0 && len(admissions) > 0 {
		last := admissions[len(admissions)-1]
		if at.Sub(last) < lim.MinInterval {
			ok = false
			retryAt = maxTime(retryAt, last.Add(lim.MinInterval))
		}
	}

	hourAgo := at.Add(-time.Hour)
	inHour := since(admissions, hourAgo)
	if lim.MaxPerHour > 0 && len(inHour) >= lim.MaxPerHour {
		ok = false
		// The oldest admission inside the hour must age out first.
		retryAt = maxTime(retryAt, inHour[0].Add(time.Hour))
	}

	if lim.MaxPerDay > 0 && len(admissions) >= lim.MaxPerDay {
		ok = false
		oldest := admissions[len(admissions)-lim.MaxPerDay]
		retryAt = maxTime(retryAt, oldest.Add(24*time.Hour))
	}

	if ok {
		return time.Time{}, true
	}
	return retryAt, false
}

// since returns admissions strictly after the cutoff, oldest first.
func since(admissions []time.Time, cutoff time.Time) []time.Time {
	for i, a := range admissions {
		if a.After(cutoff) {
			return admissions[i:]
		}
	}
	return nil
}

func maxTime(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
