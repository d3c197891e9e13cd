// ABOUTME: Per-user human-takeover windows with an advisor alert cooldown.
// ABOUTME: While a window is active the dialogue engine is bypassed for that user.

package handoff

import (
	"sync"
	"time"
)

// Arbiter tracks which users are under live human control. The window is
// an absolute deadline: activation sets it, expiry or an explicit
// deactivation clears it. A cooldown guards the advisor channel against
// repeated alerts for the same session in a short period.
type Arbiter struct {
	mu       sync.Mutex
	until    map[string]time.Time
	alerted  map[string]time.Time
	cooldown time.Duration

	// now is swappable for tests.
	now func() time.Time
}

// New creates an arbiter with the given advisor alert cooldown.
func New(cooldown time.Duration) *Arbiter {
	return &Arbiter{
		until:    make(map[string]time.Time),
		alerted:  make(map[string]time.Time),
		cooldown: cooldown,
		now:      time.Now,
	}
}

// ActivateHuman opens (or extends) the human window for id.
func (a *Arbiter) ActivateHuman(id string, duration time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.until[id] = a.now().Add(duration)
}

// IsHumanActive reports whether id is currently under human control.
func (a *Arbiter) IsHumanActive(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	deadline, ok := a.until[id]
	if !ok {
		return false
	}
	if a.now().After(deadline) {
		delete(a.until, id)
		return false
	}
	return true
}

// DeactivateHuman ends the human window for id immediately.
func (a *Arbiter) DeactivateHuman(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.until, id)
}

// ShouldAlert reports whether an advisor alert may fire for id and, when
// allowed, records the alert time. Repeated requests inside the cooldown
// window return false.
func (a *Arbiter) ShouldAlert(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.now()
	if last, ok := a.alerted[id]; ok && now.Sub(last) < a.cooldown {
		return false
	}
	a.alerted[id] = now
	return true
}

// HumanUntil returns the window deadline for id, or the zero time when
// no window is active.
func (a *Arbiter) HumanUntil(id string) time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.until[id]
}
