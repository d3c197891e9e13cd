// ABOUTME: Tests for the handoff arbiter windows and alert cooldown.
// ABOUTME: Uses an injected clock to validate expiry without sleeping.

package handoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestArbiter_ActivateAndCheck(t *testing.T) {
	a := New(time.Minute)

	assert.False(t, a.IsHumanActive("591700001"))

	a.ActivateHuman("591700001", 12*time.Hour)
	assert.True(t, a.IsHumanActive("591700001"))
	assert.False(t, a.IsHumanActive("591700002"), "windows are per user")
}

func TestArbiter_Deactivate(t *testing.T) {
	a := New(time.Minute)
	a.ActivateHuman("591700001", 12*time.Hour)

	a.DeactivateHuman("591700001")
	assert.False(t, a.IsHumanActive("591700001"))
}

func TestArbiter_WindowExpires(t *testing.T) {
	a := New(time.Minute)
	current := time.Now()
	a.now = func() time.Time { return current }

	a.ActivateHuman("591700001", time.Hour)
	assert.True(t, a.IsHumanActive("591700001"))

	current = current.Add(2 * time.Hour)
	assert.False(t, a.IsHumanActive("591700001"), "window is an absolute deadline")
}

func TestArbiter_ActivateExtendsWindow(t *testing.T) {
	a := New(time.Minute)
	current := time.Now()
	a.now = func() time.Time { return current }

	a.ActivateHuman("591700001", time.Hour)
	current = current.Add(30 * time.Minute)
	a.ActivateHuman("591700001", time.Hour)

	current = current.Add(45 * time.Minute)
	assert.True(t, a.IsHumanActive("591700001"), "re-activation extends the deadline")
}

func TestArbiter_ShouldAlert_Cooldown(t *testing.T) {
	a := New(10 * time.Minute)
	current := time.Now()
	a.now = func() time.Time { return current }

	assert.True(t, a.ShouldAlert("591700001"), "first alert fires")
	assert.False(t, a.ShouldAlert("591700001"), "second alert inside cooldown is suppressed")

	current = current.Add(11 * time.Minute)
	assert.True(t, a.ShouldAlert("591700001"), "alert fires again after cooldown")
}

func TestArbiter_ShouldAlert_PerUser(t *testing.T) {
	a := New(10 * time.Minute)

	assert.True(t, a.ShouldAlert("591700001"))
	assert.True(t, a.ShouldAlert("591700002"), "cooldown is per user")
}

func TestArbiter_HumanUntil(t *testing.T) {
	a := New(time.Minute)
	current := time.Now()
	a.now = func() time.Time { return current }

	assert.True(t, a.HumanUntil("591700001").IsZero())

	a.ActivateHuman("591700001", time.Hour)
	assert.Equal(t, current.Add(time.Hour), a.HumanUntil("591700001"))
}
