package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAlertCooldown_IdleUntilTriggered(t *testing.T) {
	c := NewAlertCooldown(30 * time.Second)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	assert.False(t, c.Suppressed(now))
	assert.Equal(t, CooldownIdle, c.State(now))
	assert.True(t, c.Deadline().IsZero())
}

func TestAlertCooldown_SuppressesForWindow(t *testing.T) {
	c := NewAlertCooldown(30 * time.Second)
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	deadline := c.Trigger(start)

	assert.Equal(t, start.Add(30*time.Second), deadline)
	assert.True(t, c.Suppressed(start))
	assert.True(t, c.Suppressed(start.Add(29*time.Second+999*time.Millisecond)))
	assert.False(t, c.Suppressed(start.Add(30*time.Second)))
	assert.Equal(t, CooldownIdle, c.State(start.Add(31*time.Second)))
}

func TestAlertCooldown_RetriggerMovesDeadline(t *testing.T) {
	c := NewAlertCooldown(30 * time.Second)
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	c.Trigger(start)

	second := c.Trigger(start.Add(40 * time.Second))

	assert.Equal(t, start.Add(70*time.Second), second)
	assert.True(t, c.Suppressed(start.Add(69*time.Second)))
}

func TestAlertCooldown_DefaultsAndDurationChanges(t *testing.T) {
	c := NewAlertCooldown(0)
	assert.Equal(t, DefaultCooldown, c.Duration())

	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	c.Trigger(start)
	c.SetDuration(5 * time.Second)

	assert.True(t, c.Suppressed(start.Add(10*time.Second)), "active window keeps its deadline")
	assert.Equal(t, start.Add(45*time.Second), c.Trigger(start.Add(40*time.Second)))

	c.SetDuration(-time.Second)
	assert.Equal(t, 5*time.Second, c.Duration())
}
