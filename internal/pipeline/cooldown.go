package pipeline

import "time"

// DefaultCooldown is the alert suppression window
const DefaultCooldown = 30 * time.Second

// CooldownState is the observable state of an AlertCooldown
type CooldownState string

const (
	CooldownIdle       CooldownState = "idle"
	CooldownSuppressed CooldownState = "suppressed"
)

// AlertCooldown suppresses alerts until a stored deadline passes. The
// deadline is a plain value compared against the caller's clock, so there
// is nothing to cancel and re-triggering simply moves the deadline.
//
// AlertCooldown is owned by the verification loop and is not safe for
// concurrent use.
type AlertCooldown struct {
	duration time.Duration
	deadline time.Time
}

// NewAlertCooldown creates an idle cooldown. A non-positive duration falls
// back to DefaultCooldown.
func NewAlertCooldown(duration time.Duration) *AlertCooldown {
	if duration <= 0 {
		duration = DefaultCooldown
	}
	return &AlertCooldown{duration: duration}
}

// Trigger starts a suppression window at now and returns its deadline
func (c *AlertCooldown) Trigger(now time.Time) time.Time {
	c.deadline = now.Add(c.duration)
	return c.deadline
}

// Suppressed reports whether now falls before the deadline
func (c *AlertCooldown) Suppressed(now time.Time) bool {
	return now.Before(c.deadline)
}

// State returns the state at now
func (c *AlertCooldown) State(now time.Time) CooldownState {
	if c.Suppressed(now) {
		return CooldownSuppressed
	}
	return CooldownIdle
}

// Deadline returns the last deadline, zero if never triggered
func (c *AlertCooldown) Deadline() time.Time {
	return c.deadline
}

// Duration returns the window applied by the next Trigger
func (c *AlertCooldown) Duration() time.Duration {
	return c.duration
}

// SetDuration changes the window for future triggers. An active window
// keeps its deadline.
func (c *AlertCooldown) SetDuration(d time.Duration) {
	if d > 0 {
		c.duration = d
	}
}
