package domain

import "time"

// EscalationPolicy holds the per-program tracking knobs. A zero LevelTimeout
// entry means the level is terminal (no further escalation).
type EscalationPolicy struct {
	DaysBeforeDeadline       int
	AlertTimeOfDay           string // "15:04" in the recipient's local zone
	TimeoutHoursPerLevel     [4]float64
	AutoApproveDelayUpToDays int
	BlockerImmediateEscalate bool
	ReminderAfterHours       float64
}

// DefaultEscalationPolicy mirrors the documented defaults: alert one
// business day ahead at 09:00 local, 4h/4h/2h timeouts with a terminal PM
// level, and no auto-approved delays.
func DefaultEscalationPolicy() EscalationPolicy {
	return EscalationPolicy{
		DaysBeforeDeadline:       1,
		AlertTimeOfDay:           "09:00",
		TimeoutHoursPerLevel:     [4]float64{4, 4, 2, 0},
		AutoApproveDelayUpToDays: 0,
		BlockerImmediateEscalate: true,
		ReminderAfterHours:       2,
	}
}

// TimeoutFor returns the escalation timeout for a level, or false when the
// level is terminal.
func (p EscalationPolicy) TimeoutFor(level int) (time.Duration, bool) {
	if level < 0 || level > 3 {
		return 0, false
	}
	h := p.TimeoutHoursPerLevel[level]
	if h <= 0 {
		return 0, false
	}
	return time.Duration(h * float64(time.Hour)), true
}

// ShouldEscalate reports whether an alert sent at sentAt has exceeded the
// timeout for its level.
func (p EscalationPolicy) ShouldEscalate(sentAt time.Time, level int, now time.Time) bool {
	timeout, ok := p.TimeoutFor(level)
	if !ok {
		return false
	}
	return !now.Before(sentAt.Add(timeout))
}

// OrgSettings holds the org-wide escalation fallbacks consulted when a
// program has no PM of its own.
type OrgSettings struct {
	DefaultPMResourceID     *string
	EscalationEmailFallback string
}
