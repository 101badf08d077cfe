package domain

import "time"

// Window identifies which countdown a TimerState refers to.
type Window string

const (
	// WindowNone is used for a trade without running countdown.
	WindowNone Window = ""
	// WindowResponse is the seller-initiated window during which the
	// counterpart must accept the trade.
	WindowResponse Window = "response"
	// WindowFundLock is the buyer-initiated window that starts once funds are
	// locked in escrow.
	WindowFundLock Window = "fund_lock"
)

const (
	DefaultResponseWindow = 900 * time.Second
	DefaultFundLockWindow = 300 * time.Second
)

// TimerState is a wall-clock anchored countdown, so that the remaining time
// survives reloads.
type TimerState struct {
	Window           Window    `json:"window"`
	IsActive         bool      `json:"is_active"`
	RemainingSeconds int64     `json:"remaining_seconds"`
	AnchoredAt       time.Time `json:"anchored_at"`
}

// NewTimerState returns an active countdown of the given duration anchored at
// now.
func NewTimerState(window Window, d time.Duration, now time.Time) TimerState {
	return TimerState{
		Window:           window,
		IsActive:         true,
		RemainingSeconds: int64(d / time.Second),
		AnchoredAt:       now,
	}
}

// Remaining returns max(0, remaining - elapsed since anchor).
func (t TimerState) Remaining(now time.Time) time.Duration {
	if !t.IsActive {
		return 0
	}
	elapsed := now.Sub(t.AnchoredAt)
	if elapsed < 0 {
		elapsed = 0
	}
	left := time.Duration(t.RemainingSeconds)*time.Second - elapsed
	if left < 0 {
		return 0
	}
	return left
}

// Read recomputes the countdown at now and re-anchors it there. A countdown
// that reached zero is reported inactive.
func (t TimerState) Read(now time.Time) TimerState {
	if !t.IsActive {
		return t
	}
	left := t.Remaining(now)
	secs := int64(left / time.Second)
	return TimerState{
		Window:           t.Window,
		IsActive:         left > 0,
		RemainingSeconds: secs,
		AnchoredAt:       now,
	}
}

// IsExpired returns whether an active countdown has no time left at now.
func (t TimerState) IsExpired(now time.Time) bool {
	return t.IsActive && t.Remaining(now) <= 0
}
