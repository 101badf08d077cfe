// Package countdown runs the wall-clock anchored expiry windows of a trade.
package countdown

import (
	"sync"
	"time"

	"github.com/escrowchat/tradecoord/internal/core/domain"
	log "github.com/sirupsen/logrus"
)

// ExpiryHandler is called once when a running window reaches zero.
type ExpiryHandler func(window domain.Window)

// Manager runs at most one countdown at a time. Every Start or Resume
// invalidates the previous countdown, so that a handler fires at most once
// per start.
type Manager struct {
	clock    Clock
	onExpire ExpiryHandler

	lock       *sync.Mutex
	state      domain.TimerState
	timer      Timer
	generation uint64
}

func NewManager(clock Clock, onExpire ExpiryHandler) *Manager {
	if clock == nil {
		clock = SystemClock
	}
	return &Manager{
		clock:    clock,
		onExpire: onExpire,
		lock:     &sync.Mutex{},
	}
}

// Start begins a new countdown of the given window and duration, replacing
// the running one.
func (m *Manager) Start(window domain.Window, d time.Duration) domain.TimerState {
	state := domain.NewTimerState(window, d, m.clock.Now())
	m.schedule(state, d)
	return state
}

// Resume restarts a persisted countdown. A countdown that already ran out
// while the process was down fires immediately.
func (m *Manager) Resume(state domain.TimerState) domain.TimerState {
	if !state.IsActive {
		m.Stop()
		return state
	}
	now := m.clock.Now()
	remaining := state.Remaining(now)
	resumed := domain.TimerState{
		Window:           state.Window,
		IsActive:         true,
		RemainingSeconds: int64(remaining / time.Second),
		AnchoredAt:       now,
	}
	log.Debugf("resuming %s window with %s left", state.Window, remaining)
	m.schedule(resumed, remaining)
	return resumed
}

// Stop cancels the running countdown without firing it.
func (m *Manager) Stop() {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.generation++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.state = domain.TimerState{}
}

// State returns the countdown as seen now.
func (m *Manager) State() domain.TimerState {
	m.lock.Lock()
	defer m.lock.Unlock()

	return m.state.Read(m.clock.Now())
}

// schedule fires after d, which is exact while the state only keeps whole
// seconds.
func (m *Manager) schedule(state domain.TimerState, d time.Duration) {
	m.lock.Lock()
	m.generation++
	gen := m.generation
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.state = state
	m.lock.Unlock()

	// The clock may run f synchronously, so it is scheduled without holding
	// the lock.
	t := m.clock.AfterFunc(d, func() { m.fire(gen) })

	m.lock.Lock()
	defer m.lock.Unlock()
	if m.generation == gen && m.state.IsActive {
		m.timer = t
		return
	}
	t.Stop()
}

func (m *Manager) fire(gen uint64) {
	m.lock.Lock()
	if gen != m.generation || !m.state.IsActive {
		m.lock.Unlock()
		return
	}
	window := m.state.Window
	m.state = domain.TimerState{Window: window, AnchoredAt: m.clock.Now()}
	m.timer = nil
	m.lock.Unlock()

	log.Debugf("%s window expired", window)
	if m.onExpire != nil {
		m.onExpire(window)
	}
}
