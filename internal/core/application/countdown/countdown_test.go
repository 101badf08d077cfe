package countdown_test

import (
	"sync"
	"testing"
	"time"

	"github.com/escrowchat/tradecoord/internal/core/application/countdown"
	"github.com/escrowchat/tradecoord/internal/core/domain"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

type expiries struct {
	lock    sync.Mutex
	windows []domain.Window
}

func (e *expiries) handle(w domain.Window) {
	e.lock.Lock()
	defer e.lock.Unlock()
	e.windows = append(e.windows, w)
}

func (e *expiries) list() []domain.Window {
	e.lock.Lock()
	defer e.lock.Unlock()
	return append([]domain.Window{}, e.windows...)
}

func TestStartFiresOnce(t *testing.T) {
	clock := countdown.NewManualClock(t0)
	fired := &expiries{}
	m := countdown.NewManager(clock, fired.handle)

	state := m.Start(domain.WindowFundLock, 300*time.Second)
	require.True(t, state.IsActive)
	require.Equal(t, int64(300), state.RemainingSeconds)

	clock.Advance(100 * time.Second)
	require.Equal(t, int64(200), m.State().RemainingSeconds)
	require.Empty(t, fired.list())

	clock.Advance(250 * time.Second)
	require.Equal(t, []domain.Window{domain.WindowFundLock}, fired.list())
	require.False(t, m.State().IsActive)

	clock.Advance(time.Hour)
	require.Len(t, fired.list(), 1)
}

func TestRestartInvalidatesPrevious(t *testing.T) {
	clock := countdown.NewManualClock(t0)
	fired := &expiries{}
	m := countdown.NewManager(clock, fired.handle)

	m.Start(domain.WindowResponse, 900*time.Second)
	clock.Advance(800 * time.Second)
	m.Start(domain.WindowFundLock, 300*time.Second)

	clock.Advance(200 * time.Second)
	require.Empty(t, fired.list())

	clock.Advance(100 * time.Second)
	require.Equal(t, []domain.Window{domain.WindowFundLock}, fired.list())
}

func TestStop(t *testing.T) {
	clock := countdown.NewManualClock(t0)
	fired := &expiries{}
	m := countdown.NewManager(clock, fired.handle)

	m.Start(domain.WindowFundLock, 300*time.Second)
	m.Stop()
	clock.Advance(time.Hour)
	require.Empty(t, fired.list())
	require.False(t, m.State().IsActive)
}

func TestResume(t *testing.T) {
	persisted := domain.NewTimerState(domain.WindowFundLock, 300*time.Second, t0)

	t.Run("remaining", func(t *testing.T) {
		clock := countdown.NewManualClock(t0.Add(100 * time.Second))
		fired := &expiries{}
		m := countdown.NewManager(clock, fired.handle)

		state := m.Resume(persisted)
		require.True(t, state.IsActive)
		require.Equal(t, int64(200), state.RemainingSeconds)

		clock.Advance(199 * time.Second)
		require.Empty(t, fired.list())
		clock.Advance(time.Second)
		require.Len(t, fired.list(), 1)
	})

	t.Run("sub_second_left", func(t *testing.T) {
		short := domain.NewTimerState(domain.WindowResponse, time.Second, t0)
		clock := countdown.NewManualClock(t0.Add(100 * time.Millisecond))
		fired := &expiries{}
		m := countdown.NewManager(clock, fired.handle)

		state := m.Resume(short)
		require.True(t, state.IsActive)
		require.Empty(t, fired.list())

		clock.Advance(899 * time.Millisecond)
		require.Empty(t, fired.list())
		clock.Advance(time.Millisecond)
		require.Equal(t, []domain.Window{domain.WindowResponse}, fired.list())
	})

	t.Run("already_expired", func(t *testing.T) {
		clock := countdown.NewManualClock(t0.Add(350 * time.Second))
		fired := &expiries{}
		m := countdown.NewManager(clock, fired.handle)

		m.Resume(persisted)
		require.Equal(t, []domain.Window{domain.WindowFundLock}, fired.list())
		require.False(t, m.State().IsActive)
		require.Zero(t, m.State().RemainingSeconds)
	})

	t.Run("inactive", func(t *testing.T) {
		clock := countdown.NewManualClock(t0)
		fired := &expiries{}
		m := countdown.NewManager(clock, fired.handle)

		m.Resume(domain.TimerState{})
		clock.Advance(time.Hour)
		require.Empty(t, fired.list())
	})
}

func TestSystemClock(t *testing.T) {
	done := make(chan domain.Window, 1)
	m := countdown.NewManager(nil, func(w domain.Window) { done <- w })

	m.Start(domain.WindowResponse, 10*time.Millisecond)
	select {
	case w := <-done:
		require.Equal(t, domain.WindowResponse, w)
	case <-time.After(2 * time.Second):
		t.Fatal("countdown did not expire")
	}
}
