package domain_test

import (
	"testing"
	"time"

	"github.com/escrowchat/tradecoord/internal/core/domain"
	"github.com/stretchr/testify/require"
)

func TestTimerStateRead(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	timer := domain.TimerState{
		Window:           domain.WindowFundLock,
		IsActive:         true,
		RemainingSeconds: 300,
		AnchoredAt:       t0,
	}

	t.Run("before_expiry", func(t *testing.T) {
		got := timer.Read(t0.Add(100 * time.Second))
		require.True(t, got.IsActive)
		require.Equal(t, int64(200), got.RemainingSeconds)
		require.False(t, timer.IsExpired(t0.Add(100*time.Second)))
	})

	t.Run("after_expiry", func(t *testing.T) {
		got := timer.Read(t0.Add(350 * time.Second))
		require.False(t, got.IsActive)
		require.Equal(t, int64(0), got.RemainingSeconds)
		require.True(t, timer.IsExpired(t0.Add(350*time.Second)))
	})

	t.Run("reanchored_read_is_stable", func(t *testing.T) {
		first := timer.Read(t0.Add(100 * time.Second))
		second := first.Read(t0.Add(150 * time.Second))
		require.Equal(t, int64(150), second.RemainingSeconds)
	})

	t.Run("clock_skew", func(t *testing.T) {
		got := timer.Read(t0.Add(-time.Minute))
		require.Equal(t, int64(300), got.RemainingSeconds)
	})

	t.Run("inactive", func(t *testing.T) {
		inactive := domain.TimerState{}
		require.Zero(t, inactive.Remaining(t0))
		require.False(t, inactive.IsExpired(t0))
	})
}
