package tradecache_test

import (
	"context"
	"testing"
	"time"

	"github.com/escrowchat/tradecoord/internal/core/application/tradecache"
	"github.com/escrowchat/tradecoord/internal/core/domain"
	"github.com/escrowchat/tradecoord/internal/infrastructure/storage/db/inmemory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var ctx = context.Background()

func TestSaveAndLoad(t *testing.T) {
	kv := inmemory.NewKVStore()
	t0 := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	now := t0
	store := tradecache.NewStore(kv, 0).WithClock(func() time.Time { return now })

	entry, err := store.Load(ctx)
	require.NoError(t, err)
	require.Nil(t, entry)

	trade := domain.NewTrade("chan", "seller", "buyer")
	trade.Phase = domain.PhaseTradeCreated
	trade.Price = decimal.NewFromInt(50)
	trade.InvoiceID = "INV123"
	trade.TransactionID = "TXN789"
	trade.Timer = domain.NewTimerState(
		domain.WindowFundLock, domain.DefaultFundLockWindow, t0,
	)
	require.NoError(t, store.Save(ctx, trade))

	now = t0.Add(100 * time.Second)
	entry, err = store.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, entry)
	require.Equal(t, trade.ID, entry.TradeID)
	require.Equal(t, "chan", entry.ChannelID)
	require.Equal(t, domain.PhaseTradeCreated, entry.Phase)
	require.Equal(t, domain.TransactionID("TXN789"), entry.TradeData.TransactionID)
	require.Equal(t, int64(200), entry.TimerState.Read(now).RemainingSeconds)
	require.True(t, trade.Price.Equal(entry.TradeData.Price))
}

func TestLoadDiscards(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	t.Run("stale", func(t *testing.T) {
		kv := inmemory.NewKVStore()
		now := t0
		store := tradecache.NewStore(kv, 0).WithClock(func() time.Time { return now })

		trade := domain.NewTrade("chan", "seller", "buyer")
		trade.Phase = domain.PhaseSellerReady
		require.NoError(t, store.Save(ctx, trade))

		now = t0.Add(25 * time.Hour)
		entry, err := store.Load(ctx)
		require.NoError(t, err)
		require.Nil(t, entry)

		buf, err := kv.Get(ctx, tradecache.CacheKey)
		require.NoError(t, err)
		require.Nil(t, buf)
	})

	t.Run("terminal", func(t *testing.T) {
		kv := inmemory.NewKVStore()
		store := tradecache.NewStore(kv, 0)

		trade := domain.NewTrade("chan", "seller", "buyer")
		trade.Phase = domain.PhaseSellerReady
		require.NoError(t, store.Save(ctx, trade))

		trade.Phase = domain.PhaseCompleted
		require.NoError(t, store.Save(ctx, trade))

		entry, err := store.Load(ctx)
		require.NoError(t, err)
		require.Nil(t, entry)
	})

	t.Run("unreadable", func(t *testing.T) {
		kv := inmemory.NewKVStore()
		require.NoError(t, kv.Set(ctx, tradecache.CacheKey, []byte("{oops")))

		entry, err := tradecache.NewStore(kv, 0).Load(ctx)
		require.NoError(t, err)
		require.Nil(t, entry)

		buf, err := kv.Get(ctx, tradecache.CacheKey)
		require.NoError(t, err)
		require.Nil(t, buf)
	})
}

func TestCompletedMarkers(t *testing.T) {
	store := tradecache.NewStore(inmemory.NewKVStore(), time.Hour)

	done, err := store.IsCompleted(ctx, "TXN789")
	require.NoError(t, err)
	require.False(t, done)

	require.NoError(t, store.MarkCompleted(ctx, "TXN789"))
	done, err = store.IsCompleted(ctx, "TXN789")
	require.NoError(t, err)
	require.True(t, done)

	done, err = store.IsCompleted(ctx, "")
	require.NoError(t, err)
	require.False(t, done)
}
