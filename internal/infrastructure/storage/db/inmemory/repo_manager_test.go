package inmemory_test

import (
	"context"
	"testing"
	"time"

	"github.com/escrowchat/tradecoord/internal/core/domain"
	"github.com/escrowchat/tradecoord/internal/infrastructure/storage/db/inmemory"
	"github.com/stretchr/testify/require"
)

var ctx = context.Background()

func TestKVStore(t *testing.T) {
	kv := inmemory.NewRepoManager().KVStore()

	value, err := kv.Get(ctx, "trade_cache")
	require.NoError(t, err)
	require.Nil(t, value)

	buf := []byte(`{"trade_id":"t1"}`)
	require.NoError(t, kv.Set(ctx, "trade_cache", buf))
	// Stored values must not alias the caller's buffer.
	buf[0] = 'x'

	value, err = kv.Get(ctx, "trade_cache")
	require.NoError(t, err)
	require.Equal(t, []byte(`{"trade_id":"t1"}`), value)

	require.NoError(t, kv.Delete(ctx, "trade_cache"))
	value, err = kv.Get(ctx, "trade_cache")
	require.NoError(t, err)
	require.Nil(t, value)
}

func TestTradeRecordRepository(t *testing.T) {
	repo := inmemory.NewRepoManager().TradeRecordRepository()
	now := time.Now()

	require.Error(t, repo.AddTradeRecord(ctx, domain.TradeRecord{}))

	records := []domain.TradeRecord{
		{ID: "t1", ChannelID: "chan", Phase: domain.PhaseCompleted, ClosedAt: now.Add(-2 * time.Hour)},
		{ID: "t2", ChannelID: "chan", Phase: domain.PhaseCompleted, ClosedAt: now.Add(-time.Hour)},
		{ID: "t3", ChannelID: "chan", Phase: domain.PhaseCancelled, ClosedAt: now},
	}
	for _, r := range records {
		require.NoError(t, repo.AddTradeRecord(ctx, r))
	}
	require.NoError(t, repo.AddTradeRecord(ctx, records[0]))

	byChannel, err := repo.GetTradeRecordsForChannel(ctx, "chan")
	require.NoError(t, err)
	require.Len(t, byChannel, 3)
	require.Equal(t, "t3", byChannel[0].ID)

	last, err := repo.GetLastCompletedForChannel(ctx, "chan")
	require.NoError(t, err)
	require.Equal(t, "t2", last.ID)

	last, err = repo.GetLastCompletedForChannel(ctx, "other")
	require.NoError(t, err)
	require.Nil(t, last)

	got, err := repo.GetTradeRecord(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, domain.PhaseCompleted, got.Phase)

	_, err = repo.GetTradeRecord(ctx, "t9")
	require.ErrorIs(t, err, inmemory.ErrTradeRecordNotFound)
}
