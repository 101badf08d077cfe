package ports

import (
	"context"

	"github.com/escrowchat/tradecoord/internal/core/domain"
)

// RepoManager interface defines the methods to access the persistent layers
// of the daemon.
type RepoManager interface {
	KVStore() KVStore
	TradeRecordRepository() domain.TradeRecordRepository
	Close()
}

// KVStore is a minimal key/value store. Get returns nil, nil for missing
// keys.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}
