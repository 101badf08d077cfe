package inmemory

import (
	"github.com/escrowchat/tradecoord/internal/core/domain"
	"github.com/escrowchat/tradecoord/internal/core/ports"
)

type RepoManager struct {
	kvStore         ports.KVStore
	tradeRecordRepo domain.TradeRecordRepository
}

func NewRepoManager() ports.RepoManager {
	return &RepoManager{
		kvStore:         NewKVStore(),
		tradeRecordRepo: NewTradeRecordRepositoryImpl(),
	}
}

func (d *RepoManager) KVStore() ports.KVStore {
	return d.kvStore
}

func (d *RepoManager) TradeRecordRepository() domain.TradeRecordRepository {
	return d.tradeRecordRepo
}

func (d *RepoManager) Close() {}
