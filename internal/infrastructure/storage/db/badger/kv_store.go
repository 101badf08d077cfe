package dbbadger

import (
	"context"

	"github.com/dgraph-io/badger/v3"
	"github.com/escrowchat/tradecoord/internal/core/ports"
	"github.com/timshannon/badgerhold/v4"
)

// kvKeyPrefix keeps raw keys apart from the badgerhold typed records that
// share the same db.
const kvKeyPrefix = "kv/"

type kvStore struct {
	db *badger.DB
}

// NewKVStore returns a KVStore backed by the badger db under the given
// badgerhold store.
func NewKVStore(store *badgerhold.Store) ports.KVStore {
	return &kvStore{store.Badger()}
}

func (s *kvStore) Get(_ context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(kvKey(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return nil, nil
	}
	return value, err
}

func (s *kvStore) Set(_ context.Context, key string, value []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(kvKey(key), value)
	})
}

func (s *kvStore) Delete(_ context.Context, key string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(kvKey(key))
	})
}

func kvKey(key string) []byte {
	return []byte(kvKeyPrefix + key)
}
