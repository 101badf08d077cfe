package inmemory

import (
	"context"
	"sync"

	"github.com/escrowchat/tradecoord/internal/core/ports"
)

type kvStore struct {
	locker *sync.RWMutex
	values map[string][]byte
}

// NewKVStore returns a new inmemory KVStore implementation.
func NewKVStore() ports.KVStore {
	return &kvStore{
		locker: &sync.RWMutex{},
		values: make(map[string][]byte),
	}
}

func (s *kvStore) Get(_ context.Context, key string) ([]byte, error) {
	s.locker.RLock()
	defer s.locker.RUnlock()

	value, ok := s.values[key]
	if !ok {
		return nil, nil
	}
	return append([]byte{}, value...), nil
}

func (s *kvStore) Set(_ context.Context, key string, value []byte) error {
	s.locker.Lock()
	defer s.locker.Unlock()

	s.values[key] = append([]byte{}, value...)
	return nil
}

func (s *kvStore) Delete(_ context.Context, key string) error {
	s.locker.Lock()
	defer s.locker.Unlock()

	delete(s.values, key)
	return nil
}
