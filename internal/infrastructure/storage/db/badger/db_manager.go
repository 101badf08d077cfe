package dbbadger

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/dgraph-io/badger/v3/options"
	"github.com/escrowchat/tradecoord/internal/core/domain"
	"github.com/escrowchat/tradecoord/internal/core/ports"
	log "github.com/sirupsen/logrus"
	"github.com/timshannon/badgerhold/v4"
)

const gcInterval = 30 * time.Minute

type repoManager struct {
	store           *badgerhold.Store
	kvStore         ports.KVStore
	tradeRecordRepo domain.TradeRecordRepository
	closeGC         chan struct{}
}

// NewRepoManager opens (or creates if not exists) the badger store on disk.
// An empty base dir opens an in-memory store.
func NewRepoManager(baseDbDir string, logger badger.Logger) (ports.RepoManager, error) {
	var dbDir string
	if len(baseDbDir) > 0 {
		dbDir = filepath.Join(baseDbDir, "main")
	}

	store, closeGC, err := createDb(dbDir, logger)
	if err != nil {
		return nil, fmt.Errorf("opening main db: %w", err)
	}

	return &repoManager{
		store:           store,
		kvStore:         NewKVStore(store),
		tradeRecordRepo: NewTradeRecordRepositoryImpl(store),
		closeGC:         closeGC,
	}, nil
}

func (m *repoManager) KVStore() ports.KVStore {
	return m.kvStore
}

func (m *repoManager) TradeRecordRepository() domain.TradeRecordRepository {
	return m.tradeRecordRepo
}

func (m *repoManager) Close() {
	if m.closeGC != nil {
		close(m.closeGC)
	}
	m.store.Close()
}

// OpenStore opens a standalone badgerhold store, used by components that keep
// their data apart from the main db.
func OpenStore(dbDir string, logger badger.Logger) (*badgerhold.Store, error) {
	store, _, err := createDb(dbDir, logger)
	return store, err
}

func createDb(
	dbDir string, logger badger.Logger,
) (*badgerhold.Store, chan struct{}, error) {
	isInMemory := len(dbDir) <= 0

	opts := badger.DefaultOptions(dbDir)
	opts.Logger = logger

	if isInMemory {
		opts.InMemory = true
	} else {
		opts.Compression = options.ZSTD
	}

	db, err := badgerhold.Open(badgerhold.Options{
		Encoder:          badgerhold.DefaultEncode,
		Decoder:          badgerhold.DefaultDecode,
		SequenceBandwith: 100,
		Options:          opts,
	})
	if err != nil {
		return nil, nil, err
	}

	if isInMemory {
		return db, nil, nil
	}

	quit := make(chan struct{})
	ticker := time.NewTicker(gcInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-quit:
				return
			case <-ticker.C:
				if err := db.Badger().RunValueLogGC(0.5); err != nil &&
					err != badger.ErrNoRewrite {
					log.Error(err)
				}
			}
		}
	}()

	return db, quit, nil
}
