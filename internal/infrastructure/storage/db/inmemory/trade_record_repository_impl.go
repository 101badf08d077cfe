package inmemory

import (
	"context"
	"sort"
	"sync"

	"github.com/escrowchat/tradecoord/internal/core/domain"
)

type tradeRecordInmemoryStore struct {
	records          map[string]domain.TradeRecord
	recordsByChannel map[string][]string
	locker           *sync.Mutex
}

type tradeRecordRepositoryImpl struct {
	store *tradeRecordInmemoryStore
}

// NewTradeRecordRepositoryImpl returns a new inmemory TradeRecordRepository
// implementation.
func NewTradeRecordRepositoryImpl() domain.TradeRecordRepository {
	return &tradeRecordRepositoryImpl{&tradeRecordInmemoryStore{
		records:          make(map[string]domain.TradeRecord),
		recordsByChannel: make(map[string][]string),
		locker:           &sync.Mutex{},
	}}
}

func (r tradeRecordRepositoryImpl) AddTradeRecord(
	_ context.Context, record domain.TradeRecord,
) error {
	if record.ID == "" {
		return ErrInvalidTradeRecord
	}

	r.store.locker.Lock()
	defer r.store.locker.Unlock()

	if _, ok := r.store.records[record.ID]; !ok {
		r.store.recordsByChannel[record.ChannelID] = append(
			r.store.recordsByChannel[record.ChannelID], record.ID,
		)
	}
	r.store.records[record.ID] = record
	return nil
}

func (r tradeRecordRepositoryImpl) GetTradeRecord(
	_ context.Context, id string,
) (*domain.TradeRecord, error) {
	r.store.locker.Lock()
	defer r.store.locker.Unlock()

	record, ok := r.store.records[id]
	if !ok {
		return nil, ErrTradeRecordNotFound
	}
	return &record, nil
}

func (r tradeRecordRepositoryImpl) GetTradeRecordsForChannel(
	_ context.Context, channelID string,
) ([]domain.TradeRecord, error) {
	r.store.locker.Lock()
	defer r.store.locker.Unlock()

	ids := r.store.recordsByChannel[channelID]
	records := make([]domain.TradeRecord, 0, len(ids))
	for _, id := range ids {
		records = append(records, r.store.records[id])
	}
	sortMostRecentFirst(records)
	return records, nil
}

func (r tradeRecordRepositoryImpl) GetLastCompletedForChannel(
	ctx context.Context, channelID string,
) (*domain.TradeRecord, error) {
	records, err := r.GetTradeRecordsForChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	for _, record := range records {
		if record.IsCompleted() {
			rec := record
			return &rec, nil
		}
	}
	return nil, nil
}

func (r tradeRecordRepositoryImpl) GetAllTradeRecords(
	_ context.Context,
) ([]domain.TradeRecord, error) {
	r.store.locker.Lock()
	defer r.store.locker.Unlock()

	records := make([]domain.TradeRecord, 0, len(r.store.records))
	for _, record := range r.store.records {
		records = append(records, record)
	}
	sortMostRecentFirst(records)
	return records, nil
}

func sortMostRecentFirst(records []domain.TradeRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].ClosedAt.After(records[j].ClosedAt)
	})
}
