package dbbadger

import (
	"context"
	"time"

	"github.com/escrowchat/tradecoord/internal/core/domain"
	"github.com/shopspring/decimal"
	"github.com/timshannon/badgerhold/v4"
)

// tradeRecord is the storage copy of domain.TradeRecord. Amounts and
// phases are stored as strings so that badgerhold queries and the gob
// encoder do not depend on the domain types.
type tradeRecord struct {
	ID              string
	ChannelID       string `badgerhold:"index"`
	BuyerID         string
	SellerID        string
	Platform        string
	AccountUsername string
	Amount          string
	Currency        string
	InvoiceID       string
	TransactionID   string
	Phase           string
	CreatedAt       time.Time
	ClosedAt        time.Time
}

type tradeRecordRepositoryImpl struct {
	store *badgerhold.Store
}

func NewTradeRecordRepositoryImpl(store *badgerhold.Store) domain.TradeRecordRepository {
	return &tradeRecordRepositoryImpl{store}
}

func (r *tradeRecordRepositoryImpl) AddTradeRecord(
	_ context.Context, record domain.TradeRecord,
) error {
	if record.ID == "" {
		return ErrInvalidTradeRecord
	}
	rec := fromDomain(record)
	return r.store.Upsert(rec.ID, &rec)
}

func (r *tradeRecordRepositoryImpl) GetTradeRecord(
	_ context.Context, id string,
) (*domain.TradeRecord, error) {
	var rec tradeRecord
	if err := r.store.Get(id, &rec); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, ErrTradeRecordNotFound
		}
		return nil, err
	}
	record := rec.toDomain()
	return &record, nil
}

func (r *tradeRecordRepositoryImpl) GetTradeRecordsForChannel(
	_ context.Context, channelID string,
) ([]domain.TradeRecord, error) {
	query := badgerhold.Where("ChannelID").Eq(channelID).Index("ChannelID")
	return r.findTradeRecords(query)
}

func (r *tradeRecordRepositoryImpl) GetLastCompletedForChannel(
	_ context.Context, channelID string,
) (*domain.TradeRecord, error) {
	query := badgerhold.Where("ChannelID").Eq(channelID).Index("ChannelID").
		And("Phase").Eq(domain.PhaseCompleted.String())

	records, err := r.findTradeRecords(query)
	if err != nil {
		return nil, err
	}
	if len(records) <= 0 {
		return nil, nil
	}
	return &records[0], nil
}

func (r *tradeRecordRepositoryImpl) GetAllTradeRecords(
	_ context.Context,
) ([]domain.TradeRecord, error) {
	return r.findTradeRecords(nil)
}

func (r *tradeRecordRepositoryImpl) findTradeRecords(
	query *badgerhold.Query,
) ([]domain.TradeRecord, error) {
	if query == nil {
		query = &badgerhold.Query{}
	}
	query = query.SortBy("ClosedAt").Reverse()

	var recs []tradeRecord
	if err := r.store.Find(&recs, query); err != nil {
		return nil, err
	}

	records := make([]domain.TradeRecord, 0, len(recs))
	for _, rec := range recs {
		records = append(records, rec.toDomain())
	}
	return records, nil
}

func fromDomain(record domain.TradeRecord) tradeRecord {
	return tradeRecord{
		ID:              record.ID,
		ChannelID:       record.ChannelID,
		BuyerID:         record.BuyerID,
		SellerID:        record.SellerID,
		Platform:        record.Asset.Platform,
		AccountUsername: record.Asset.AccountUsername,
		Amount:          record.Amount.String(),
		Currency:        record.Currency,
		InvoiceID:       record.InvoiceID.String(),
		TransactionID:   record.TransactionID.String(),
		Phase:           record.Phase.String(),
		CreatedAt:       record.CreatedAt,
		ClosedAt:        record.ClosedAt,
	}
}

func (r tradeRecord) toDomain() domain.TradeRecord {
	amount, _ := decimal.NewFromString(r.Amount)
	var phase domain.Phase
	// nolint
	phase.UnmarshalText([]byte(r.Phase))

	return domain.TradeRecord{
		ID:        r.ID,
		ChannelID: r.ChannelID,
		BuyerID:   r.BuyerID,
		SellerID:  r.SellerID,
		Asset: domain.Asset{
			Platform:        r.Platform,
			AccountUsername: r.AccountUsername,
		},
		Amount:        amount,
		Currency:      r.Currency,
		InvoiceID:     domain.InvoiceID(r.InvoiceID),
		TransactionID: domain.TransactionID(r.TransactionID),
		Phase:         phase,
		CreatedAt:     r.CreatedAt,
		ClosedAt:      r.ClosedAt,
	}
}
