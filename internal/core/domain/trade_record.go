package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeRecord is the archived summary of a trade that reached a terminal
// phase. Credentials are never archived.
type TradeRecord struct {
	ID            string
	ChannelID     string
	BuyerID       string
	SellerID      string
	Asset         Asset
	Amount        decimal.Decimal
	Currency      string
	InvoiceID     InvoiceID
	TransactionID TransactionID
	Phase         Phase
	CreatedAt     time.Time
	ClosedAt      time.Time
}

// NewTradeRecord archives the given terminal trade.
func NewTradeRecord(t *Trade) TradeRecord {
	rec := TradeRecord{
		ID:            t.ID,
		ChannelID:     t.ChannelID,
		BuyerID:       t.BuyerID,
		SellerID:      t.SellerID,
		Amount:        t.Price,
		InvoiceID:     t.InvoiceID,
		TransactionID: t.TransactionID,
		Phase:         t.Phase,
		CreatedAt:     t.CreatedAt,
		ClosedAt:      time.Now(),
	}
	if t.Offer != nil {
		rec.Asset = t.Offer.Asset
		rec.Amount = t.Offer.Amount
		rec.Currency = t.Offer.Currency
	}
	return rec
}

// IsCompleted returns whether the archived trade was completed.
func (r TradeRecord) IsCompleted() bool {
	return r.Phase == PhaseCompleted
}
