package domain

import "context"

// TradeRecordRepository is the abstraction for any kind of database intended
// to archive finished trades.
type TradeRecordRepository interface {
	// AddTradeRecord archives a finished trade. Adding the same record twice
	// is not an error.
	AddTradeRecord(ctx context.Context, record TradeRecord) error
	// GetTradeRecord returns the archived trade with the given id.
	GetTradeRecord(ctx context.Context, id string) (*TradeRecord, error)
	// GetTradeRecordsForChannel returns the archived trades of a channel, most
	// recent first.
	GetTradeRecordsForChannel(ctx context.Context, channelID string) ([]TradeRecord, error)
	// GetLastCompletedForChannel returns the most recently completed trade of
	// a channel, or nil if none.
	GetLastCompletedForChannel(ctx context.Context, channelID string) (*TradeRecord, error)
	// GetAllTradeRecords returns all archived trades, most recent first.
	GetAllTradeRecords(ctx context.Context) ([]TradeRecord, error)
}
