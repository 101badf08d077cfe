package trade

import "errors"

var (
	// ErrTradeInProgress is returned when starting a trade while another one
	// is active on the channel.
	ErrTradeInProgress = errors.New("a trade is already in progress on this channel")
	// ErrNoTrade is returned when an operation needs an active trade.
	ErrNoTrade = errors.New("no active trade")
	// ErrInvalidAmount ...
	ErrInvalidAmount = errors.New("amount must be positive")
	// ErrMissingAsset ...
	ErrMissingAsset = errors.New("missing asset platform or account username")
	// ErrMissingCredentials ...
	ErrMissingCredentials = errors.New("missing account credentials")
	// ErrMissingPin ...
	ErrMissingPin = errors.New("missing payment pin")
)
