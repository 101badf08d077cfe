package dbbadger

import "errors"

var (
	// ErrTradeRecordNotFound ...
	ErrTradeRecordNotFound = errors.New("trade record not found")
	// ErrInvalidTradeRecord ...
	ErrInvalidTradeRecord = errors.New("trade record must have an id")
)
