package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrTransactionNotFound is returned when the ledger has no transaction
	// with the requested id.
	ErrTransactionNotFound = errors.New("transaction not found")
	// ErrMissingID is returned when the ledger answers without the id of the
	// created resource.
	ErrMissingID = errors.New("ledger response is missing the resource id")
)

// StatusError is returned for any non successful response of the ledger.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ledger responded with status %d: %s", e.Code, e.Message)
}
