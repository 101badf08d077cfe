package domain

// InvoiceID identifies the intermediate invoice the seller creates when making
// an offer.
type InvoiceID string

// TransactionID is the authoritative ledger transaction identifier. Values of
// this type come only from the backend, either as the result of accepting an
// invoice or through reconciliation.
type TransactionID string

// ReportedID is an identifier read from a Signal Message payload. Peers fill
// the same field with either an invoice id or a ledger id, so it must be
// reconciled before it can be used for a money-moving call.
type ReportedID string

func (id InvoiceID) String() string     { return string(id) }
func (id TransactionID) String() string { return string(id) }
func (id ReportedID) String() string    { return string(id) }

// Matches returns whether the reported id refers to the given invoice or
// transaction.
func (id ReportedID) Matches(invoice InvoiceID, tx TransactionID) bool {
	if len(id) <= 0 {
		return false
	}
	return (len(invoice) > 0 && string(id) == string(invoice)) ||
		(len(tx) > 0 && string(id) == string(tx))
}
