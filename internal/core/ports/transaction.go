package ports

import (
	"context"

	"github.com/escrowchat/tradecoord/internal/core/domain"
	"github.com/shopspring/decimal"
)

const (
	TxStatusPending   = "pending"
	TxStatusActive    = "active"
	TxStatusEscrowed  = "escrowed"
	TxStatusReleased  = "released"
	TxStatusCompleted = "completed"
	TxStatusCancelled = "cancelled"
)

// BackendTransaction is the authoritative record of the ledger.
type BackendTransaction struct {
	ID          string          `json:"id"`
	Status      string          `json:"status"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	BuyerID     string          `json:"buyer_id"`
	SellerID    string          `json:"seller_id"`
	SellOrderID string          `json:"sell_order_id"`
}

// IsOpen returns whether funds are still held for the transaction.
func (t BackendTransaction) IsOpen() bool {
	switch t.Status {
	case TxStatusPending, TxStatusActive, TxStatusEscrowed:
		return true
	}
	return false
}

// IsSettled returns whether funds were released to the seller.
func (t BackendTransaction) IsSettled() bool {
	return t.Status == TxStatusReleased || t.Status == TxStatusCompleted
}

// TransactionFilter narrows ListTransactions.
type TransactionFilter struct {
	Status string
}

// InvoiceRequest is what the seller submits to open an invoice.
type InvoiceRequest struct {
	SellerID        string          `json:"seller_id"`
	BuyerID         string          `json:"buyer_id"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	Network         string          `json:"network"`
	PaymentMethod   string          `json:"payment_method"`
	Platform        string          `json:"platform"`
	AccountUsername string          `json:"account_username"`
}

// TransactionBackend is the ledger service. Every call is idempotent from
// the caller's perspective and must be bounded by the context deadline.
type TransactionBackend interface {
	// GetCurrentActiveTransaction returns nil, nil when the user has no
	// active transaction.
	GetCurrentActiveTransaction(ctx context.Context, userID string) (*BackendTransaction, error)
	ListTransactions(ctx context.Context, userID string, filter TransactionFilter) ([]BackendTransaction, error)
	GetTransactionByID(ctx context.Context, id string) (*BackendTransaction, error)
	CreateInvoice(ctx context.Context, req InvoiceRequest) (domain.InvoiceID, error)
	// AcceptInvoice moves the buyer's funds in escrow. It returns a
	// *domain.InsufficientFundsError if the buyer cannot cover the amount.
	AcceptInvoice(ctx context.Context, invoiceID domain.InvoiceID) (domain.TransactionID, error)
	ReleasePayment(ctx context.Context, txID domain.TransactionID, pin string) error
	Cancel(ctx context.Context, txID domain.TransactionID) error
}
