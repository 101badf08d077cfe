package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/escrowchat/tradecoord/internal/core/domain"
	"github.com/escrowchat/tradecoord/internal/core/ports"
)

const (
	resultOK      = "ok"
	resultError   = "error"
	resultTimeout = "timeout"
)

type backend struct {
	ports.TransactionBackend
	m *Metrics
}

// WrapBackend returns a ports.TransactionBackend that records every call to
// the given one.
func (m *Metrics) WrapBackend(b ports.TransactionBackend) ports.TransactionBackend {
	return &backend{b, m}
}

func (b *backend) GetCurrentActiveTransaction(
	ctx context.Context, userID string,
) (*ports.BackendTransaction, error) {
	start := time.Now()
	tx, err := b.TransactionBackend.GetCurrentActiveTransaction(ctx, userID)
	b.record("get_current_active_transaction", start, err)
	return tx, err
}

func (b *backend) ListTransactions(
	ctx context.Context, userID string, filter ports.TransactionFilter,
) ([]ports.BackendTransaction, error) {
	start := time.Now()
	txs, err := b.TransactionBackend.ListTransactions(ctx, userID, filter)
	b.record("list_transactions", start, err)
	return txs, err
}

func (b *backend) GetTransactionByID(
	ctx context.Context, id string,
) (*ports.BackendTransaction, error) {
	start := time.Now()
	tx, err := b.TransactionBackend.GetTransactionByID(ctx, id)
	b.record("get_transaction_by_id", start, err)
	return tx, err
}

func (b *backend) CreateInvoice(
	ctx context.Context, req ports.InvoiceRequest,
) (domain.InvoiceID, error) {
	start := time.Now()
	id, err := b.TransactionBackend.CreateInvoice(ctx, req)
	b.record("create_invoice", start, err)
	return id, err
}

func (b *backend) AcceptInvoice(
	ctx context.Context, invoiceID domain.InvoiceID,
) (domain.TransactionID, error) {
	start := time.Now()
	id, err := b.TransactionBackend.AcceptInvoice(ctx, invoiceID)
	b.record("accept_invoice", start, err)
	return id, err
}

func (b *backend) ReleasePayment(
	ctx context.Context, txID domain.TransactionID, pin string,
) error {
	start := time.Now()
	err := b.TransactionBackend.ReleasePayment(ctx, txID, pin)
	b.record("release_payment", start, err)
	return err
}

func (b *backend) Cancel(ctx context.Context, txID domain.TransactionID) error {
	start := time.Now()
	err := b.TransactionBackend.Cancel(ctx, txID)
	b.record("cancel", start, err)
	return err
}

func (b *backend) record(method string, start time.Time, err error) {
	b.m.backendDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())

	result := resultOK
	if err != nil {
		result = resultError
		if errors.Is(err, domain.ErrBackendTimeout) ||
			errors.Is(err, context.DeadlineExceeded) {
			result = resultTimeout
		}
	}
	b.m.backendRequests.WithLabelValues(method, result).Inc()
}
