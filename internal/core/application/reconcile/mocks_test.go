package reconcile_test

import (
	"context"

	"github.com/escrowchat/tradecoord/internal/core/domain"
	"github.com/escrowchat/tradecoord/internal/core/ports"
	"github.com/stretchr/testify/mock"
)

type mockBackend struct {
	mock.Mock
}

func (m *mockBackend) GetCurrentActiveTransaction(
	ctx context.Context, userID string,
) (*ports.BackendTransaction, error) {
	args := m.Called(ctx, userID)

	var res *ports.BackendTransaction
	if a := args.Get(0); a != nil {
		res = a.(*ports.BackendTransaction)
	}
	return res, args.Error(1)
}

func (m *mockBackend) ListTransactions(
	ctx context.Context, userID string, filter ports.TransactionFilter,
) ([]ports.BackendTransaction, error) {
	args := m.Called(ctx, userID, filter)

	var res []ports.BackendTransaction
	if a := args.Get(0); a != nil {
		res = a.([]ports.BackendTransaction)
	}
	return res, args.Error(1)
}

func (m *mockBackend) GetTransactionByID(
	ctx context.Context, id string,
) (*ports.BackendTransaction, error) {
	args := m.Called(ctx, id)

	var res *ports.BackendTransaction
	if a := args.Get(0); a != nil {
		res = a.(*ports.BackendTransaction)
	}
	return res, args.Error(1)
}

func (m *mockBackend) CreateInvoice(
	ctx context.Context, req ports.InvoiceRequest,
) (domain.InvoiceID, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(domain.InvoiceID), args.Error(1)
}

func (m *mockBackend) AcceptInvoice(
	ctx context.Context, invoiceID domain.InvoiceID,
) (domain.TransactionID, error) {
	args := m.Called(ctx, invoiceID)
	return args.Get(0).(domain.TransactionID), args.Error(1)
}

func (m *mockBackend) ReleasePayment(
	ctx context.Context, txID domain.TransactionID, pin string,
) error {
	args := m.Called(ctx, txID, pin)
	return args.Error(0)
}

func (m *mockBackend) Cancel(ctx context.Context, txID domain.TransactionID) error {
	args := m.Called(ctx, txID)
	return args.Error(0)
}
