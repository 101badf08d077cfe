package trade_test

import (
	"context"
	"sync"
	"time"

	"github.com/escrowchat/tradecoord/internal/core/application/countdown"
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

type signalEvent struct {
	kind    string
	scope   string
	outcome string
}

type recordingObserver struct {
	lock        sync.Mutex
	transitions [][2]domain.Phase
	signals     []signalEvent
}

func (o *recordingObserver) ObserveTransition(from, to domain.Phase) {
	o.lock.Lock()
	defer o.lock.Unlock()
	o.transitions = append(o.transitions, [2]domain.Phase{from, to})
}

func (o *recordingObserver) ObserveSignal(kind, scope, outcome string) {
	o.lock.Lock()
	defer o.lock.Unlock()
	o.signals = append(o.signals, signalEvent{kind, scope, outcome})
}

func (o *recordingObserver) outcomes(kind string) map[string]string {
	o.lock.Lock()
	defer o.lock.Unlock()

	res := make(map[string]string)
	for _, s := range o.signals {
		if s.kind == kind {
			res[s.scope] = s.outcome
		}
	}
	return res
}

func (o *recordingObserver) transitionsTo(phase domain.Phase) int {
	o.lock.Lock()
	defer o.lock.Unlock()

	count := 0
	for _, tr := range o.transitions {
		if tr[1] == phase {
			count++
		}
	}
	return count
}

// countingClock counts the countdowns scheduled on the shared manual clock.
type countingClock struct {
	*countdown.ManualClock

	lock    sync.Mutex
	started int
}

func (c *countingClock) AfterFunc(d time.Duration, f func()) countdown.Timer {
	c.lock.Lock()
	c.started++
	c.lock.Unlock()
	return c.ManualClock.AfterFunc(d, f)
}

func (c *countingClock) timersStarted() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.started
}
