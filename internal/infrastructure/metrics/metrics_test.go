package metrics

import (
	"context"
	"fmt"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/escrowchat/tradecoord/internal/core/application/reconcile"
	"github.com/escrowchat/tradecoord/internal/core/domain"
	"github.com/escrowchat/tradecoord/internal/core/ports"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

type stubBackend struct {
	ports.TransactionBackend
	err error
}

func (b stubBackend) Cancel(context.Context, domain.TransactionID) error {
	return b.err
}

func (b stubBackend) AcceptInvoice(
	context.Context, domain.InvoiceID,
) (domain.TransactionID, error) {
	return "TXN789", b.err
}

func TestObserver(t *testing.T) {
	m := New()

	m.ObserveTransition(domain.PhaseIdle, domain.PhaseSellerReady)
	m.ObserveTransition(domain.PhaseSellerReady, domain.PhaseBuyerAccepted)
	m.ObserveSignal("trade-offer", "global", "handled")
	m.ObserveSignal("trade-offer", "channel", "not_owner")
	m.ObserveReconciliation(reconcile.OutcomeCorrected)

	require.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues(
		domain.PhaseIdle.String(), domain.PhaseSellerReady.String(),
	)))
	require.Equal(t, 1.0, testutil.ToFloat64(
		m.phase.WithLabelValues(domain.PhaseBuyerAccepted.String()),
	))
	require.Equal(t, 0.0, testutil.ToFloat64(
		m.phase.WithLabelValues(domain.PhaseSellerReady.String()),
	))
	require.Equal(t, 1.0, testutil.ToFloat64(
		m.signals.WithLabelValues("trade-offer", "global", "handled"),
	))
	require.Equal(t, 1.0, testutil.ToFloat64(
		m.reconciliations.WithLabelValues(string(reconcile.OutcomeCorrected)),
	))
}

func TestWrapBackend(t *testing.T) {
	m := New()
	ctx := context.Background()

	ok := m.WrapBackend(stubBackend{})
	txID, err := ok.AcceptInvoice(ctx, "INV123")
	require.NoError(t, err)
	require.Equal(t, domain.TransactionID("TXN789"), txID)

	timeout := m.WrapBackend(stubBackend{
		err: fmt.Errorf("%w: no response", domain.ErrBackendTimeout),
	})
	require.Error(t, timeout.Cancel(ctx, "TXN789"))

	failing := m.WrapBackend(stubBackend{err: fmt.Errorf("forbidden")})
	require.Error(t, failing.Cancel(ctx, "TXN789"))

	require.Equal(t, 1.0, testutil.ToFloat64(
		m.backendRequests.WithLabelValues("accept_invoice", resultOK),
	))
	require.Equal(t, 1.0, testutil.ToFloat64(
		m.backendRequests.WithLabelValues("cancel", resultTimeout),
	))
	require.Equal(t, 1.0, testutil.ToFloat64(
		m.backendRequests.WithLabelValues("cancel", resultError),
	))
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveSignal("seller-ready", "channel", "handled")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	require.Equal(t, 200, rec.Code)
	require.Contains(t, string(body), "tradecoord_signals_total")
	require.Contains(t, string(body), `tradecoord_phase{phase="IDLE"} 1`)
}
