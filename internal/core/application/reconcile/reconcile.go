// Package reconcile resolves the authoritative ledger transaction of a party
// before any money-moving call, correcting the identifiers cached locally.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/escrowchat/tradecoord/internal/core/domain"
	"github.com/escrowchat/tradecoord/internal/core/ports"
	log "github.com/sirupsen/logrus"
)

const DefaultTimeout = 8 * time.Second

// Outcome classifies the result of a reconciliation.
type Outcome string

const (
	OutcomeMatched   Outcome = "matched"
	OutcomeCorrected Outcome = "corrected"
	OutcomeNone      Outcome = "none"
	OutcomeUnknown   Outcome = "unknown"
)

// Request identifies whose transaction must be resolved. Cached is the best
// identifier known locally, possibly empty or unverified.
type Request struct {
	UserID string
	Role   domain.Role
	Cached domain.ReportedID
}

// Result carries the authoritative transaction. Corrected is set when its id
// differs from the cached one.
type Result struct {
	ID          domain.TransactionID
	Transaction ports.BackendTransaction
	Corrected   bool
	Fallback    bool
}

// Engine queries the ledger for the active transaction of a party. It never
// writes local state: callers persist corrections themselves.
type Engine struct {
	backend   ports.TransactionBackend
	timeout   time.Duration
	observers []func(Outcome)
}

// NewEngine returns an Engine bounding every backend query with the given
// timeout. Observers are notified of every outcome.
func NewEngine(
	backend ports.TransactionBackend, timeout time.Duration,
	observers ...func(Outcome),
) *Engine {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Engine{backend, timeout, observers}
}

// Resolve asks the backend for the current active transaction of the user.
// If the primary query fails it falls back to the list of pending
// transactions. It returns domain.ErrNoActiveTransaction if the user has
// none, and domain.ErrBackendTimeout if both queries failed.
func (e *Engine) Resolve(ctx context.Context, req Request) (Result, error) {
	tx, err := e.activeTransaction(ctx, req.UserID)
	fallback := false
	if err != nil {
		log.WithError(err).Warnf(
			"active transaction query failed for user %s, falling back to "+
				"pending transactions", req.UserID,
		)

		var fallbackErr error
		tx, fallbackErr = e.pendingTransaction(ctx, req)
		if fallbackErr != nil {
			e.notify(OutcomeUnknown)
			return Result{}, fmt.Errorf(
				"%w: %s, fallback: %s", domain.ErrBackendTimeout, err, fallbackErr,
			)
		}
		fallback = true
	}

	if tx == nil {
		e.notify(OutcomeNone)
		return Result{}, domain.ErrNoActiveTransaction
	}

	res := Result{
		ID:          domain.TransactionID(tx.ID),
		Transaction: *tx,
		Corrected:   tx.ID != req.Cached.String(),
		Fallback:    fallback,
	}
	if res.Corrected {
		if len(req.Cached) > 0 {
			log.Infof(
				"reconciled transaction id for user %s: cached %s, backend %s",
				req.UserID, req.Cached, res.ID,
			)
		}
		e.notify(OutcomeCorrected)
	} else {
		e.notify(OutcomeMatched)
	}
	return res, nil
}

func (e *Engine) activeTransaction(
	ctx context.Context, userID string,
) (*ports.BackendTransaction, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	return e.backend.GetCurrentActiveTransaction(ctx, userID)
}

func (e *Engine) pendingTransaction(
	ctx context.Context, req Request,
) (*ports.BackendTransaction, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	txs, err := e.backend.ListTransactions(ctx, req.UserID, ports.TransactionFilter{
		Status: ports.TxStatusPending,
	})
	if err != nil {
		return nil, err
	}

	for i := range txs {
		tx := txs[i]
		if !tx.IsOpen() || !holdsRole(tx, req.UserID, req.Role) {
			continue
		}
		return &tx, nil
	}
	return nil, nil
}

func (e *Engine) notify(outcome Outcome) {
	for _, fn := range e.observers {
		fn(outcome)
	}
}

// holdsRole defaults to the buyer side, the only one that moves money.
func holdsRole(tx ports.BackendTransaction, userID string, role domain.Role) bool {
	if role == domain.RoleSeller {
		return tx.SellerID == userID
	}
	return tx.BuyerID == userID
}
