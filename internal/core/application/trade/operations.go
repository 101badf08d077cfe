package trade

import (
	"context"
	"errors"
	"fmt"

	"github.com/escrowchat/tradecoord/internal/core/application/reconcile"
	"github.com/escrowchat/tradecoord/internal/core/application/signal"
	"github.com/escrowchat/tradecoord/internal/core/domain"
	"github.com/escrowchat/tradecoord/internal/core/ports"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// MarkSellerReady opens a new trade on the channel with the local party as
// seller and starts the response window.
func (s *Service) MarkSellerReady(
	ctx context.Context, price decimal.Decimal,
) (*domain.Trade, error) {
	if !price.IsPositive() {
		return nil, ErrInvalidAmount
	}

	trade, err := s.swap(ctx, func(current *domain.Trade) (*domain.Trade, error) {
		if current.IsActive() {
			if current.Phase == domain.PhaseSellerReady &&
				current.RoleOf(s.cfg.PartyID) == domain.RoleSeller {
				// Resend the signal for the trade already open.
				return nil, nil
			}
			return nil, ErrTradeInProgress
		}

		t := s.newTrade(s.cfg.PartyID, s.cfg.CounterpartID)
		t.SellerName = s.cfg.PartyName
		t.Price = price
		if _, err := t.Apply(domain.EventSellerReady); err != nil {
			return nil, err
		}
		t.Timer = domain.NewTimerState(
			domain.WindowResponse, s.cfg.ResponseWindow, s.clock.Now(),
		)
		return t, nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.send(ctx, signal.SellerReady{
		SellerID:   trade.SellerID,
		SellerName: trade.SellerName,
		Price:      trade.Price,
	}); err != nil {
		return nil, err
	}
	return trade, nil
}

// AcceptTrade is the buyer's answer to a seller-ready signal.
func (s *Service) AcceptTrade(ctx context.Context) (*domain.Trade, error) {
	current := s.Snapshot()
	if !current.IsActive() {
		return nil, ErrNoTrade
	}
	if current.RoleOf(s.cfg.PartyID) != domain.RoleBuyer {
		return nil, domain.ErrNotParticipant
	}
	if current.Phase != domain.PhaseSellerReady &&
		current.Phase != domain.PhaseBuyerAccepted {
		return nil, domain.ErrInvalidState
	}

	trade, err := s.update(ctx, current.ID, func(t *domain.Trade) error {
		t.BuyerName = s.cfg.PartyName
		_, err := t.Apply(domain.EventBuyerAccept)
		return err
	})
	if err != nil {
		return nil, err
	}

	if err := s.send(ctx, signal.TradeAccept{
		AcceptedBy:   s.cfg.PartyID,
		AcceptorName: s.cfg.PartyName,
		AcceptedAt:   s.clock.Now(),
	}); err != nil {
		return nil, err
	}
	return trade, nil
}

// SubmitOffer creates the invoice on the backend and hands the offer, with
// the account credentials, over to the buyer.
func (s *Service) SubmitOffer(
	ctx context.Context, in OfferInput,
) (*domain.Trade, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	if in.Currency == "" {
		in.Currency = s.cfg.Currency
	}

	current := s.Snapshot()
	if !current.IsActive() {
		return nil, ErrNoTrade
	}
	if current.RoleOf(s.cfg.PartyID) != domain.RoleSeller {
		return nil, domain.ErrNotParticipant
	}
	if current.Phase != domain.PhaseBuyerAccepted {
		return nil, domain.ErrInvalidState
	}

	invoiceID := current.InvoiceID
	if len(invoiceID) <= 0 {
		ictx, cancel := context.WithTimeout(ctx, s.cfg.BackendTimeout)
		id, err := s.backend.CreateInvoice(ictx, ports.InvoiceRequest{
			SellerID:        current.SellerID,
			BuyerID:         current.BuyerID,
			Amount:          in.Amount,
			Currency:        in.Currency,
			Network:         in.Network,
			PaymentMethod:   in.PaymentMethod,
			Platform:        in.Asset.Platform,
			AccountUsername: in.Asset.AccountUsername,
		})
		cancel()
		if err != nil {
			return nil, fmt.Errorf("failed to create invoice: %w", backendError(err))
		}
		invoiceID = id
	}

	offer := &domain.Offer{
		Amount:        in.Amount,
		Currency:      in.Currency,
		PaymentMethod: in.PaymentMethod,
		Network:       in.Network,
		Asset:         in.Asset,
		Credentials:   in.Credentials,
	}
	trade, err := s.update(ctx, current.ID, func(t *domain.Trade) error {
		if t.Phase != domain.PhaseBuyerAccepted {
			return domain.ErrInvalidState
		}
		t.Offer = offer
		t.InvoiceID = invoiceID
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.send(ctx, signal.TradeOffer{
		TransactionID: domain.ReportedID(invoiceID),
		SellerID:      trade.SellerID,
		BuyerID:       trade.BuyerID,
		SellerName:    trade.SellerName,
		Amount:        offer.Amount,
		PaymentMethod: offer.PaymentMethod,
		Network:       offer.Network,
		Asset:         offer.Asset,
		Credentials:   offer.Credentials,
	}); err != nil {
		return nil, err
	}
	return trade, nil
}

// LockFunds accepts the seller's invoice, moving the buyer's funds in escrow,
// and starts the fund lock window. An escrow that already exists on the
// backend is reused.
func (s *Service) LockFunds(ctx context.Context) (*domain.Trade, error) {
	current := s.Snapshot()
	if !current.IsActive() {
		return nil, ErrNoTrade
	}
	if current.RoleOf(s.cfg.PartyID) != domain.RoleBuyer {
		return nil, domain.ErrNotParticipant
	}
	if current.Phase == domain.PhaseTradeCreated {
		// Notice was already sent, send it again for a peer that missed it.
		if err := s.sendFundLockNotice(ctx, current); err != nil {
			return nil, err
		}
		return current, nil
	}
	if current.Phase != domain.PhaseBuyerAccepted {
		return nil, domain.ErrInvalidState
	}
	if len(current.InvoiceID) <= 0 || current.Offer == nil {
		return nil, domain.ErrMissingTradeData
	}

	var txID domain.TransactionID
	res, err := s.reconciler.Resolve(ctx, reconcile.Request{
		UserID: s.cfg.PartyID,
		Role:   domain.RoleBuyer,
		Cached: current.BestKnownID(),
	})
	switch {
	case err == nil:
		log.Infof("reusing escrow %s for trade %s", res.ID, current.ID)
		txID = res.ID
	case errors.Is(err, domain.ErrNoActiveTransaction):
		actx, cancel := context.WithTimeout(ctx, s.cfg.BackendTimeout)
		txID, err = s.backend.AcceptInvoice(actx, current.InvoiceID)
		cancel()
		if err != nil {
			var insufficient *domain.InsufficientFundsError
			if errors.As(err, &insufficient) {
				return nil, err
			}
			return nil, fmt.Errorf("failed to lock funds: %w", backendError(err))
		}
	default:
		return nil, err
	}

	trade, err := s.update(ctx, current.ID, func(t *domain.Trade) error {
		t.TransactionID = txID
		if _, err := t.Apply(domain.EventTransactionCreated); err != nil {
			return err
		}
		t.Timer = domain.NewTimerState(
			domain.WindowFundLock, s.cfg.FundLockWindow, s.clock.Now(),
		)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.sendFundLockNotice(ctx, trade); err != nil {
		return nil, err
	}
	return trade, nil
}

// ReleaseFunds pays the seller out of escrow and completes the trade.
func (s *Service) ReleaseFunds(
	ctx context.Context, pin string,
) (*domain.Trade, error) {
	current := s.Snapshot()
	if !current.IsActive() {
		return nil, ErrNoTrade
	}
	if current.RoleOf(s.cfg.PartyID) != domain.RoleBuyer {
		return nil, domain.ErrNotParticipant
	}
	if current.Phase != domain.PhaseTradeCreated &&
		current.Phase != domain.PhaseFundsReleased {
		return nil, domain.ErrInvalidState
	}
	if pin == "" {
		return nil, ErrMissingPin
	}

	if current.Phase == domain.PhaseTradeCreated {
		res, err := s.reconciler.Resolve(ctx, reconcile.Request{
			UserID: s.cfg.PartyID,
			Role:   domain.RoleBuyer,
			Cached: current.BestKnownID(),
		})
		if err != nil {
			if errors.Is(err, domain.ErrNoActiveTransaction) {
				settled := s.settleMissingEscrow(ctx, current)
				if settled != nil && settled.Phase == domain.PhaseCompleted {
					return settled, nil
				}
			}
			return nil, err
		}
		if res.ID != current.TransactionID {
			if _, err := s.update(ctx, current.ID, func(t *domain.Trade) error {
				t.TransactionID = res.ID
				return nil
			}); err != nil {
				return nil, err
			}
		}

		rctx, cancel := context.WithTimeout(ctx, s.cfg.BackendTimeout)
		err = s.backend.ReleasePayment(rctx, res.ID, pin)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("failed to release funds: %w", backendError(err))
		}

		current, err = s.update(ctx, current.ID, applyAll(domain.EventFundsReleased))
		if err != nil {
			return nil, err
		}
	}

	if err := s.sendFundReleaseNotice(ctx, current); err != nil {
		log.WithError(err).Warn("failed to notify fund release, trade is completed anyway")
	}
	return s.update(ctx, current.ID, applyAll(domain.EventConfirmed))
}

// CancelTrade cancels the local trade. Only the buyer can cancel an escrow on
// the backend: a seller with funds in escrow asks the buyer to do it.
func (s *Service) CancelTrade(ctx context.Context) (CancelResult, error) {
	current := s.Snapshot()
	if !current.IsActive() {
		return "", ErrNoTrade
	}
	if current.Phase == domain.PhaseFundsReleased {
		return "", domain.ErrInvalidState
	}

	role := current.RoleOf(s.cfg.PartyID)
	if s.mayHoldEscrow(current) && role == domain.RoleSeller {
		if err := s.send(ctx, signal.CancelRequest{
			ActiveTransactionID: current.BestKnownID(),
			RequesterID:         s.cfg.PartyID,
			BuyerID:             current.BuyerID,
		}); err != nil {
			return "", err
		}
		return CancelRequested, nil
	}

	if err := s.cancel(ctx, current, s.mayHoldEscrow(current)); err != nil {
		return "", err
	}
	return CancelDone, nil
}

// cancel cancels the escrow on the backend if requested, then the local trade,
// and tells the counterpart.
func (s *Service) cancel(
	ctx context.Context, t *domain.Trade, withBackend bool,
) error {
	if withBackend {
		if err := s.cancelEscrow(ctx, t); err != nil {
			return err
		}
	}
	if _, err := s.update(ctx, t.ID, applyAll(domain.EventCancel)); err != nil {
		return err
	}
	if err := s.send(ctx, signal.TradeCancelled{}); err != nil {
		log.WithError(err).Warn("failed to notify trade cancellation")
	}
	return nil
}

// cancelEscrow cancels the reconciled transaction of the trade. A missing
// transaction is not an error, there is nothing to cancel.
func (s *Service) cancelEscrow(ctx context.Context, t *domain.Trade) error {
	res, err := s.reconciler.Resolve(ctx, reconcile.Request{
		UserID: s.cfg.PartyID,
		Role:   t.RoleOf(s.cfg.PartyID),
		Cached: t.BestKnownID(),
	})
	if err != nil {
		if errors.Is(err, domain.ErrNoActiveTransaction) {
			log.Infof("no escrow to cancel for trade %s", t.ID)
			return nil
		}
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, s.cfg.BackendTimeout)
	defer cancel()
	if err := s.backend.Cancel(cctx, res.ID); err != nil {
		return fmt.Errorf("failed to cancel escrow: %w", backendError(err))
	}
	return nil
}

func (s *Service) sendFundLockNotice(ctx context.Context, t *domain.Trade) error {
	return s.send(ctx, signal.FundLockNotice{
		TransactionID: domain.ReportedID(t.TransactionID),
		SellerID:      t.SellerID,
		TimerDuration: s.cfg.FundLockWindow,
	})
}

func (s *Service) sendFundReleaseNotice(ctx context.Context, t *domain.Trade) error {
	notice := signal.FundReleaseNotice{
		TransactionID: domain.ReportedID(t.TransactionID),
		BuyerID:       t.BuyerID,
		SellerID:      t.SellerID,
		BuyerName:     t.BuyerName,
		Currency:      s.cfg.Currency,
	}
	if t.Offer != nil {
		notice.Amount = t.Offer.Amount
		notice.Currency = t.Offer.Currency
	}
	return s.send(ctx, notice)
}
