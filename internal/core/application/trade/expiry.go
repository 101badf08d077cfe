package trade

import (
	"context"

	"github.com/escrowchat/tradecoord/internal/core/application/signal"
	"github.com/escrowchat/tradecoord/internal/core/domain"
	log "github.com/sirupsen/logrus"
)

// onExpire is called by the countdown when a window runs out. Before any
// escrow exists the trade is cancelled locally. Afterwards the buyer cancels
// the escrow on the backend first, while the seller asks the buyer to do it.
// Until the escrow is gone the trade is kept and the countdown re-armed for
// another attempt.
func (s *Service) onExpire(window domain.Window) {
	current := s.Snapshot()
	if !current.IsActive() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 4*s.cfg.BackendTimeout)
	defer cancel()

	log.Infof("%s window of trade %s expired in phase %s", window, current.ID, current.Phase)

	if domain.RequiresBackendCancel(current.Phase) && s.mayHoldEscrow(current) {
		if current.RoleOf(s.cfg.PartyID) == domain.RoleSeller {
			s.requestExpiryCancel(ctx, window, current)
			return
		}
		if !s.cancelExpiredEscrow(ctx, window, current) {
			return
		}
	}

	if _, err := s.update(ctx, current.ID, applyAll(domain.EventTimerExpired)); err != nil {
		log.WithError(err).Warnf("failed to expire trade %s", current.ID)
		return
	}
	if err := s.send(ctx, signal.TradeCancelled{}); err != nil {
		log.WithError(err).Warn("failed to notify trade expiry")
	}
}

// cancelExpiredEscrow returns whether the trade can be expired locally, that
// is whether the escrow was cancelled or no longer exists.
func (s *Service) cancelExpiredEscrow(
	ctx context.Context, window domain.Window, current *domain.Trade,
) bool {
	if err := s.cancelEscrow(ctx, current); err != nil {
		log.WithError(err).Warnf(
			"could not cancel escrow of expired trade %s, retrying in %s",
			current.ID, expiryRetryDelay,
		)
		s.countdown.Start(window, expiryRetryDelay)
		return false
	}
	return true
}

// requestExpiryCancel asks the buyer to cancel the escrow of an expired trade.
// The seller keeps the trade until the buyer confirms with trade-cancelled,
// and asks again every expiryRetryDelay.
func (s *Service) requestExpiryCancel(
	ctx context.Context, window domain.Window, current *domain.Trade,
) {
	if err := s.send(ctx, signal.CancelRequest{
		ActiveTransactionID: current.BestKnownID(),
		RequesterID:         s.cfg.PartyID,
		BuyerID:             current.BuyerID,
	}); err != nil {
		log.WithError(err).Warnf("failed to ask cancellation of expired trade %s", current.ID)
	}
	// The buyer may have answered already.
	if latest := s.Snapshot(); latest.IsActive() && latest.ID == current.ID {
		s.countdown.Start(window, expiryRetryDelay)
	}
}
