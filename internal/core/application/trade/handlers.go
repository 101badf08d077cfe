package trade

import (
	"context"

	"github.com/escrowchat/tradecoord/internal/core/application/signal"
	"github.com/escrowchat/tradecoord/internal/core/domain"
	"github.com/escrowchat/tradecoord/internal/core/ports"
	log "github.com/sirupsen/logrus"
)

const (
	scopeGlobal  = "global"
	scopeChannel = "channel"
)

// owners says which listener handles each kind of signal. Signals the
// counterpart may send before the channel listener is registered travel on
// the global one. Every kind has exactly one owner, so that no signal is
// processed twice.
var owners = map[signal.Kind]string{
	signal.KindSellerReady:       scopeChannel,
	signal.KindTradeOffer:        scopeGlobal,
	signal.KindTradeAccept:       scopeChannel,
	signal.KindFundLockNotice:    scopeChannel,
	signal.KindFundReleaseNotice: scopeChannel,
	signal.KindCancelRequest:     scopeGlobal,
	signal.KindTradeCancelled:    scopeChannel,
}

// OwnerOf returns the listener scope that handles the given kind.
func OwnerOf(kind signal.Kind) string {
	return owners[kind]
}

type handlerFunc func(ctx context.Context, msg ports.Message, sig signal.Signal) string

func (s *Service) listener(scope string) ports.MessageHandler {
	return func(msg ports.Message) {
		if msg.ChannelID != "" && msg.ChannelID != s.cfg.ChannelID {
			return
		}
		sig := signal.Decode(msg)
		kind := string(sig.Kind())

		if u, ok := sig.(signal.Unrecognized); ok {
			if u.IsParseError() && scope == scopeChannel {
				log.WithError(u.Err).Warnf("dropping malformed message %s", msg.ID)
				s.observer.ObserveSignal(u.RawKind, scope, OutcomeMalformed)
			}
			return
		}
		if owners[sig.Kind()] != scope {
			s.observer.ObserveSignal(kind, scope, OutcomeNotOwner)
			return
		}
		if !s.tracker.InScope(msg) {
			log.Debugf("ignoring %s from before the last completed trade", kind)
			s.observer.ObserveSignal(kind, scope, OutcomeOutOfScope)
			return
		}

		own := msg.SenderID == s.cfg.PartyID
		outcome := OutcomeIgnored
		if !own {
			outcome = s.handle(msg, sig)
		}
		// Only a release that settled the local trade closes the scope.
		if own || outcome == OutcomeHandled {
			s.tracker.Observe(msg, sig)
		}
		s.observer.ObserveSignal(kind, scope, outcome)

		if scope == scopeChannel {
			ctx, cancel := context.WithTimeout(context.Background(), s.cfg.BackendTimeout)
			defer cancel()
			if err := s.channel.MarkRead(ctx, s.cfg.ChannelID); err != nil {
				log.WithError(err).Debug("failed to mark channel as read")
			}
		}
	}
}

func (s *Service) handle(msg ports.Message, sig signal.Signal) string {
	var handler handlerFunc
	switch sig.(type) {
	case signal.SellerReady:
		handler = s.onSellerReady
	case signal.TradeAccept:
		handler = s.onTradeAccept
	case signal.TradeOffer:
		handler = s.onTradeOffer
	case signal.FundLockNotice:
		handler = s.onFundLockNotice
	case signal.FundReleaseNotice:
		handler = s.onFundReleaseNotice
	case signal.CancelRequest:
		handler = s.onCancelRequest
	case signal.TradeCancelled:
		handler = s.onTradeCancelled
	default:
		return OutcomeIgnored
	}

	ctx, cancel := context.WithTimeout(context.Background(), 4*s.cfg.BackendTimeout)
	defer cancel()
	return handler(ctx, msg, sig)
}

// handled turns the result of an update into a signal outcome.
func handled(kind signal.Kind, err error) string {
	if err != nil {
		log.WithError(err).Debugf("ignoring %s", kind)
		return OutcomeIgnored
	}
	return OutcomeHandled
}

func (s *Service) onSellerReady(
	ctx context.Context, msg ports.Message, sig signal.Signal,
) string {
	ready := sig.(signal.SellerReady)
	if ready.SellerID == "" || ready.SellerID == s.cfg.PartyID {
		return OutcomeIgnored
	}

	_, err := s.swap(ctx, func(current *domain.Trade) (*domain.Trade, error) {
		if current.IsActive() {
			if current.SellerID == ready.SellerID &&
				current.Phase == domain.PhaseSellerReady {
				// Redelivery, keep the running window.
				return nil, nil
			}
			return nil, ErrTradeInProgress
		}

		t := s.newTrade(ready.SellerID, s.cfg.PartyID)
		t.SellerName = ready.SellerName
		t.Price = ready.Price
		if _, err := t.Apply(domain.EventSellerReady); err != nil {
			return nil, err
		}
		t.Timer = domain.NewTimerState(
			domain.WindowResponse, s.cfg.ResponseWindow,
			anchorAt(msg, s.clock.Now()),
		)
		return t, nil
	})
	return handled(sig.Kind(), err)
}

func (s *Service) onTradeAccept(
	ctx context.Context, _ ports.Message, sig signal.Signal,
) string {
	accept := sig.(signal.TradeAccept)
	current := s.Snapshot()
	if !current.IsActive() ||
		current.RoleOf(s.cfg.PartyID) != domain.RoleSeller {
		return OutcomeIgnored
	}

	_, err := s.update(ctx, current.ID, func(t *domain.Trade) error {
		if accept.AcceptedBy != "" {
			t.BuyerID = accept.AcceptedBy
		}
		if accept.AcceptorName != "" {
			t.BuyerName = accept.AcceptorName
		}
		_, err := t.Apply(domain.EventBuyerAccept)
		return err
	})
	return handled(sig.Kind(), err)
}

func (s *Service) onTradeOffer(
	ctx context.Context, msg ports.Message, sig signal.Signal,
) string {
	offer := sig.(signal.TradeOffer)
	if !offer.IsFor(s.cfg.PartyID) {
		return OutcomeIgnored
	}
	if len(offer.TransactionID) > 0 {
		done, err := s.cache.IsCompleted(ctx, offer.TransactionID.String())
		if err != nil {
			log.WithError(err).Warn("failed to read completed trades")
		}
		if done {
			log.Debugf("ignoring offer %s of a completed trade", offer.TransactionID)
			return OutcomeIgnored
		}
	}

	_, err := s.swap(ctx, func(current *domain.Trade) (*domain.Trade, error) {
		t := current
		if !current.IsActive() {
			// The offer arrived before, or without, the seller-ready signal.
			t = s.newTrade(offer.SellerID, s.cfg.PartyID)
			t.SellerName = offer.SellerName
			t.Price = offer.Amount
			t.Timer = domain.NewTimerState(
				domain.WindowResponse, s.cfg.ResponseWindow,
				anchorAt(msg, s.clock.Now()),
			)
		}
		if t.RoleOf(s.cfg.PartyID) != domain.RoleBuyer ||
			t.SellerID != offer.SellerID {
			return nil, domain.ErrStaleReference
		}
		if !t.References(offer.TransactionID) {
			return nil, domain.ErrStaleReference
		}
		if t.Phase > domain.PhaseBuyerAccepted {
			// Offer redelivered after funds were locked.
			return nil, nil
		}

		for _, ev := range []domain.EventType{
			domain.EventSellerReady, domain.EventBuyerAccept,
		} {
			if _, err := t.Apply(ev); err != nil {
				return nil, err
			}
		}
		if offer.SellerName != "" {
			t.SellerName = offer.SellerName
		}
		t.Offer = offer.Offer(s.cfg.Currency)
		t.InvoiceID = domain.InvoiceID(offer.TransactionID)
		t.ReportedTransactionID = offer.TransactionID
		return t, nil
	})
	return handled(sig.Kind(), err)
}

func (s *Service) onFundLockNotice(
	ctx context.Context, msg ports.Message, sig signal.Signal,
) string {
	notice := sig.(signal.FundLockNotice)
	current := s.Snapshot()
	if !current.IsActive() ||
		current.RoleOf(s.cfg.PartyID) != domain.RoleSeller {
		return OutcomeIgnored
	}

	window := notice.TimerDuration
	if window <= 0 {
		window = s.cfg.FundLockWindow
	}
	// The notice carries the ledger id while the seller only knows the
	// invoice, so it is not matched against the trade references.
	_, err := s.update(ctx, current.ID, func(t *domain.Trade) error {
		if t.Phase >= domain.PhaseTradeCreated {
			return nil
		}
		if _, err := t.Apply(domain.EventBuyerAccept); err != nil {
			return err
		}
		if _, err := t.Apply(domain.EventTransactionCreated); err != nil {
			return err
		}
		t.ReportedTransactionID = notice.TransactionID
		t.Timer = domain.NewTimerState(
			domain.WindowFundLock, window, anchorAt(msg, s.clock.Now()),
		)
		return nil
	})
	return handled(sig.Kind(), err)
}

func (s *Service) onFundReleaseNotice(
	ctx context.Context, _ ports.Message, sig signal.Signal,
) string {
	notice := sig.(signal.FundReleaseNotice)
	current := s.Snapshot()
	if !current.IsActive() {
		return OutcomeIgnored
	}
	if !current.References(notice.TransactionID) {
		return handled(sig.Kind(), domain.ErrStaleReference)
	}

	_, err := s.update(ctx, current.ID, completeWith(notice))
	return handled(sig.Kind(), err)
}

func (s *Service) onCancelRequest(
	ctx context.Context, _ ports.Message, sig signal.Signal,
) string {
	req := sig.(signal.CancelRequest)
	current := s.Snapshot()
	if !current.IsActive() ||
		current.RoleOf(s.cfg.PartyID) != domain.RoleBuyer {
		return OutcomeIgnored
	}
	if req.BuyerID != "" && req.BuyerID != s.cfg.PartyID {
		return OutcomeIgnored
	}
	if !current.References(req.ActiveTransactionID) {
		return handled(sig.Kind(), domain.ErrStaleReference)
	}
	if current.Phase == domain.PhaseFundsReleased {
		return handled(sig.Kind(), domain.ErrInvalidState)
	}

	log.Infof("seller asked to cancel trade %s", current.ID)
	return handled(sig.Kind(), s.cancel(ctx, current, s.mayHoldEscrow(current)))
}

// onTradeCancelled follows the counterpart's cancellation. A buyer who may
// hold an escrow cancels it first and keeps the trade if that fails, so that
// its own countdown tries again.
func (s *Service) onTradeCancelled(
	ctx context.Context, _ ports.Message, sig signal.Signal,
) string {
	current := s.Snapshot()
	if !current.IsActive() {
		return OutcomeIgnored
	}
	if current.RoleOf(s.cfg.PartyID) == domain.RoleBuyer && s.mayHoldEscrow(current) {
		if current.Phase == domain.PhaseFundsReleased {
			return handled(sig.Kind(), domain.ErrInvalidState)
		}
		if err := s.cancelEscrow(ctx, current); err != nil {
			return handled(sig.Kind(), err)
		}
	}
	_, err := s.update(ctx, current.ID, applyAll(domain.EventCancel))
	return handled(sig.Kind(), err)
}

