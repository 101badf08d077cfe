package scoping

import (
	"time"

	"github.com/escrowchat/tradecoord/internal/core/application/signal"
	"github.com/escrowchat/tradecoord/internal/core/domain"
	log "github.com/sirupsen/logrus"
)

// Derived is the trade rebuilt from the messages in scope.
type Derived struct {
	Phase         domain.Phase
	SellerID      string
	SellerName    string
	BuyerID       string
	BuyerName     string
	Ready         *signal.SellerReady
	Offer         *signal.TradeOffer
	ReportedID    domain.ReportedID
	StartedAt     time.Time
	LockedAt      time.Time
	LockDuration  time.Duration
	LastMessageAt time.Time
}

// Derive replays the signals in scope through the phase state machine. A
// seller-ready seen after a terminal phase starts over, since a cancelled
// trade does not move the scope boundary.
func Derive(scope Scope) Derived {
	d := Derived{Phase: domain.PhaseIdle}

	for _, msg := range scope.Current {
		s := signal.Decode(msg)
		var events []domain.EventType

		switch v := s.(type) {
		case signal.SellerReady:
			if d.Phase.IsTerminal() {
				d = Derived{Phase: domain.PhaseIdle}
			}
			if d.Phase == domain.PhaseIdle {
				ready := v
				d.Ready = &ready
				d.SellerID = v.SellerID
				d.SellerName = v.SellerName
				d.StartedAt = msg.CreatedAt
			}
			events = []domain.EventType{domain.EventSellerReady}
		case signal.TradeAccept:
			if d.BuyerID == "" {
				d.BuyerID = v.AcceptedBy
				d.BuyerName = v.AcceptorName
			}
			events = []domain.EventType{domain.EventBuyerAccept}
		case signal.TradeOffer:
			if d.Phase.IsTerminal() {
				continue
			}
			offer := v
			d.Offer = &offer
			d.SellerID = v.SellerID
			d.BuyerID = v.BuyerID
			if d.SellerName == "" {
				d.SellerName = v.SellerName
			}
			if len(v.TransactionID) > 0 {
				d.ReportedID = v.TransactionID
			}
		case signal.FundLockNotice:
			if len(v.TransactionID) > 0 {
				d.ReportedID = v.TransactionID
			}
			d.LockedAt = msg.CreatedAt
			d.LockDuration = v.TimerDuration
			events = []domain.EventType{domain.EventTransactionCreated}
		case signal.FundReleaseNotice:
			events = []domain.EventType{
				domain.EventFundsReleased, domain.EventConfirmed,
			}
		case signal.TradeCancelled:
			events = []domain.EventType{domain.EventCancel}
		default:
			continue
		}

		for _, ev := range events {
			next, err := domain.Apply(d.Phase, ev)
			if err != nil {
				log.WithError(err).Debugf("skipping out of order %s", s.Kind())
				break
			}
			d.Phase = next
		}
		d.LastMessageAt = msg.CreatedAt
	}
	return d
}
