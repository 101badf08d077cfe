package domain

import "fmt"

// Phase represents the locally-known stage of a trade's lifecycle.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseSellerReady
	PhaseBuyerAccepted
	PhaseTradeCreated
	PhaseFundsReleased
	PhaseCompleted
	PhaseCancelled
)

var phaseLabels = map[Phase]string{
	PhaseIdle:          "IDLE",
	PhaseSellerReady:   "SELLER_READY",
	PhaseBuyerAccepted: "BUYER_ACCEPTED",
	PhaseTradeCreated:  "TRADE_CREATED",
	PhaseFundsReleased: "FUNDS_RELEASED",
	PhaseCompleted:     "COMPLETED",
	PhaseCancelled:     "CANCELLED",
}

func (p Phase) String() string {
	if l, ok := phaseLabels[p]; ok {
		return l
	}
	return fmt.Sprintf("PHASE(%d)", int(p))
}

// MarshalText encodes the phase with its label so that persisted records stay
// readable and independent from the order of the constants.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Phase) UnmarshalText(text []byte) error {
	for phase, label := range phaseLabels {
		if label == string(text) {
			*p = phase
			return nil
		}
	}
	return fmt.Errorf("unknown phase %q", string(text))
}

// IsTerminal returns whether no further mutation is permitted for the trade.
func (p Phase) IsTerminal() bool {
	return p == PhaseCompleted || p == PhaseCancelled
}

// EventType enumerates the inputs of the phase state machine.
type EventType int

const (
	EventSellerReady EventType = iota
	EventBuyerAccept
	EventTransactionCreated
	EventFundsReleased
	EventConfirmed
	EventCancel
	EventTimerExpired
)

var eventLabels = map[EventType]string{
	EventSellerReady:        "sellerReady",
	EventBuyerAccept:        "buyerAccept",
	EventTransactionCreated: "transactionCreated",
	EventFundsReleased:      "fundsReleased",
	EventConfirmed:          "confirmed",
	EventCancel:             "cancel",
	EventTimerExpired:       "timerExpired",
}

func (e EventType) String() string {
	if l, ok := eventLabels[e]; ok {
		return l
	}
	return fmt.Sprintf("EVENT(%d)", int(e))
}

// forwardTargets maps every forward event to the phase it leads to.
var forwardTargets = map[EventType]Phase{
	EventSellerReady:        PhaseSellerReady,
	EventBuyerAccept:        PhaseBuyerAccepted,
	EventTransactionCreated: PhaseTradeCreated,
	EventFundsReleased:      PhaseFundsReleased,
	EventConfirmed:          PhaseCompleted,
}

// CanTransition returns whether the state machine allows moving from current
// to target in a single step.
func CanTransition(current, target Phase) bool {
	if current.IsTerminal() {
		return false
	}
	if target == PhaseCancelled {
		return true
	}
	return target == current+1 && target <= PhaseCompleted
}

// Apply is the pure transition function of the phase state machine.
// Events that would not advance the phase are no-ops, since the transport may
// deliver the same message more than once.
func Apply(current Phase, event EventType) (Phase, error) {
	switch event {
	case EventCancel:
		if current == PhaseCancelled {
			return current, nil
		}
		if current == PhaseCompleted {
			return current, newInvalidTransition(current, event)
		}
		return PhaseCancelled, nil

	case EventTimerExpired:
		switch current {
		case PhaseSellerReady, PhaseBuyerAccepted, PhaseTradeCreated:
			return PhaseCancelled, nil
		}
		// A countdown that fires after the trade moved on is stale.
		return current, nil
	}

	target, ok := forwardTargets[event]
	if !ok {
		return current, newInvalidTransition(current, event)
	}
	if current == PhaseCancelled {
		return current, newInvalidTransition(current, event)
	}
	if target <= current {
		return current, nil
	}
	if !CanTransition(current, target) {
		return current, newInvalidTransition(current, event)
	}
	return target, nil
}

// RequiresBackendCancel returns whether expiring a countdown in the given
// phase must also cancel the escrow on the backend.
func RequiresBackendCancel(p Phase) bool {
	return p == PhaseBuyerAccepted || p == PhaseTradeCreated
}
