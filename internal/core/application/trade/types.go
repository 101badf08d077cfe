package trade

import (
	"time"

	"github.com/escrowchat/tradecoord/internal/core/domain"
	"github.com/shopspring/decimal"
)

const (
	DefaultBackendTimeout = 8 * time.Second
	// expiryRetryDelay re-arms an expired window whose escrow is not
	// cancelled yet.
	expiryRetryDelay = 30 * time.Second
)

// Config holds the identity of the local party and the protocol windows.
type Config struct {
	PartyID   string
	PartyName string
	// CounterpartID is optional: the buyer is otherwise learned from the
	// trade-accept message.
	CounterpartID  string
	ChannelID      string
	Currency       string
	ResponseWindow time.Duration
	FundLockWindow time.Duration
	BackendTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.ResponseWindow <= 0 {
		c.ResponseWindow = domain.DefaultResponseWindow
	}
	if c.FundLockWindow <= 0 {
		c.FundLockWindow = domain.DefaultFundLockWindow
	}
	if c.BackendTimeout <= 0 {
		c.BackendTimeout = DefaultBackendTimeout
	}
	return c
}

// OfferInput is what the seller submits once the buyer accepted.
type OfferInput struct {
	Amount        decimal.Decimal
	Currency      string
	PaymentMethod string
	Network       string
	Asset         domain.Asset
	Credentials   domain.Credentials
}

func (i OfferInput) validate() error {
	if !i.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	if i.Asset.Platform == "" || i.Asset.AccountUsername == "" {
		return ErrMissingAsset
	}
	if i.Credentials.IsZero() {
		return ErrMissingCredentials
	}
	return nil
}

// CancelResult tells whether a cancellation took effect or was requested to
// the counterpart.
type CancelResult string

const (
	CancelDone      CancelResult = "cancelled"
	CancelRequested CancelResult = "requested"
)

// Observer is notified of what the driver does. It is used for metrics.
type Observer interface {
	ObserveTransition(from, to domain.Phase)
	ObserveSignal(kind, scope, outcome string)
}

// Signal outcomes reported to the Observer.
const (
	OutcomeHandled    = "handled"
	OutcomeIgnored    = "ignored"
	OutcomeNotOwner   = "not_owner"
	OutcomeOutOfScope = "out_of_scope"
	OutcomeMalformed  = "malformed"
)

type noopObserver struct{}

func (noopObserver) ObserveTransition(_, _ domain.Phase) {}
func (noopObserver) ObserveSignal(_, _, _ string)        {}
