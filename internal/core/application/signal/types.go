package signal

import (
	"errors"
	"time"

	"github.com/escrowchat/tradecoord/internal/core/domain"
	"github.com/shopspring/decimal"
)

// Kind is the discriminator of a Signal Message.
type Kind string

const (
	KindUnrecognized      Kind = ""
	KindSellerReady       Kind = "seller-ready"
	KindTradeOffer        Kind = "trade-offer"
	KindTradeAccept       Kind = "trade-accept"
	KindFundLockNotice    Kind = "fund-lock-notice"
	KindFundReleaseNotice Kind = "fund-release-notice"
	KindCancelRequest     Kind = "cancel-request"
	KindTradeCancelled    Kind = "trade-cancelled"
)

// Kinds lists every recognized kind.
var Kinds = []Kind{
	KindSellerReady,
	KindTradeOffer,
	KindTradeAccept,
	KindFundLockNotice,
	KindFundReleaseNotice,
	KindCancelRequest,
	KindTradeCancelled,
}

// ErrNotSignal is carried by Unrecognized for plain chat messages.
var ErrNotSignal = errors.New("message does not carry a trade signal")

// Signal is the tagged variant of every message kind.
type Signal interface {
	Kind() Kind
}

type SellerReady struct {
	SellerID   string
	SellerName string
	Price      decimal.Decimal
}

type TradeOffer struct {
	TransactionID domain.ReportedID
	SellerID      string
	BuyerID       string
	SellerName    string
	Amount        decimal.Decimal
	PaymentMethod string
	Network       string
	Asset         domain.Asset
	Credentials   domain.Credentials
}

type TradeAccept struct {
	AcceptedBy   string
	AcceptorName string
	AcceptedAt   time.Time
}

type FundLockNotice struct {
	TransactionID domain.ReportedID
	SellerID      string
	TimerDuration time.Duration
}

type FundReleaseNotice struct {
	TransactionID domain.ReportedID
	BuyerID       string
	SellerID      string
	BuyerName     string
	Amount        decimal.Decimal
	Currency      string
}

type CancelRequest struct {
	ActiveTransactionID domain.ReportedID
	RequesterID         string
	BuyerID             string
}

type TradeCancelled struct{}

// Unrecognized is produced for messages that are not signals or whose
// payload could not be parsed. Dispatchers treat it as a no-op.
type Unrecognized struct {
	RawKind string
	Err     error
}

func (SellerReady) Kind() Kind       { return KindSellerReady }
func (TradeOffer) Kind() Kind        { return KindTradeOffer }
func (TradeAccept) Kind() Kind       { return KindTradeAccept }
func (FundLockNotice) Kind() Kind    { return KindFundLockNotice }
func (FundReleaseNotice) Kind() Kind { return KindFundReleaseNotice }
func (CancelRequest) Kind() Kind     { return KindCancelRequest }
func (TradeCancelled) Kind() Kind    { return KindTradeCancelled }
func (Unrecognized) Kind() Kind      { return KindUnrecognized }

// IsFor returns whether the offer is addressed to the given local party: it
// must name it as buyer and someone else as seller. Anything else is an echo
// or addressed to the other side.
func (o TradeOffer) IsFor(localID string) bool {
	return o.BuyerID == localID && o.SellerID != localID
}

// Offer converts the signal into the domain snapshot.
func (o TradeOffer) Offer(currency string) *domain.Offer {
	return &domain.Offer{
		Amount:        o.Amount,
		Currency:      currency,
		PaymentMethod: o.PaymentMethod,
		Network:       o.Network,
		Asset:         o.Asset,
		Credentials:   o.Credentials,
	}
}

// IsParseError returns whether the unrecognized message was a malformed
// signal rather than a plain chat message.
func (u Unrecognized) IsParseError() bool {
	var perr *domain.ParseError
	return errors.As(u.Err, &perr)
}
