package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Role is the side a party holds in a trade.
type Role string

const (
	RoleNone   Role = ""
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
)

// Asset describes the digital asset being traded.
type Asset struct {
	Platform        string `json:"platform"`
	AccountUsername string `json:"account_username"`
}

// IsZero returns whether the asset is undefined.
func (a Asset) IsZero() bool {
	return a.Platform == "" && a.AccountUsername == ""
}

// SameAs compares two assets ignoring letter case of the platform name.
func (a Asset) SameAs(other Asset) bool {
	return strings.EqualFold(a.Platform, other.Platform) &&
		a.AccountUsername == other.AccountUsername
}

// Credentials is the opaque secret bundle the seller hands over with the
// offer.
type Credentials struct {
	OriginalEmail         string `json:"account_original_email"`
	OriginalEmailPassword string `json:"original_email_password"`
	AccountPassword       string `json:"social_account_password"`
}

// IsZero returns whether no credential has been handed over.
func (c Credentials) IsZero() bool {
	return c == Credentials{}
}

// Offer is the denormalized snapshot of what the seller offered.
type Offer struct {
	Amount        decimal.Decimal `json:"offer_amount"`
	Currency      string          `json:"currency"`
	PaymentMethod string          `json:"payment_method"`
	Network       string          `json:"payment_network"`
	Asset         Asset           `json:"asset"`
	Credentials   Credentials     `json:"credentials"`
}

// Trade is the conceptual unit of negotiation held by the local party.
type Trade struct {
	ID                    string          `json:"id"`
	ChannelID             string          `json:"channel_id"`
	BuyerID               string          `json:"buyer_id"`
	BuyerName             string          `json:"buyer_name"`
	SellerID              string          `json:"seller_id"`
	SellerName            string          `json:"seller_name"`
	Price                 decimal.Decimal `json:"price"`
	Offer                 *Offer          `json:"offer,omitempty"`
	InvoiceID             InvoiceID       `json:"invoice_id,omitempty"`
	TransactionID         TransactionID   `json:"transaction_id,omitempty"`
	ReportedTransactionID ReportedID      `json:"reported_transaction_id,omitempty"`
	Phase                 Phase           `json:"phase"`
	Timer                 TimerState      `json:"timer"`
	CreatedAt             time.Time       `json:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at"`
}

// NewTrade returns an idle trade with a new local id, scoped to the given
// channel.
func NewTrade(channelID, sellerID, buyerID string) *Trade {
	now := time.Now()
	return &Trade{
		ID:        uuid.New().String(),
		ChannelID: channelID,
		SellerID:  sellerID,
		BuyerID:   buyerID,
		Phase:     PhaseIdle,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Apply feeds the event to the phase state machine. It returns whether the
// phase changed.
func (t *Trade) Apply(event EventType) (bool, error) {
	next, err := Apply(t.Phase, event)
	if err != nil {
		return false, err
	}
	if next == t.Phase {
		return false, nil
	}
	t.Phase = next
	t.UpdatedAt = time.Now()
	if next.IsTerminal() {
		t.Timer = TimerState{}
	}
	return true, nil
}

// RoleOf returns the role the given party holds in the trade.
func (t *Trade) RoleOf(partyID string) Role {
	switch partyID {
	case t.BuyerID:
		return RoleBuyer
	case t.SellerID:
		return RoleSeller
	default:
		return RoleNone
	}
}

// Counterpart returns the id of the other party.
func (t *Trade) Counterpart(partyID string) string {
	if partyID == t.BuyerID {
		return t.SellerID
	}
	return t.BuyerID
}

// IsActive returns whether the trade is still open.
func (t *Trade) IsActive() bool {
	return t != nil && !t.Phase.IsTerminal()
}

// MayHoldEscrow returns whether a backend transaction may exist for the trade
// as seen by the given party. An invoice alone only counts for the buyer,
// who is the one accepting it.
func (t *Trade) MayHoldEscrow(partyID string) bool {
	if t.Phase >= PhaseTradeCreated || len(t.TransactionID) > 0 {
		return true
	}
	return t.RoleOf(partyID) == RoleBuyer && len(t.InvoiceID) > 0
}

// References returns whether a reported id refers to this trade. A trade
// that has not been bound to any backend id yet accepts every reference.
func (t *Trade) References(id ReportedID) bool {
	if len(id) <= 0 {
		return true
	}
	if len(t.InvoiceID) <= 0 && len(t.TransactionID) <= 0 &&
		len(t.ReportedTransactionID) <= 0 {
		return true
	}
	return id.Matches(t.InvoiceID, t.TransactionID) ||
		id == t.ReportedTransactionID
}

// BestKnownID returns the most trustworthy identifier known locally, used as
// the cached value the reconciliation compares against.
func (t *Trade) BestKnownID() ReportedID {
	switch {
	case len(t.TransactionID) > 0:
		return ReportedID(t.TransactionID)
	case len(t.ReportedTransactionID) > 0:
		return t.ReportedTransactionID
	default:
		return ReportedID(t.InvoiceID)
	}
}

// Asset returns the traded asset, if the offer was exchanged.
func (t *Trade) Asset() Asset {
	if t.Offer == nil {
		return Asset{}
	}
	return t.Offer.Asset
}

// Clone returns a deep copy of the trade.
func (t *Trade) Clone() *Trade {
	if t == nil {
		return nil
	}
	c := *t
	if t.Offer != nil {
		o := *t.Offer
		c.Offer = &o
	}
	return &c
}
