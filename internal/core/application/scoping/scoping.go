// Package scoping decides which messages of a reused channel belong to the
// trade currently in progress.
package scoping

import (
	"sort"
	"sync"
	"time"

	"github.com/escrowchat/tradecoord/internal/core/application/signal"
	"github.com/escrowchat/tradecoord/internal/core/domain"
	"github.com/escrowchat/tradecoord/internal/core/ports"
)

// Scope splits a channel history at the most recent fund release.
type Scope struct {
	// Current holds the messages of the trade in progress.
	Current []ports.Message
	// Prior holds the messages of trades that already settled. They remain
	// visible as history but never drive the phase.
	Prior []ports.Message
	// Boundary is the creation time of the most recent fund release notice,
	// zero if there is none.
	Boundary time.Time
	// Release is the most recent fund release notice, nil if there is none.
	Release *ports.Message
	// Completed reports whether the last trade seen in scope is settled.
	Completed bool
}

// Resolve scopes the history of a channel. lastCompleted is the most recently
// archived completed trade of the channel, if any: an offer in scope that
// refers to it is a leftover of that trade, while any other offer starts a
// new one.
func Resolve(history []ports.Message, lastCompleted *domain.TradeRecord) Scope {
	msgs := make([]ports.Message, len(history))
	copy(msgs, history)
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})

	boundary := -1
	for i := len(msgs) - 1; i >= 0; i-- {
		if signal.Decode(msgs[i]).Kind() == signal.KindFundReleaseNotice {
			boundary = i
			break
		}
	}

	scope := Scope{Current: msgs}
	if boundary >= 0 {
		scope.Prior = msgs[:boundary+1]
		scope.Current = msgs[boundary+1:]
		scope.Boundary = msgs[boundary].CreatedAt
		scope.Release = &msgs[boundary]
		scope.Completed = true
	}

	for _, msg := range scope.Current {
		switch s := signal.Decode(msg).(type) {
		case signal.SellerReady:
			scope.Completed = false
		case signal.TradeOffer:
			scope.Completed = refersTo(s, lastCompleted)
		}
	}
	return scope
}

// refersTo returns whether the offer belongs to the archived trade: same
// asset and, when the offer carries an id, the same invoice or transaction.
func refersTo(offer signal.TradeOffer, record *domain.TradeRecord) bool {
	if record == nil || !offer.Asset.SameAs(record.Asset) {
		return false
	}
	if len(offer.TransactionID) <= 0 {
		return true
	}
	return offer.TransactionID.Matches(record.InvoiceID, record.TransactionID)
}

// Tracker applies the scoping rule to live messages. It is safe for
// concurrent use.
type Tracker struct {
	lock      *sync.RWMutex
	boundary  time.Time
	releaseID string
}

func NewTracker(boundary time.Time) *Tracker {
	return &Tracker{lock: &sync.RWMutex{}, boundary: boundary}
}

// InScope returns whether a message comes after the last fund release.
// Messages without a creation time are always in scope. A message created at
// the same instant as the release is in scope unless it is the release
// itself, as Resolve keeps it after the release in delivery order.
func (t *Tracker) InScope(msg ports.Message) bool {
	t.lock.RLock()
	defer t.lock.RUnlock()

	if msg.CreatedAt.IsZero() || t.boundary.IsZero() {
		return true
	}
	if msg.CreatedAt.Equal(t.boundary) {
		return msg.ID != t.releaseID
	}
	return msg.CreatedAt.After(t.boundary)
}

// Observe moves the boundary forward when the message is a fund release
// notice. It returns whether the boundary moved.
func (t *Tracker) Observe(msg ports.Message, s signal.Signal) bool {
	if s.Kind() != signal.KindFundReleaseNotice || msg.CreatedAt.IsZero() {
		return false
	}

	t.lock.Lock()
	defer t.lock.Unlock()

	if msg.CreatedAt.Before(t.boundary) ||
		(msg.CreatedAt.Equal(t.boundary) && msg.ID == t.releaseID) {
		return false
	}
	t.boundary = msg.CreatedAt
	t.releaseID = msg.ID
	return true
}

// Reset replaces the boundary with the given release, used when the history
// is scoped again. A nil release clears the boundary.
func (t *Tracker) Reset(release *ports.Message) {
	t.lock.Lock()
	defer t.lock.Unlock()

	t.boundary, t.releaseID = time.Time{}, ""
	if release != nil {
		t.boundary, t.releaseID = release.CreatedAt, release.ID
	}
}

func (t *Tracker) Boundary() time.Time {
	t.lock.RLock()
	defer t.lock.RUnlock()

	return t.boundary
}
