package scoping_test

import (
	"testing"
	"time"

	"github.com/escrowchat/tradecoord/internal/core/application/scoping"
	"github.com/escrowchat/tradecoord/internal/core/application/signal"
	"github.com/escrowchat/tradecoord/internal/core/domain"
	"github.com/escrowchat/tradecoord/internal/core/ports"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var (
	t0        = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	instagram = domain.Asset{Platform: "instagram", AccountUsername: "sunsets"}
	tiktok    = domain.Asset{Platform: "tiktok", AccountUsername: "dances"}
	archived  = &domain.TradeRecord{
		ID:            "t1",
		ChannelID:     "chan",
		Asset:         instagram,
		InvoiceID:     "INV1",
		TransactionID: "TXN1",
		Phase:         domain.PhaseCompleted,
	}
)

type history struct {
	t    *testing.T
	msgs []ports.Message
}

func (h *history) add(s signal.Signal) *history {
	out, err := signal.Encode(s)
	require.NoError(h.t, err)

	h.msgs = append(h.msgs, ports.Message{
		ID:        string(rune('a' + len(h.msgs))),
		ChannelID: "chan",
		Kind:      out.Kind,
		CreatedAt: t0.Add(time.Duration(len(h.msgs)) * time.Minute),
		Text:      out.Text,
		Payload:   out.Payload,
	})
	return h
}

func (h *history) chat(text string) *history {
	h.msgs = append(h.msgs, ports.Message{
		ID:        string(rune('a' + len(h.msgs))),
		ChannelID: "chan",
		CreatedAt: t0.Add(time.Duration(len(h.msgs)) * time.Minute),
		Text:      text,
	})
	return h
}

func offerFor(asset domain.Asset, invoice domain.ReportedID) signal.TradeOffer {
	return signal.TradeOffer{
		TransactionID: invoice,
		SellerID:      "seller",
		BuyerID:       "buyer",
		Amount:        decimal.NewFromInt(100),
		Asset:         asset,
		Credentials:   domain.Credentials{AccountPassword: "secret-" + asset.Platform},
	}
}

func fullTrade(h *history, asset domain.Asset, invoice, tx domain.ReportedID) *history {
	return h.
		add(signal.SellerReady{SellerID: "seller", Price: decimal.NewFromInt(100)}).
		add(signal.TradeAccept{AcceptedBy: "buyer", AcceptedAt: t0}).
		add(offerFor(asset, invoice)).
		add(signal.FundLockNotice{TransactionID: tx, SellerID: "seller", TimerDuration: 300 * time.Second}).
		add(signal.FundReleaseNotice{TransactionID: tx, BuyerID: "buyer", SellerID: "seller"})
}

func TestResolveSequentialTrades(t *testing.T) {
	h := fullTrade(&history{t: t}, instagram, "INV1", "TXN1")
	h.chat("thanks!")
	h.add(signal.SellerReady{SellerID: "seller", Price: decimal.NewFromInt(80)})

	scope := scoping.Resolve(h.msgs, archived)
	require.Len(t, scope.Prior, 5)
	require.Len(t, scope.Current, 2)
	require.Equal(t, h.msgs[4].CreatedAt, scope.Boundary)
	require.False(t, scope.Completed)

	derived := scoping.Derive(scope)
	require.Equal(t, domain.PhaseSellerReady, derived.Phase)
	require.Nil(t, derived.Offer)
	require.Empty(t, derived.ReportedID)
	require.Equal(t, "seller", derived.SellerID)
}

func TestResolveNoRelease(t *testing.T) {
	h := (&history{t: t}).
		add(signal.SellerReady{SellerID: "seller"}).
		add(signal.TradeAccept{AcceptedBy: "buyer", AcceptedAt: t0})

	scope := scoping.Resolve(h.msgs, nil)
	require.Len(t, scope.Current, 2)
	require.Empty(t, scope.Prior)
	require.True(t, scope.Boundary.IsZero())
	require.False(t, scope.Completed)
}

func TestResolveEmpty(t *testing.T) {
	scope := scoping.Resolve(nil, nil)
	require.Empty(t, scope.Current)
	require.False(t, scope.Completed)
	require.Equal(t, domain.PhaseIdle, scoping.Derive(scope).Phase)
}

func TestResolveUnorderedHistory(t *testing.T) {
	h := fullTrade(&history{t: t}, instagram, "INV1", "TXN1")
	h.add(signal.SellerReady{SellerID: "seller"})

	reversed := make([]ports.Message, 0, len(h.msgs))
	for i := len(h.msgs) - 1; i >= 0; i-- {
		reversed = append(reversed, h.msgs[i])
	}

	scope := scoping.Resolve(reversed, nil)
	require.Len(t, scope.Current, 1)
	require.Len(t, scope.Prior, 5)
}

func TestResolveCompletedCorollary(t *testing.T) {
	t.Run("released_and_nothing_new", func(t *testing.T) {
		h := fullTrade(&history{t: t}, instagram, "INV1", "TXN1")
		require.True(t, scoping.Resolve(h.msgs, archived).Completed)
	})

	t.Run("leftover_offer_of_completed_trade", func(t *testing.T) {
		// The release notice never reached the channel, but the archive
		// knows the trade for this asset completed.
		h := (&history{t: t}).
			add(signal.SellerReady{SellerID: "seller"}).
			add(offerFor(instagram, "INV1"))

		require.True(t, scoping.Resolve(h.msgs, archived).Completed)
	})

	t.Run("offer_for_another_asset", func(t *testing.T) {
		h := fullTrade(&history{t: t}, instagram, "INV1", "TXN1")
		h.add(offerFor(tiktok, "INV2"))

		scope := scoping.Resolve(h.msgs, archived)
		require.False(t, scope.Completed)

		derived := scoping.Derive(scope)
		require.NotNil(t, derived.Offer)
		require.Equal(t, tiktok, derived.Offer.Asset)
	})

	t.Run("same_asset_resold_after_new_ready", func(t *testing.T) {
		h := fullTrade(&history{t: t}, instagram, "INV1", "TXN1")
		h.add(signal.SellerReady{SellerID: "seller"})
		h.add(offerFor(instagram, "INV2"))

		require.False(t, scoping.Resolve(h.msgs, archived).Completed)
	})
}

func TestDerive(t *testing.T) {
	t.Run("fund_lock", func(t *testing.T) {
		h := (&history{t: t}).
			add(signal.SellerReady{SellerID: "seller", SellerName: "Sally"}).
			add(signal.TradeAccept{AcceptedBy: "buyer", AcceptorName: "Bob", AcceptedAt: t0}).
			add(offerFor(instagram, "INV1")).
			add(signal.FundLockNotice{TransactionID: "TXN1", SellerID: "seller", TimerDuration: 300 * time.Second})

		d := scoping.Derive(scoping.Resolve(h.msgs, nil))
		require.Equal(t, domain.PhaseTradeCreated, d.Phase)
		require.Equal(t, domain.ReportedID("TXN1"), d.ReportedID)
		require.Equal(t, "buyer", d.BuyerID)
		require.Equal(t, "Bob", d.BuyerName)
		require.Equal(t, "Sally", d.SellerName)
		require.Equal(t, h.msgs[3].CreatedAt, d.LockedAt)
		require.Equal(t, 300*time.Second, d.LockDuration)
	})

	t.Run("duplicates_are_harmless", func(t *testing.T) {
		h := (&history{t: t}).
			add(signal.SellerReady{SellerID: "seller"}).
			add(signal.SellerReady{SellerID: "seller"}).
			add(signal.TradeAccept{AcceptedBy: "buyer", AcceptedAt: t0}).
			add(signal.TradeAccept{AcceptedBy: "buyer", AcceptedAt: t0})

		d := scoping.Derive(scoping.Resolve(h.msgs, nil))
		require.Equal(t, domain.PhaseBuyerAccepted, d.Phase)
	})

	t.Run("cancelled_then_restarted", func(t *testing.T) {
		h := (&history{t: t}).
			add(signal.SellerReady{SellerID: "seller"}).
			add(signal.TradeAccept{AcceptedBy: "buyer", AcceptedAt: t0}).
			add(offerFor(instagram, "INV1")).
			add(signal.TradeCancelled{}).
			add(signal.SellerReady{SellerID: "seller"})

		d := scoping.Derive(scoping.Resolve(h.msgs, nil))
		require.Equal(t, domain.PhaseSellerReady, d.Phase)
		require.Nil(t, d.Offer)
		require.Empty(t, d.BuyerID)
	})

	t.Run("cancelled", func(t *testing.T) {
		h := (&history{t: t}).
			add(signal.SellerReady{SellerID: "seller"}).
			add(signal.TradeCancelled{})

		d := scoping.Derive(scoping.Resolve(h.msgs, nil))
		require.Equal(t, domain.PhaseCancelled, d.Phase)
	})
}

func TestTracker(t *testing.T) {
	tracker := scoping.NewTracker(time.Time{})
	at := func(d time.Duration) ports.Message {
		return ports.Message{CreatedAt: t0.Add(d)}
	}
	release := signal.FundReleaseNotice{TransactionID: "TXN1"}

	require.True(t, tracker.InScope(at(0)))

	require.False(t, tracker.Observe(at(time.Minute), signal.SellerReady{}))
	require.True(t, tracker.Observe(at(time.Minute), release))
	require.Equal(t, t0.Add(time.Minute), tracker.Boundary())

	// The same notice delivered again is out of scope and does not move the
	// boundary.
	require.False(t, tracker.InScope(at(time.Minute)))
	require.False(t, tracker.Observe(at(time.Minute), release))

	require.False(t, tracker.InScope(at(30*time.Second)))
	require.True(t, tracker.InScope(at(2*time.Minute)))
	require.True(t, tracker.InScope(ports.Message{}))

	tracker.Reset(nil)
	require.True(t, tracker.InScope(at(30*time.Second)))
}

func TestTrackerAgreesWithResolve(t *testing.T) {
	msg := func(id string, sig signal.Signal) ports.Message {
		out, err := signal.Encode(sig)
		require.NoError(t, err)
		return ports.Message{
			ID: id, ChannelID: "chan", Kind: out.Kind, SenderID: "seller",
			CreatedAt: t0, Text: out.Text, Payload: out.Payload,
		}
	}
	ready := msg("m1", signal.SellerReady{SellerID: "seller"})
	release := msg("m2", signal.FundReleaseNotice{TransactionID: "TXN1"})
	next := msg("m3", signal.SellerReady{SellerID: "seller"})

	// All three share the same creation time.
	scope := scoping.Resolve([]ports.Message{ready, release, next}, nil)
	require.Len(t, scope.Prior, 2)
	require.Equal(t, []ports.Message{next}, scope.Current)
	require.NotNil(t, scope.Release)
	require.Equal(t, "m2", scope.Release.ID)

	tracker := scoping.NewTracker(time.Time{})
	tracker.Reset(scope.Release)
	require.False(t, tracker.InScope(release))
	require.True(t, tracker.InScope(next))

	live := scoping.NewTracker(time.Time{})
	require.True(t, live.InScope(ready))
	require.True(t, live.Observe(release, signal.FundReleaseNotice{}))
	require.False(t, live.InScope(release))
	require.False(t, live.Observe(release, signal.FundReleaseNotice{}))
	require.True(t, live.InScope(next))
	require.Equal(t, t0, live.Boundary())
}
