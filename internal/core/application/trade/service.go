package trade

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/escrowchat/tradecoord/internal/core/application/countdown"
	"github.com/escrowchat/tradecoord/internal/core/application/pubsub"
	"github.com/escrowchat/tradecoord/internal/core/application/reconcile"
	"github.com/escrowchat/tradecoord/internal/core/application/scoping"
	"github.com/escrowchat/tradecoord/internal/core/application/signal"
	"github.com/escrowchat/tradecoord/internal/core/application/tradecache"
	"github.com/escrowchat/tradecoord/internal/core/domain"
	"github.com/escrowchat/tradecoord/internal/core/ports"
	log "github.com/sirupsen/logrus"
)

// Deps are the collaborators of the Service. Clock, PubSub and Observer are
// optional.
type Deps struct {
	Channel    ports.MessagingChannel
	Backend    ports.TransactionBackend
	Cache      *tradecache.Store
	Archive    domain.TradeRecordRepository
	Reconciler *reconcile.Engine
	PubSub     *pubsub.Service
	Observer   Observer
	Clock      countdown.Clock
}

// Service drives the trade protocol of the local party on one channel. It is
// the only writer of the trade cache.
type Service struct {
	cfg        Config
	channel    ports.MessagingChannel
	backend    ports.TransactionBackend
	cache      *tradecache.Store
	archive    domain.TradeRecordRepository
	reconciler *reconcile.Engine
	pubsub     *pubsub.Service
	observer   Observer
	clock      countdown.Clock
	countdown  *countdown.Manager
	tracker    *scoping.Tracker

	lock        *sync.RWMutex
	trade       *domain.Trade
	unsubscribe []func()
}

func NewService(cfg Config, deps Deps) (*Service, error) {
	if cfg.PartyID == "" {
		return nil, fmt.Errorf("missing local party id")
	}
	if cfg.ChannelID == "" {
		return nil, fmt.Errorf("missing channel id")
	}
	if deps.Channel == nil {
		return nil, fmt.Errorf("missing messaging channel")
	}
	if deps.Backend == nil {
		return nil, fmt.Errorf("missing transaction backend")
	}
	if deps.Cache == nil {
		return nil, fmt.Errorf("missing trade cache")
	}
	if deps.Archive == nil {
		return nil, fmt.Errorf("missing trade archive")
	}
	cfg = cfg.withDefaults()

	reconciler := deps.Reconciler
	if reconciler == nil {
		reconciler = reconcile.NewEngine(deps.Backend, cfg.BackendTimeout)
	}
	observer := deps.Observer
	if observer == nil {
		observer = noopObserver{}
	}
	clock := deps.Clock
	if clock == nil {
		clock = countdown.SystemClock
	}

	svc := &Service{
		cfg:        cfg,
		channel:    deps.Channel,
		backend:    deps.Backend,
		cache:      deps.Cache,
		archive:    deps.Archive,
		reconciler: reconciler,
		pubsub:     deps.PubSub,
		observer:   observer,
		clock:      clock,
		tracker:    scoping.NewTracker(time.Time{}),
		lock:       &sync.RWMutex{},
	}
	svc.countdown = countdown.NewManager(clock, svc.onExpire)
	return svc, nil
}

// Start registers the global and channel listeners and resumes the persisted
// trade, if any.
func (s *Service) Start(ctx context.Context) error {
	s.lock.Lock()
	if len(s.unsubscribe) > 0 {
		s.lock.Unlock()
		return nil
	}
	s.unsubscribe = []func(){
		s.channel.OnMessage(ports.GlobalScope, s.listener(scopeGlobal)),
		s.channel.OnMessage(s.cfg.ChannelID, s.listener(scopeChannel)),
	}
	s.lock.Unlock()

	return s.Resume(ctx)
}

// Stop unregisters the listeners and halts the running countdown. The cached
// trade is kept for the next Start.
func (s *Service) Stop() {
	s.lock.Lock()
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.lock.Unlock()

	for _, fn := range unsubscribe {
		fn()
	}
	s.countdown.Stop()
}

// Snapshot returns a copy of the local trade with the countdown read at now,
// or nil if no trade was ever started.
func (s *Service) Snapshot() *domain.Trade {
	s.lock.RLock()
	defer s.lock.RUnlock()

	if s.trade == nil {
		return nil
	}
	t := s.trade.Clone()
	t.Timer = t.Timer.Read(s.clock.Now())
	return t
}

// CurrentPhase returns the phase of the given trade, looking into the archive
// for trades that are no longer the local one.
func (s *Service) CurrentPhase(tradeID string) domain.Phase {
	s.lock.RLock()
	if s.trade != nil && s.trade.ID == tradeID {
		phase := s.trade.Phase
		s.lock.RUnlock()
		return phase
	}
	s.lock.RUnlock()

	record, err := s.archive.GetTradeRecord(context.Background(), tradeID)
	if err != nil || record == nil {
		return domain.PhaseIdle
	}
	return record.Phase
}

// ListTrades returns the archived trades of the channel, most recent first.
func (s *Service) ListTrades(ctx context.Context) ([]domain.TradeRecord, error) {
	return s.archive.GetTradeRecordsForChannel(ctx, s.cfg.ChannelID)
}

// Resume rebuilds the local trade from the cache, or from the scoped channel
// history when the cache is empty, then checks it against the backend and
// restarts its countdown. A cached trade whose release shows up in the
// history is completed right away.
func (s *Service) Resume(ctx context.Context) error {
	var lastCompleted *domain.TradeRecord
	if rec, err := s.archive.GetLastCompletedForChannel(ctx, s.cfg.ChannelID); err != nil {
		log.WithError(err).Warn("failed to read last completed trade")
	} else {
		lastCompleted = rec
	}

	history, err := s.channel.History(ctx, s.cfg.ChannelID)
	if err != nil {
		log.WithError(err).Warn("failed to fetch channel history, scoping live messages only")
	}
	scope := scoping.Resolve(history, lastCompleted)
	s.tracker.Reset(scope.Release)

	var trade *domain.Trade
	entry, err := s.cache.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load trade cache: %w", err)
	}
	if entry != nil && entry.ChannelID == s.cfg.ChannelID {
		trade = entry.TradeData
		log.Infof("resuming trade %s in phase %s from cache", trade.ID, trade.Phase)
	} else if !scope.Completed {
		trade = s.tradeFromScope(scoping.Derive(scope))
		if trade != nil {
			log.Infof(
				"resuming trade %s in phase %s from channel history",
				trade.ID, trade.Phase,
			)
		}
	}
	if trade == nil || !trade.IsActive() {
		return nil
	}

	s.lock.Lock()
	s.trade = trade
	s.lock.Unlock()

	if err := s.cache.Save(ctx, trade); err != nil {
		log.WithError(err).Warn("failed to persist resumed trade")
	}

	if notice, ok := releasedInHistory(scope, trade); ok {
		log.Infof("trade %s was released while offline, completing it", trade.ID)
		if _, err := s.update(ctx, trade.ID, completeWith(notice)); err != nil {
			log.WithError(err).Warnf("failed to complete trade %s", trade.ID)
		}
		return nil
	}

	if s.mayHoldEscrow(trade) {
		s.reconcileOnResume(ctx, trade)
	}

	s.lock.RLock()
	resumed := s.trade.Clone()
	s.lock.RUnlock()

	if resumed.IsActive() && resumed.Timer.IsActive {
		s.countdown.Resume(resumed.Timer)
	}
	return nil
}

func (s *Service) tradeFromScope(d scoping.Derived) *domain.Trade {
	if d.Phase == domain.PhaseIdle || d.Phase.IsTerminal() {
		return nil
	}
	buyerID := d.BuyerID
	if buyerID == "" {
		buyerID = s.cfg.CounterpartID
	}
	if d.SellerID != s.cfg.PartyID && buyerID == "" {
		buyerID = s.cfg.PartyID
	}
	t := s.newTrade(d.SellerID, buyerID)
	if t.RoleOf(s.cfg.PartyID) == domain.RoleNone {
		return nil
	}
	t.SellerName = d.SellerName
	t.BuyerName = d.BuyerName
	t.Phase = d.Phase
	if d.Ready != nil {
		t.Price = d.Ready.Price
	}
	if d.Offer != nil {
		t.Offer = d.Offer.Offer(s.cfg.Currency)
		t.InvoiceID = domain.InvoiceID(d.Offer.TransactionID)
	}
	if d.ReportedID != "" && d.ReportedID != domain.ReportedID(t.InvoiceID) {
		t.ReportedTransactionID = d.ReportedID
	}

	switch {
	case d.Phase == domain.PhaseTradeCreated && !d.LockedAt.IsZero():
		window := d.LockDuration
		if window <= 0 {
			window = s.cfg.FundLockWindow
		}
		t.Timer = domain.NewTimerState(domain.WindowFundLock, window, d.LockedAt)
	case d.Phase < domain.PhaseTradeCreated && !d.StartedAt.IsZero():
		t.Timer = domain.NewTimerState(
			domain.WindowResponse, s.cfg.ResponseWindow, d.StartedAt,
		)
	}
	return t
}

func (s *Service) reconcileOnResume(ctx context.Context, t *domain.Trade) {
	role := t.RoleOf(s.cfg.PartyID)
	res, err := s.reconciler.Resolve(ctx, reconcile.Request{
		UserID: s.cfg.PartyID,
		Role:   role,
		Cached: t.BestKnownID(),
	})
	switch {
	case errors.Is(err, domain.ErrNoActiveTransaction):
		if t.Phase < domain.PhaseTradeCreated {
			return
		}
		s.settleMissingEscrow(ctx, t)
	case err != nil:
		log.WithError(err).Warnf(
			"could not verify trade %s against the backend, keeping cached state",
			t.ID,
		)
	default:
		updated, err := s.update(ctx, t.ID, func(tr *domain.Trade) error {
			tr.TransactionID = res.ID
			if tr.Phase == domain.PhaseBuyerAccepted && role == domain.RoleBuyer {
				tr.Timer = domain.NewTimerState(
					domain.WindowFundLock, s.cfg.FundLockWindow, s.clock.Now(),
				)
				_, err := tr.Apply(domain.EventTransactionCreated)
				return err
			}
			return nil
		})
		if err != nil {
			log.WithError(err).Warn("failed to record reconciled transaction")
			return
		}
		if t.Phase == domain.PhaseBuyerAccepted && updated.Phase == domain.PhaseTradeCreated {
			// Funds were locked before the process went down but the
			// counterpart was never told.
			if err := s.sendFundLockNotice(ctx, updated); err != nil {
				log.WithError(err).Warn("failed to send fund lock notice")
			}
		}
	}
}

// settleMissingEscrow handles a trade whose escrow is no longer active on the
// backend: it was either released or cancelled in the meantime. It returns
// the trade in its terminal phase.
func (s *Service) settleMissingEscrow(
	ctx context.Context, t *domain.Trade,
) *domain.Trade {
	event := []domain.EventType{domain.EventCancel}
	// The seller only knows the id reported by the buyer.
	if id := t.BestKnownID(); len(id) > 0 {
		tctx, cancel := context.WithTimeout(ctx, s.cfg.BackendTimeout)
		tx, err := s.backend.GetTransactionByID(tctx, id.String())
		cancel()
		if err == nil && tx != nil && tx.IsSettled() {
			log.Infof("escrow of trade %s was released, completing it", t.ID)
			event = []domain.EventType{
				domain.EventFundsReleased, domain.EventConfirmed,
			}
		}
	}
	if event[0] == domain.EventCancel {
		log.Infof("no active escrow for trade %s, clearing local state", t.ID)
	}

	updated, err := s.update(ctx, t.ID, applyAll(event...))
	if err != nil {
		log.WithError(err).Warnf("failed to settle trade %s", t.ID)
	}
	return updated
}

// update applies fn to a copy of the active trade, if it is still the trade
// with the given id, then persists it as a whole.
func (s *Service) update(
	ctx context.Context, tradeID string, fn func(t *domain.Trade) error,
) (*domain.Trade, error) {
	return s.swap(ctx, func(current *domain.Trade) (*domain.Trade, error) {
		if current == nil || current.ID != tradeID {
			return nil, domain.ErrStaleReference
		}
		if err := fn(current); err != nil {
			return nil, err
		}
		return current, nil
	})
}

// swap replaces the active trade with the one returned by fn, which receives
// a copy of the current trade (nil if none). Returning nil keeps the current
// trade.
func (s *Service) swap(
	ctx context.Context, fn func(current *domain.Trade) (*domain.Trade, error),
) (*domain.Trade, error) {
	s.lock.Lock()
	before := s.trade.Clone()
	next, err := fn(s.trade.Clone())
	if err != nil || next == nil {
		s.lock.Unlock()
		return before, err
	}
	next.UpdatedAt = s.clock.Now()
	if err := s.cache.Save(ctx, next); err != nil {
		log.WithError(err).Warnf("failed to persist trade %s", next.ID)
	}
	s.trade = next
	after := next.Clone()
	s.lock.Unlock()

	s.afterUpdate(ctx, before, after)
	return after.Clone(), nil
}

func (s *Service) afterUpdate(ctx context.Context, before, after *domain.Trade) {
	previous := domain.PhaseIdle
	var prevTimer domain.TimerState
	if before != nil && before.ID == after.ID {
		previous = before.Phase
		prevTimer = before.Timer
	}

	if after.Timer.IsActive && !sameTimer(prevTimer, after.Timer) {
		s.countdown.Resume(after.Timer)
	} else if !after.Timer.IsActive && (prevTimer.IsActive || after.Phase.IsTerminal()) {
		s.countdown.Stop()
	}

	if previous == after.Phase {
		return
	}

	log.Infof("trade %s: %s -> %s", after.ID, previous, after.Phase)
	s.observer.ObserveTransition(previous, after.Phase)
	if err := s.pubsub.PublishPhaseChangedEvent(after, previous); err != nil {
		log.WithError(err).Warn("failed to publish phase change")
	}

	if !after.Phase.IsTerminal() {
		return
	}

	record := domain.NewTradeRecord(after)
	if err := s.archive.AddTradeRecord(ctx, record); err != nil {
		log.WithError(err).Warnf("failed to archive trade %s", after.ID)
	}

	if after.Phase == domain.PhaseCompleted {
		for _, id := range []string{
			after.TransactionID.String(), after.InvoiceID.String(),
			after.ReportedTransactionID.String(),
		} {
			if id == "" {
				continue
			}
			if err := s.cache.MarkCompleted(ctx, id); err != nil {
				log.WithError(err).Warnf("failed to mark %s as completed", id)
			}
		}
		if err := s.pubsub.PublishTradeCompletedEvent(record); err != nil {
			log.WithError(err).Warn("failed to publish trade completion")
		}
		return
	}
	if err := s.pubsub.PublishTradeCancelledEvent(record); err != nil {
		log.WithError(err).Warn("failed to publish trade cancellation")
	}
}

// send encodes and delivers a signal on the channel.
func (s *Service) send(ctx context.Context, sig signal.Signal) error {
	msg, err := signal.Encode(sig)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.BackendTimeout)
	defer cancel()

	if err := s.channel.SendMessage(ctx, s.cfg.ChannelID, msg); err != nil {
		return fmt.Errorf("failed to send %s: %w", sig.Kind(), err)
	}
	return nil
}

// newTrade returns an idle trade of the channel stamped with the service
// clock.
func (s *Service) newTrade(sellerID, buyerID string) *domain.Trade {
	t := domain.NewTrade(s.cfg.ChannelID, sellerID, buyerID)
	t.CreatedAt = s.clock.Now()
	t.UpdatedAt = t.CreatedAt
	return t
}

// releasedInHistory returns the release notice that closes the scoped
// history if it settled the given trade: the notice came after the trade was
// created, once funds were locked, and refers to it.
func releasedInHistory(
	scope scoping.Scope, t *domain.Trade,
) (signal.FundReleaseNotice, bool) {
	if scope.Release == nil || t.Phase < domain.PhaseTradeCreated ||
		!scope.Boundary.After(t.CreatedAt) {
		return signal.FundReleaseNotice{}, false
	}
	notice, ok := signal.Decode(*scope.Release).(signal.FundReleaseNotice)
	if !ok || !t.References(notice.TransactionID) {
		return signal.FundReleaseNotice{}, false
	}
	return notice, true
}

// completeWith settles a trade whose funds were released, as reported by the
// given notice.
func completeWith(notice signal.FundReleaseNotice) func(t *domain.Trade) error {
	return func(t *domain.Trade) error {
		if len(notice.TransactionID) > 0 &&
			len(t.ReportedTransactionID) <= 0 {
			t.ReportedTransactionID = notice.TransactionID
		}
		if t.Phase < domain.PhaseTradeCreated {
			return domain.ErrInvalidState
		}
		return applyAll(domain.EventFundsReleased, domain.EventConfirmed)(t)
	}
}

func (s *Service) mayHoldEscrow(t *domain.Trade) bool {
	return t.MayHoldEscrow(s.cfg.PartyID)
}

func applyAll(events ...domain.EventType) func(t *domain.Trade) error {
	return func(t *domain.Trade) error {
		for _, ev := range events {
			if _, err := t.Apply(ev); err != nil {
				return err
			}
		}
		return nil
	}
}

// backendError turns deadline failures into the "state unknown" error.
func backendError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", domain.ErrBackendTimeout, err)
	}
	return err
}

func sameTimer(a, b domain.TimerState) bool {
	return a.Window == b.Window && a.IsActive == b.IsActive &&
		a.RemainingSeconds == b.RemainingSeconds &&
		a.AnchoredAt.Equal(b.AnchoredAt)
}

// anchorAt returns when a received message started a window: its creation
// time, unless missing or in the future.
func anchorAt(msg ports.Message, now time.Time) time.Time {
	if msg.CreatedAt.IsZero() || msg.CreatedAt.After(now) {
		return now
	}
	return msg.CreatedAt
}
