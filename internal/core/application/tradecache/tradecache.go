// Package tradecache persists the active trade of the local party in a
// single key/value slot, so that it survives restarts.
package tradecache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/escrowchat/tradecoord/internal/core/domain"
	"github.com/escrowchat/tradecoord/internal/core/ports"
	log "github.com/sirupsen/logrus"
)

const (
	// CacheKey is the key of the single trade slot.
	CacheKey = "trade_cache"
	// CompletedKeyPrefix prefixes the markers of completed transactions.
	CompletedKeyPrefix = "completed:"

	DefaultStaleAfter = 24 * time.Hour
)

// PersistedTradeEntry is the record stored in the trade slot.
type PersistedTradeEntry struct {
	TradeID    string            `json:"trade_id"`
	ChannelID  string            `json:"channel_id"`
	Phase      domain.Phase      `json:"phase"`
	TradeData  *domain.Trade     `json:"trade_data"`
	TimerState domain.TimerState `json:"timer_state"`
	SavedAt    time.Time         `json:"saved_at"`
}

// Store reads and writes the trade slot and the completed markers.
type Store struct {
	kv         ports.KVStore
	staleAfter time.Duration
	now        func() time.Time
}

// NewStore returns a Store on top of the given key/value store. Entries older
// than staleAfter are discarded on load.
func NewStore(kv ports.KVStore, staleAfter time.Duration) *Store {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &Store{kv, staleAfter, time.Now}
}

// WithClock replaces the clock used to stamp and age entries.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Save replaces the slot with the given trade. Terminal trades are not
// persisted: the slot is cleared instead.
func (s *Store) Save(ctx context.Context, trade *domain.Trade) error {
	if trade == nil || trade.Phase.IsTerminal() {
		return s.Clear(ctx)
	}

	entry := PersistedTradeEntry{
		TradeID:    trade.ID,
		ChannelID:  trade.ChannelID,
		Phase:      trade.Phase,
		TradeData:  trade,
		TimerState: trade.Timer,
		SavedAt:    s.now(),
	}
	buf, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to serialize trade cache entry: %w", err)
	}
	return s.kv.Set(ctx, CacheKey, buf)
}

// Load returns the persisted entry or nil if there is none. Entries that are
// stale, terminal or unreadable are deleted and reported as missing.
func (s *Store) Load(ctx context.Context) (*PersistedTradeEntry, error) {
	buf, err := s.kv.Get(ctx, CacheKey)
	if err != nil {
		return nil, err
	}
	if len(buf) <= 0 {
		return nil, nil
	}

	entry := &PersistedTradeEntry{}
	if err := json.Unmarshal(buf, entry); err != nil {
		log.WithError(err).Warn("discarding unreadable trade cache entry")
		return nil, s.Clear(ctx)
	}

	if entry.TradeData == nil || entry.Phase.IsTerminal() {
		return nil, s.Clear(ctx)
	}
	if age := s.now().Sub(entry.SavedAt); age > s.staleAfter {
		log.Debugf(
			"discarding trade cache entry %s saved %s ago", entry.TradeID, age,
		)
		return nil, s.Clear(ctx)
	}

	entry.TradeData.Phase = entry.Phase
	entry.TradeData.Timer = entry.TimerState
	return entry, nil
}

// Clear deletes the trade slot.
func (s *Store) Clear(ctx context.Context) error {
	return s.kv.Delete(ctx, CacheKey)
}

// MarkCompleted records that the given transaction settled, so that late
// offers referring to it are not mistaken for a new trade.
func (s *Store) MarkCompleted(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	stamp := []byte(s.now().UTC().Format(time.RFC3339))
	return s.kv.Set(ctx, CompletedKeyPrefix+id, stamp)
}

// IsCompleted returns whether a completed marker exists for the given id.
func (s *Store) IsCompleted(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, nil
	}
	buf, err := s.kv.Get(ctx, CompletedKeyPrefix+id)
	if err != nil {
		return false, err
	}
	return buf != nil, nil
}
