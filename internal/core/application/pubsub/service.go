package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/escrowchat/tradecoord/internal/core/domain"
	"github.com/escrowchat/tradecoord/internal/core/ports"
)

const (
	EventTradeCompleted = "TRADE_COMPLETED"
	EventTradeCancelled = "TRADE_CANCELLED"
	EventPhaseChanged   = "PHASE_CHANGED"
)

var events = map[string]bool{
	EventTradeCompleted: true,
	EventTradeCancelled: true,
	EventPhaseChanged:   true,
	ports.AnyTopic:      true,
}

// Webhook is the request to subscribe an endpoint to an event.
type Webhook struct {
	Event    string
	Endpoint string
	Secret   string
}

// WebhookInfo describes an existing subscription.
type WebhookInfo struct {
	ID        string `json:"id"`
	Event     string `json:"event"`
	Endpoint  string `json:"endpoint"`
	IsSecured bool   `json:"is_secured"`
}

// Service notifies external endpoints about trade events. A nil Service is
// valid and publishes nothing.
type Service struct {
	pubsub ports.PubSub
}

func NewService(pubsub ports.PubSub) *Service {
	return &Service{pubsub}
}

func (s *Service) AddWebhook(_ context.Context, hook Webhook) (string, error) {
	if s == nil {
		return "", ErrPubSubNotInitialized
	}
	if !events[hook.Event] {
		return "", fmt.Errorf("%w: unknown event type %q", ErrInvalidWebhook, hook.Event)
	}
	if u, err := url.ParseRequestURI(hook.Endpoint); err != nil || u.Host == "" {
		return "", fmt.Errorf("%w: endpoint must be an absolute url", ErrInvalidWebhook)
	}
	return s.pubsub.Subscribe(hook.Event, hook.Endpoint, hook.Secret)
}

func (s *Service) RemoveWebhook(_ context.Context, id string) error {
	if s == nil {
		return ErrPubSubNotInitialized
	}
	return s.pubsub.Unsubscribe(ports.UnspecifiedTopic, id)
}

func (s *Service) ListWebhooks(_ context.Context, event string) ([]WebhookInfo, error) {
	if s == nil {
		return nil, ErrPubSubNotInitialized
	}
	if event == "" {
		event = ports.AnyTopic
	}
	subs := s.pubsub.ListSubscriptionsForTopic(event)
	hooks := make([]WebhookInfo, 0, len(subs))
	for _, sub := range subs {
		hooks = append(hooks, WebhookInfo{
			ID:        sub.Id(),
			Event:     sub.Topic(),
			Endpoint:  sub.NotifyAt(),
			IsSecured: sub.IsSecured(),
		})
	}
	return hooks, nil
}

func (s *Service) PublishPhaseChangedEvent(
	trade *domain.Trade, previous domain.Phase,
) error {
	payload := map[string]interface{}{
		"event":          EventPhaseChanged,
		"trade":          getTradePayload(trade),
		"previous_phase": previous.String(),
		"phase":          trade.Phase.String(),
		"timestamp":      trade.UpdatedAt.Unix(),
	}
	return s.publish(EventPhaseChanged, payload)
}

func (s *Service) PublishTradeCompletedEvent(record domain.TradeRecord) error {
	payload := map[string]interface{}{
		"event":           EventTradeCompleted,
		"trade":           getRecordPayload(record),
		"settlement_date": record.ClosedAt.Format(time.RFC3339),
	}
	return s.publish(EventTradeCompleted, payload)
}

func (s *Service) PublishTradeCancelledEvent(record domain.TradeRecord) error {
	payload := map[string]interface{}{
		"event":             EventTradeCancelled,
		"trade":             getRecordPayload(record),
		"cancellation_date": record.ClosedAt.Format(time.RFC3339),
	}
	return s.publish(EventTradeCancelled, payload)
}

func (s *Service) Close() {
	if s == nil {
		return
	}
	// nolint
	s.pubsub.Close()
}

func (s *Service) publish(topic string, payload map[string]interface{}) error {
	if s == nil {
		return nil
	}
	message, _ := json.Marshal(payload)
	return s.pubsub.Publish(topic, string(message))
}
