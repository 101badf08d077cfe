package ports

import (
	"context"
	"time"
)

// GlobalScope is the listener scope bound to every channel the process
// watches.
const GlobalScope = "*"

// Message is a message delivered by the messaging channel provider. Payload
// holds the generic custom fields the transport exposes.
type Message struct {
	ID        string                 `json:"id"`
	ChannelID string                 `json:"channel_id"`
	Kind      string                 `json:"kind,omitempty"`
	SenderID  string                 `json:"sender_id"`
	CreatedAt time.Time              `json:"created_at"`
	Text      string                 `json:"text,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

// OutboundMessage is what the codec produces for the transport.
type OutboundMessage struct {
	Kind    string                 `json:"kind"`
	Text    string                 `json:"text"`
	Payload map[string]interface{} `json:"payload"`
}

// MessageHandler is invoked for every delivered message. Handlers must not
// block for long since they run on the transport's delivery goroutine.
type MessageHandler func(msg Message)

// MessagingChannel is the bidirectional messaging transport the trade
// signaling travels on.
type MessagingChannel interface {
	// SendMessage publishes a message on the given channel.
	SendMessage(ctx context.Context, channelID string, msg OutboundMessage) error
	// OnMessage registers a handler for a channel id, or for every watched
	// channel if scope is GlobalScope. The returned func unregisters it.
	OnMessage(scope string, handler MessageHandler) (unsubscribe func())
	// MarkRead marks every message of the channel as read.
	MarkRead(ctx context.Context, channelID string) error
	// History returns the messages of the channel ordered by creation time.
	History(ctx context.Context, channelID string) ([]Message, error)
}
