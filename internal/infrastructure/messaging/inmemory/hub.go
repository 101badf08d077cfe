// Package inmemory implements a messaging channel provider that lives in the
// process. It is used to run both parties of a trade side by side.
package inmemory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/escrowchat/tradecoord/internal/core/ports"
	"github.com/google/uuid"
)

// Hub stores the messages of every channel and delivers them synchronously
// to the registered handlers of all endpoints.
type Hub struct {
	now func() time.Time

	lock      *sync.RWMutex
	history   map[string][]ports.Message
	readUntil map[string]map[string]int
	handlers  map[int]registration
	nextID    int
}

type registration struct {
	userID  string
	scope   string
	handler ports.MessageHandler
}

func NewHub(now func() time.Time) *Hub {
	if now == nil {
		now = time.Now
	}
	return &Hub{
		now:       now,
		lock:      &sync.RWMutex{},
		history:   make(map[string][]ports.Message),
		readUntil: make(map[string]map[string]int),
		handlers:  make(map[int]registration),
	}
}

// Endpoint returns the view of the hub for the given user. Messages sent
// through it are stamped with the user as sender.
func (h *Hub) Endpoint(userID string) ports.MessagingChannel {
	return &endpoint{h, userID}
}

// Inject stores and delivers a message as is, without stamping it. It is
// meant to replay messages with a given sender or creation time.
func (h *Hub) Inject(msg ports.Message) {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	h.deliver(msg)
}

// Unread returns how many messages of the channel the user did not mark as
// read yet.
func (h *Hub) Unread(channelID, userID string) int {
	h.lock.RLock()
	defer h.lock.RUnlock()

	total := len(h.history[channelID])
	read := h.readUntil[channelID][userID]
	return total - read
}

func (h *Hub) deliver(msg ports.Message) {
	h.lock.Lock()
	h.history[msg.ChannelID] = append(h.history[msg.ChannelID], msg)

	ids := make([]int, 0, len(h.handlers))
	for id := range h.handlers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	targets := make([]ports.MessageHandler, 0, len(ids))
	for _, id := range ids {
		reg := h.handlers[id]
		if reg.scope == ports.GlobalScope || reg.scope == msg.ChannelID {
			targets = append(targets, reg.handler)
		}
	}
	h.lock.Unlock()

	// Handlers may send messages in turn, so they run without the lock.
	for _, handler := range targets {
		handler(cloneMessage(msg))
	}
}

func (h *Hub) register(userID, scope string, handler ports.MessageHandler) func() {
	h.lock.Lock()
	defer h.lock.Unlock()

	id := h.nextID
	h.nextID++
	h.handlers[id] = registration{userID, scope, handler}

	return func() {
		h.lock.Lock()
		defer h.lock.Unlock()
		delete(h.handlers, id)
	}
}

type endpoint struct {
	hub    *Hub
	userID string
}

func (e *endpoint) SendMessage(
	ctx context.Context, channelID string, out ports.OutboundMessage,
) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if channelID == "" {
		return fmt.Errorf("missing channel id")
	}

	// Payloads travel as JSON like on a real transport.
	payload, err := transcode(out.Payload)
	if err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	e.hub.deliver(ports.Message{
		ID:        uuid.New().String(),
		ChannelID: channelID,
		Kind:      out.Kind,
		SenderID:  e.userID,
		CreatedAt: e.hub.now(),
		Text:      out.Text,
		Payload:   payload,
	})
	return nil
}

func (e *endpoint) OnMessage(scope string, handler ports.MessageHandler) func() {
	return e.hub.register(e.userID, scope, handler)
}

func (e *endpoint) MarkRead(_ context.Context, channelID string) error {
	e.hub.lock.Lock()
	defer e.hub.lock.Unlock()

	if _, ok := e.hub.readUntil[channelID]; !ok {
		e.hub.readUntil[channelID] = make(map[string]int)
	}
	e.hub.readUntil[channelID][e.userID] = len(e.hub.history[channelID])
	return nil
}

func (e *endpoint) History(_ context.Context, channelID string) ([]ports.Message, error) {
	e.hub.lock.RLock()
	defer e.hub.lock.RUnlock()

	msgs := e.hub.history[channelID]
	history := make([]ports.Message, 0, len(msgs))
	for _, m := range msgs {
		history = append(history, cloneMessage(m))
	}
	sort.SliceStable(history, func(i, j int) bool {
		return history[i].CreatedAt.Before(history[j].CreatedAt)
	})
	return history, nil
}

func transcode(payload map[string]interface{}) (map[string]interface{}, error) {
	if payload == nil {
		return nil, nil
	}
	buf, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	out := make(map[string]interface{})
	if err := json.Unmarshal(buf, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func cloneMessage(m ports.Message) ports.Message {
	if m.Payload == nil {
		return m
	}
	payload := make(map[string]interface{}, len(m.Payload))
	for k, v := range m.Payload {
		payload[k] = v
	}
	m.Payload = payload
	return m
}
