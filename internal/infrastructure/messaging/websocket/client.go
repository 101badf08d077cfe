// Package websocket implements the messaging channel provider on top of a
// chat gateway reachable through a websocket.
package websocket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/escrowchat/tradecoord/internal/core/ports"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
	"github.com/thanhpk/randstr"
)

const (
	initialBackoff = time.Second
	maxBackoff     = time.Minute
	writeTimeout   = 10 * time.Second
	dispatchBuffer = 256

	// UserHeader carries the id of the connecting party.
	UserHeader = "X-User-Id"
)

type frameType string

const (
	frameSend      frameType = "send"
	frameMarkRead  frameType = "mark_read"
	frameHistory   frameType = "history"
	frameSubscribe frameType = "subscribe"
	frameMessage   frameType = "message"
	frameAck       frameType = "ack"
)

// frame is the envelope of everything exchanged with the gateway.
type frame struct {
	Type      frameType              `json:"type"`
	RequestID string                 `json:"request_id,omitempty"`
	ChannelID string                 `json:"channel_id,omitempty"`
	Outbound  *ports.OutboundMessage `json:"outbound,omitempty"`
	Message   *ports.Message         `json:"message,omitempty"`
	Messages  []ports.Message        `json:"messages,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

type subscription struct {
	scope   string
	handler ports.MessageHandler
}

// Client is a ports.MessagingChannel that keeps a websocket open with the
// gateway and re-establishes it when it drops.
type Client struct {
	url    string
	userID string
	dialer *websocket.Dialer

	connLock *sync.Mutex
	conn     *websocket.Conn

	lock    *sync.RWMutex
	subs    map[string]subscription
	pending map[string]chan frame

	dispatch chan ports.Message
	quit     chan struct{}
	wg       *sync.WaitGroup
}

func NewClient(url, userID string) (*Client, error) {
	if url == "" {
		return nil, fmt.Errorf("missing gateway url")
	}
	if userID == "" {
		return nil, fmt.Errorf("missing user id")
	}
	return &Client{
		url:      url,
		userID:   userID,
		dialer:   &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		connLock: &sync.Mutex{},
		lock:     &sync.RWMutex{},
		subs:     make(map[string]subscription),
		pending:  make(map[string]chan frame),
		dispatch: make(chan ports.Message, dispatchBuffer),
		quit:     make(chan struct{}),
		wg:       &sync.WaitGroup{},
	}, nil
}

// Start dials the gateway and begins reading. It fails only if the first
// connection cannot be established; later drops are retried with backoff.
func (c *Client) Start(ctx context.Context) error {
	conn, err := c.connect(ctx)
	if err != nil {
		return err
	}

	c.wg.Add(2)
	go c.runLoop(conn)
	go c.dispatchLoop()
	return nil
}

// Stop closes the connection and waits for the loops to return.
func (c *Client) Stop() {
	close(c.quit)
	c.closeConnection()
	c.wg.Wait()
}

func (c *Client) SendMessage(
	ctx context.Context, channelID string, msg ports.OutboundMessage,
) error {
	_, err := c.request(ctx, frame{
		Type: frameSend, ChannelID: channelID, Outbound: &msg,
	})
	return err
}

func (c *Client) OnMessage(scope string, handler ports.MessageHandler) func() {
	id := randstr.Hex(8)

	c.lock.Lock()
	c.subs[id] = subscription{scope, handler}
	c.lock.Unlock()

	if scope != ports.GlobalScope {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			defer cancel()
			if _, err := c.request(ctx, frame{
				Type: frameSubscribe, ChannelID: scope,
			}); err != nil {
				log.WithError(err).Warnf("failed to subscribe to channel %s", scope)
			}
		}()
	}

	return func() {
		c.lock.Lock()
		defer c.lock.Unlock()
		delete(c.subs, id)
	}
}

func (c *Client) MarkRead(ctx context.Context, channelID string) error {
	_, err := c.request(ctx, frame{Type: frameMarkRead, ChannelID: channelID})
	return err
}

func (c *Client) History(ctx context.Context, channelID string) ([]ports.Message, error) {
	ack, err := c.request(ctx, frame{Type: frameHistory, ChannelID: channelID})
	if err != nil {
		return nil, err
	}
	return ack.Messages, nil
}

// request writes a frame and waits for the matching ack.
func (c *Client) request(ctx context.Context, req frame) (frame, error) {
	req.RequestID = randstr.Hex(16)
	ch := make(chan frame, 1)

	c.lock.Lock()
	c.pending[req.RequestID] = ch
	c.lock.Unlock()
	defer func() {
		c.lock.Lock()
		delete(c.pending, req.RequestID)
		c.lock.Unlock()
	}()

	if err := c.write(req); err != nil {
		return frame{}, err
	}

	select {
	case ack := <-ch:
		if ack.Error != "" {
			return frame{}, fmt.Errorf("gateway rejected %s: %s", req.Type, ack.Error)
		}
		return ack, nil
	case <-ctx.Done():
		return frame{}, ctx.Err()
	}
}

func (c *Client) write(f frame) error {
	c.connLock.Lock()
	defer c.connLock.Unlock()

	if c.conn == nil {
		return fmt.Errorf("not connected to the gateway")
	}
	// nolint
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(f)
}

func (c *Client) connect(ctx context.Context) (*websocket.Conn, error) {
	headers := http.Header{}
	headers.Set(UserHeader, c.userID)

	conn, resp, err := c.dialer.DialContext(ctx, c.url, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf(
				"failed to dial gateway, status %d: %w", resp.StatusCode, err,
			)
		}
		return nil, fmt.Errorf("failed to dial gateway: %w", err)
	}

	c.connLock.Lock()
	c.conn = conn
	c.connLock.Unlock()

	log.Debugf("connected to chat gateway %s", c.url)
	return conn, nil
}

// resubscribe registers again the channel scopes after a reconnection.
func (c *Client) resubscribe() {
	c.lock.RLock()
	scopes := make(map[string]struct{})
	for _, sub := range c.subs {
		if sub.scope != ports.GlobalScope {
			scopes[sub.scope] = struct{}{}
		}
	}
	c.lock.RUnlock()

	for scope := range scopes {
		if err := c.write(frame{
			Type: frameSubscribe, RequestID: randstr.Hex(16), ChannelID: scope,
		}); err != nil {
			log.WithError(err).Warnf("failed to subscribe again to channel %s", scope)
		}
	}
}

func (c *Client) runLoop(conn *websocket.Conn) {
	defer c.wg.Done()
	defer close(c.dispatch)

	backoff := initialBackoff
	for {
		err := c.readLoop(conn)
		c.closeConnection()

		select {
		case <-c.quit:
			return
		default:
		}
		log.WithError(err).Warn("connection with chat gateway dropped, reconnecting...")

		for {
			select {
			case <-c.quit:
				return
			case <-time.After(backoff):
			}

			conn, err = c.connect(context.Background())
			if err == nil {
				backoff = initialBackoff
				c.resubscribe()
				break
			}
			log.WithError(err).Debugf("reconnection failed, retrying in %s", backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	}
}

func (c *Client) readLoop(conn *websocket.Conn) error {
	for {
		_, buf, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		f, err := decodeFrame(buf)
		if err != nil {
			log.WithError(err).Debug("skipping unreadable frame")
			continue
		}

		switch f.Type {
		case frameAck:
			c.lock.RLock()
			ch, ok := c.pending[f.RequestID]
			c.lock.RUnlock()
			if ok {
				ch <- f
			}
		case frameMessage:
			if f.Message == nil {
				continue
			}
			select {
			case c.dispatch <- *f.Message:
			case <-c.quit:
				return nil
			}
		}
	}
}

// dispatchLoop runs the handlers apart from the read loop, since handlers
// send messages and wait for their ack in turn.
func (c *Client) dispatchLoop() {
	defer c.wg.Done()

	for msg := range c.dispatch {
		c.lock.RLock()
		handlers := make([]ports.MessageHandler, 0, len(c.subs))
		for _, sub := range c.subs {
			if sub.scope == ports.GlobalScope || sub.scope == msg.ChannelID {
				handlers = append(handlers, sub.handler)
			}
		}
		c.lock.RUnlock()

		for _, handler := range handlers {
			handler(msg)
		}
	}
}

func (c *Client) closeConnection() {
	c.connLock.Lock()
	defer c.connLock.Unlock()

	if c.conn != nil {
		// nolint
		c.conn.Close()
		c.conn = nil
	}
}

// decodeFrame keeps payload numbers as json.Number so that amounts are not
// rounded through float64.
func decodeFrame(buf []byte) (frame, error) {
	dec := json.NewDecoder(bytes.NewReader(buf))
	dec.UseNumber()

	var f frame
	if err := dec.Decode(&f); err != nil {
		return frame{}, err
	}
	return f, nil
}
