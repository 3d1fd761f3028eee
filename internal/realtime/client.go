// Package realtime keeps a websocket to the backend's push endpoint open and
// dispatches the JSON messages it receives.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/linnemanlabs/go-core/log"
)

// DefaultReconnectDelay is the fixed pause between a close and the next dial.
const DefaultReconnectDelay = time.Second

// ErrNotConnected is returned by Send while no connection is open.
var ErrNotConnected = errors.New("realtime: not connected")

// Message is one inbound frame. Type is read from the "type" member; Raw is
// the whole frame.
type Message struct {
	Type string
	Raw  json.RawMessage
}

// Handler receives every decoded inbound message.
type Handler func(ctx context.Context, msg Message)

// Hooks are optional callbacks for instrumentation.
type Hooks struct {
	OnConnect    func()
	OnDisconnect func()
	OnMessage    func(msgType string)
	OnDialError  func()
}

// Options configures a Client.
type Options struct {
	BaseURL        string
	Path           string
	Token          string
	ReconnectDelay time.Duration
	Dialer         *websocket.Dialer
	Logger         log.Logger
	Hooks          Hooks
}

// Client is a reconnecting websocket client. Reconnects happen after a fixed
// delay with no retry limit.
type Client struct {
	url     string
	delay   time.Duration
	dialer  *websocket.Dialer
	logger  log.Logger
	hooks   Hooks
	handler Handler

	mu   sync.Mutex
	conn *websocket.Conn
}

// New validates opts and returns a client that has not dialed yet.
func New(opts Options, handler Handler) (*Client, error) {
	if handler == nil {
		return nil, errors.New("realtime: handler is required")
	}
	u, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("realtime: invalid base url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("realtime: base url %q must use ws or wss", opts.BaseURL)
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	return &Client{
		url:     strings.TrimRight(opts.BaseURL, "/") + opts.Path + "?bearer=" + url.QueryEscape(opts.Token),
		delay:   opts.ReconnectDelay,
		dialer:  opts.Dialer,
		logger:  opts.Logger,
		hooks:   opts.Hooks,
		handler: handler,
	}, nil
}

// Run dials, reads until the connection drops, waits the reconnect delay and
// dials again, until ctx is done.
func (c *Client) Run(ctx context.Context) error {
	for {
		conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Warn(ctx, "realtime dial failed", "error", err, "retry_in", c.delay)
			if c.hooks.OnDialError != nil {
				c.hooks.OnDialError()
			}
		} else {
			c.logger.Info(ctx, "realtime connected")
			if c.hooks.OnConnect != nil {
				c.hooks.OnConnect()
			}
			c.serve(ctx, conn)
			if c.hooks.OnDisconnect != nil {
				c.hooks.OnDisconnect()
			}
		}

		t := time.NewTimer(c.delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

// Connected reports whether a connection is currently open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Send JSON-encodes v onto the open connection.
func (c *Client) Send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	if err := c.conn.WriteJSON(v); err != nil {
		return fmt.Errorf("realtime: send: %w", err)
	}
	return nil
}

// serve owns conn until it fails or ctx is done, and always closes it.
func (c *Client) serve(ctx context.Context, conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-ctx.Done():
		case <-done:
		}
		_ = conn.Close()
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
	}()
	defer func() {
		close(done)
		wg.Wait()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Warn(ctx, "realtime connection closed", "error", err, "retry_in", c.delay)
			}
			return
		}
		c.dispatch(ctx, data)
	}
}

func (c *Client) dispatch(ctx context.Context, data []byte) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		c.logger.Warn(ctx, "dropping undecodable realtime message", "error", err, "bytes", len(data))
		return
	}
	if c.hooks.OnMessage != nil {
		c.hooks.OnMessage(head.Type)
	}
	c.handler(ctx, Message{Type: head.Type, Raw: json.RawMessage(data)})
}
