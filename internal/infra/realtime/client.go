// Package realtime is a Supabase Realtime client: Phoenix channels over a
// websocket, one channel per table, delivering postgres_changes events.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/boddenberg/atas-admin-go/internal/infra/resilience"
	"github.com/boddenberg/atas-admin-go/internal/port"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	eventJoin      = "phx_join"
	eventLeave     = "phx_leave"
	eventReply     = "phx_reply"
	eventError     = "phx_error"
	eventClose     = "phx_close"
	eventHeartbeat = "heartbeat"
	eventChanges   = "postgres_changes"

	writeWait   = 10 * time.Second
	maxReadSize = 1 << 20
)

// ErrNotRunning is returned by Subscribe after the client has been stopped.
var ErrNotRunning = errors.New("realtime: client stopped")

// Config parameterizes the connection.
type Config struct {
	// URL is the project URL, e.g. https://xyz.supabase.co.
	URL       string
	APIKey    string
	Schema    string
	Heartbeat time.Duration
	Reconnect resilience.Config
}

type message struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     *string         `json:"ref"`
	JoinRef *string         `json:"join_ref,omitempty"`
}

type channel struct {
	client  *Client
	topic   string
	table   string
	handler port.ChangeHandler
	joinRef string
}

// Close sends phx_leave and drops the channel. It is safe to call twice.
func (ch *channel) Close() error {
	return ch.client.leave(ch)
}

// Client multiplexes table channels over one websocket and rejoins them
// after every reconnect. It implements port.ChangeFeed.
type Client struct {
	cfg    Config
	dialer websocket.Dialer
	logger *zap.Logger

	ref atomic.Uint64

	mu       sync.Mutex
	conn     *websocket.Conn
	channels map[string]*channel
	stopped  bool

	writeMu sync.Mutex
}

// New creates a client. Call Run to connect.
func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.Schema == "" {
		cfg.Schema = "public"
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 30 * time.Second
	}
	return &Client{
		cfg:      cfg,
		dialer:   websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger:   logger,
		channels: make(map[string]*channel),
	}
}

// Subscribe registers handler for row changes of table. The channel is
// joined immediately when connected, otherwise on the next connect.
func (c *Client) Subscribe(_ context.Context, table string, handler port.ChangeHandler) (port.Channel, error) {
	topic := fmt.Sprintf("realtime:%s:%s", c.cfg.Schema, table)

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil, ErrNotRunning
	}
	if _, dup := c.channels[topic]; dup {
		c.mu.Unlock()
		return nil, fmt.Errorf("realtime: %s already subscribed", table)
	}
	ch := &channel{client: c, topic: topic, table: table, handler: handler}
	c.channels[topic] = ch
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		if err := c.join(conn, ch); err != nil {
			c.logger.Warn("realtime join failed, will retry on reconnect", zap.String("table", table), zap.Error(err))
		}
	}
	return ch, nil
}

// Run connects and keeps the connection alive until ctx is cancelled,
// reconnecting with backoff.
func (c *Client) Run(ctx context.Context) error {
	reconnect := c.cfg.Reconnect
	reconnect.MaxRetries = -1
	err := resilience.RetryWithBackoff(ctx, reconnect, func() error {
		err := c.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		c.logger.Warn("realtime connection lost", zap.Error(err))
		return err
	})

	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Connected reports whether a websocket is currently open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

func (c *Client) endpoint() (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("parse realtime url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	default:
		u.Scheme = "wss"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/realtime/v1/websocket"
	q := u.Query()
	q.Set("apikey", c.cfg.APIKey)
	q.Set("vsn", "1.0.0")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// session runs one connection until it fails or ctx is done.
func (c *Client) session(ctx context.Context) error {
	wsURL, err := c.endpoint()
	if err != nil {
		return err
	}
	conn, resp, err := c.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("websocket dial failed: status=%d, err=%w", resp.StatusCode, err)
		}
		return fmt.Errorf("websocket dial: %w", err)
	}
	conn.SetReadLimit(maxReadSize)

	c.mu.Lock()
	c.conn = conn
	pending := make([]*channel, 0, len(c.channels))
	for _, ch := range c.channels {
		pending = append(pending, ch)
	}
	c.mu.Unlock()
	c.logger.Info("realtime connected", zap.Int("channels", len(pending)))

	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		conn.Close()
	}()

	for _, ch := range pending {
		if err := c.join(conn, ch); err != nil {
			return err
		}
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go c.heartbeat(sessionCtx, conn)
	go func() {
		<-sessionCtx.Done()
		// Unblocks ReadMessage on shutdown.
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read message: %w", err)
		}
		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		c.dispatch(ctx, msg)
	}
}

func (c *Client) heartbeat(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.cfg.Heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.write(conn, "phoenix", eventHeartbeat, map[string]any{}, ""); err != nil {
				c.logger.Warn("realtime heartbeat failed", zap.Error(err))
				conn.Close()
				return
			}
		}
	}
}

func (c *Client) dispatch(ctx context.Context, msg message) {
	switch msg.Event {
	case eventChanges:
		c.mu.Lock()
		ch := c.channels[msg.Topic]
		c.mu.Unlock()
		if ch == nil {
			return
		}
		var payload struct {
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(msg.Payload, &payload); err != nil || len(payload.Data) == 0 {
			c.logger.Warn("realtime: malformed change payload", zap.String("topic", msg.Topic))
			return
		}
		ev, err := port.ParseChangeEvent(payload.Data)
		if err != nil {
			c.logger.Warn("realtime: undecodable change", zap.String("topic", msg.Topic), zap.Error(err))
			return
		}
		if ev.Table == "" {
			ev.Table = ch.table
		}
		ch.handler(ctx, ev)
	case eventReply:
		var reply struct {
			Status   string          `json:"status"`
			Response json.RawMessage `json:"response"`
		}
		if err := json.Unmarshal(msg.Payload, &reply); err == nil && reply.Status != "ok" {
			c.logger.Error("realtime: request rejected",
				zap.String("topic", msg.Topic),
				zap.String("status", reply.Status),
				zap.ByteString("response", reply.Response),
			)
		}
	case eventError, eventClose:
		c.logger.Warn("realtime: channel closed by server", zap.String("topic", msg.Topic), zap.String("event", msg.Event))
	}
}

func (c *Client) join(conn *websocket.Conn, ch *channel) error {
	ref := c.nextRef()
	c.mu.Lock()
	ch.joinRef = ref
	c.mu.Unlock()

	payload := map[string]any{
		"config": map[string]any{
			"broadcast": map[string]any{"self": false},
			"presence":  map[string]any{"key": ""},
			"postgres_changes": []map[string]any{
				{"event": "*", "schema": c.cfg.Schema, "table": ch.table},
			},
		},
		"access_token": c.cfg.APIKey,
	}
	return c.writeRef(conn, ch.topic, eventJoin, payload, ref, ref)
}

func (c *Client) leave(ch *channel) error {
	c.mu.Lock()
	if c.channels[ch.topic] != ch {
		c.mu.Unlock()
		return nil
	}
	delete(c.channels, ch.topic)
	conn := c.conn
	joinRef := ch.joinRef
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	return c.writeRef(conn, ch.topic, eventLeave, map[string]any{}, c.nextRef(), joinRef)
}

func (c *Client) write(conn *websocket.Conn, topic, event string, payload any, joinRef string) error {
	return c.writeRef(conn, topic, event, payload, c.nextRef(), joinRef)
}

func (c *Client) writeRef(conn *websocket.Conn, topic, event string, payload any, ref, joinRef string) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	msg := message{Topic: topic, Event: event, Payload: raw, Ref: &ref}
	if joinRef != "" {
		msg.JoinRef = &joinRef
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(msg)
}

func (c *Client) nextRef() string {
	return strconv.FormatUint(c.ref.Add(1), 10)
}
