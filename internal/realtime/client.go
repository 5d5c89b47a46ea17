// Package realtime subscribes to database change events over the hosted
// realtime websocket (Phoenix channels) and turns them into cache
// invalidations.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/betterme/betterme/internal/logger"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Phoenix protocol events.
const (
	eventJoin      = "phx_join"
	eventReply     = "phx_reply"
	eventError     = "phx_error"
	eventClose     = "phx_close"
	eventHeartbeat = "heartbeat"
	eventChanges   = "postgres_changes"
	eventSystem    = "system"

	phoenixTopic = "phoenix"
)

// Message is a Phoenix v1 frame.
type Message struct {
	Topic   string              `json:"topic"`
	Event   string              `json:"event"`
	Payload jsoniter.RawMessage `json:"payload"`
	Ref     string              `json:"ref,omitempty"`
}

// Invalidator receives the cache keys affected by a change.
type Invalidator interface {
	OnInvalidate(key string)
}

// Recorder receives realtime metrics.
type Recorder interface {
	RealtimeEvent(table string)
	RealtimeReconnect()
}

type nopRecorder struct{}

func (nopRecorder) RealtimeEvent(string) {}
func (nopRecorder) RealtimeReconnect()   {}

// Subscription maps a table in the public schema to the cache keys that
// must be invalidated when any of its rows change.
type Subscription struct {
	Table string
	Keys  []string
}

// DefaultSubscriptions covers every table a cached resource is built from.
func DefaultSubscriptions() []Subscription {
	return []Subscription{
		{Table: "posts", Keys: []string{"posts"}},
		{Table: "reactions", Keys: []string{"posts"}},
		{Table: "comments", Keys: []string{"posts"}},
		{Table: "connections", Keys: []string{"connections"}},
		{Table: "notifications", Keys: []string{"notifications"}},
		{Table: "analyses", Keys: []string{"analyses"}},
	}
}

// Config holds realtime client configuration
type Config struct {
	// URL is the websocket endpoint, e.g. wss://<ref>.supabase.co/realtime/v1/websocket.
	URL               string
	APIKey            string
	ConnectTimeout    time.Duration
	HeartbeatInterval time.Duration
	ReconnectMin      time.Duration
	ReconnectMax      time.Duration
	Subscriptions     []Subscription
}

func (c Config) withDefaults() Config {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 15 * time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.ReconnectMin <= 0 {
		c.ReconnectMin = 2 * time.Second
	}
	if c.ReconnectMax < c.ReconnectMin {
		c.ReconnectMax = 30 * time.Second
		if c.ReconnectMax < c.ReconnectMin {
			c.ReconnectMax = c.ReconnectMin
		}
	}
	if c.Subscriptions == nil {
		c.Subscriptions = DefaultSubscriptions()
	}
	return c
}

// ConnectionState represents the state of the websocket connection
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// ConnectionStats holds connection statistics
type ConnectionStats struct {
	MessagesReceived int64
	MessagesSent     int64
	Invalidations    int64
	ReconnectCount   int
	LastError        string
	ConnectedAt      time.Time
	DisconnectedAt   time.Time
}

// Client keeps one websocket open, joined to a channel per subscription.
type Client struct {
	config      Config
	invalidator Invalidator
	recorder    Recorder
	dialer      *websocket.Dialer
	tables      map[string][]string

	state atomic.Value // ConnectionState
	ref   atomic.Uint64

	mu    sync.RWMutex
	token string

	writeMu sync.Mutex
	conn    *websocket.Conn

	statsLock sync.RWMutex
	stats     ConnectionStats
}

type Option func(*Client)

func WithRecorder(r Recorder) Option {
	return func(c *Client) {
		if r != nil {
			c.recorder = r
		}
	}
}

// NewClient creates a client; nothing is dialled until Run.
func NewClient(cfg Config, invalidator Invalidator, opts ...Option) *Client {
	cfg = cfg.withDefaults()
	c := &Client{
		config:      cfg,
		invalidator: invalidator,
		recorder:    nopRecorder{},
		dialer:      websocket.DefaultDialer,
		tables:      make(map[string][]string, len(cfg.Subscriptions)),
	}
	for _, s := range cfg.Subscriptions {
		c.tables[s.Table] = append(c.tables[s.Table], s.Keys...)
	}
	for _, opt := range opts {
		opt(c)
	}
	c.state.Store(StateDisconnected)
	return c
}

// SetAccessToken sets the user JWT sent when joining channels. Row level
// security filters events by it; without one only public rows arrive.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

func (c *Client) accessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Run connects and stays connected until ctx is cancelled, reconnecting
// with exponential backoff. After a reconnect every subscribed key is
// invalidated, since changes may have been missed while offline.
func (c *Client) Run(ctx context.Context) error {
	delay := c.config.ReconnectMin
	first := true

	for {
		joined, err := c.session(ctx, !first)
		if joined {
			first = false
			delay = c.config.ReconnectMin
		}
		if ctx.Err() != nil {
			c.setState(StateDisconnected)
			return nil
		}

		c.recordError(err)
		c.recordReconnect()
		c.setState(StateReconnecting)

		wait := delay + jitter(delay)
		logger.Log.Warn("Realtime connection lost, reconnecting",
			zap.Error(err),
			zap.Duration("wait", wait))

		select {
		case <-ctx.Done():
			c.setState(StateDisconnected)
			return nil
		case <-time.After(wait):
		}

		delay *= 2
		if delay > c.config.ReconnectMax {
			delay = c.config.ReconnectMax
		}
	}
}

// session runs one connection until it fails. joined reports whether all
// channels were joined.
func (c *Client) session(ctx context.Context, resync bool) (joined bool, err error) {
	c.setState(StateConnecting)

	conn, err := c.dial(ctx)
	if err != nil {
		return false, err
	}

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.writeMu.Lock()
	c.conn = conn
	c.writeMu.Unlock()
	defer func() {
		c.writeMu.Lock()
		c.conn = nil
		c.writeMu.Unlock()
		_ = conn.Close()
		c.recordDisconnected()
	}()

	// Unblock the read below when the context ends.
	go func() {
		<-sctx.Done()
		_ = conn.Close()
	}()

	if err := c.joinAll(); err != nil {
		return false, err
	}

	c.setState(StateConnected)
	c.recordConnected()
	logger.Log.Debug("Realtime connected", zap.Int("channels", len(c.tables)))

	if resync {
		c.invalidateAll()
	}

	go c.heartbeatLoop(sctx)

	// The server answers every heartbeat, so a connection that stays silent
	// for two intervals is treated as dead.
	readTimeout := 2 * c.config.HeartbeatInterval
	for {
		if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			return true, fmt.Errorf("set read deadline: %w", err)
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return true, ctx.Err()
			}
			return true, fmt.Errorf("read: %w", err)
		}
		c.recordMessageReceived()

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.Log.Debug("Ignoring malformed realtime frame", zap.Error(err))
			continue
		}
		if err := c.handle(&msg); err != nil {
			return true, err
		}
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(c.config.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid realtime url: %w", err)
	}
	q := u.Query()
	if c.config.APIKey != "" {
		q.Set("apikey", c.config.APIKey)
	}
	q.Set("vsn", "1.0.0")
	u.RawQuery = q.Encode()

	dialCtx, cancel := context.WithTimeout(ctx, c.config.ConnectTimeout)
	defer cancel()

	conn, _, err := c.dialer.DialContext(dialCtx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial realtime: %w", err)
	}
	return conn, nil
}

type joinPayload struct {
	Config      joinConfig `json:"config"`
	AccessToken string     `json:"access_token,omitempty"`
}

type joinConfig struct {
	Broadcast       map[string]bool    `json:"broadcast"`
	Presence        map[string]string  `json:"presence"`
	PostgresChanges []postgresChangeOn `json:"postgres_changes"`
}

type postgresChangeOn struct {
	Event  string `json:"event"`
	Schema string `json:"schema"`
	Table  string `json:"table"`
}

func topicFor(table string) string {
	return "realtime:public:" + table
}

func (c *Client) joinAll() error {
	token := c.accessToken()
	for table := range c.tables {
		payload := joinPayload{
			Config: joinConfig{
				Broadcast:       map[string]bool{"self": false},
				Presence:        map[string]string{"key": ""},
				PostgresChanges: []postgresChangeOn{{Event: "*", Schema: "public", Table: table}},
			},
			AccessToken: token,
		}
		if err := c.send(topicFor(table), eventJoin, payload); err != nil {
			return fmt.Errorf("join %s: %w", table, err)
		}
	}
	return nil
}

func (c *Client) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(c.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.send(phoenixTopic, eventHeartbeat, struct{}{}); err != nil {
				logger.Log.Debug("Failed to send heartbeat", zap.Error(err))
			}
		}
	}
}

func (c *Client) send(topic, event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(Message{
		Topic:   topic,
		Event:   event,
		Payload: raw,
		Ref:     strconv.FormatUint(c.ref.Add(1), 10),
	})
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return errors.New("not connected")
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	c.recordMessageSent()
	return nil
}

type replyPayload struct {
	Status   string         `json:"status"`
	Response map[string]any `json:"response"`
}

type changePayload struct {
	// postgres_changes nests the record under data.
	Data *struct {
		Table string `json:"table"`
		Type  string `json:"type"`
	} `json:"data"`
	// Older servers send INSERT/UPDATE/DELETE events with the table inline.
	Table string `json:"table"`
	Type  string `json:"type"`
}

func (c *Client) handle(msg *Message) error {
	switch msg.Event {
	case eventReply:
		var reply replyPayload
		if err := json.Unmarshal(msg.Payload, &reply); err == nil && reply.Status != "ok" {
			logger.Log.Warn("Realtime channel rejected",
				zap.String("topic", msg.Topic),
				zap.String("status", reply.Status),
				zap.Any("response", reply.Response))
		}
	case eventError, eventClose:
		if msg.Topic == phoenixTopic {
			return nil
		}
		return fmt.Errorf("channel %s: %s", msg.Topic, msg.Event)
	case eventSystem:
		logger.Log.Debug("Realtime system message", zap.String("topic", msg.Topic))
	case eventChanges, "INSERT", "UPDATE", "DELETE":
		var change changePayload
		if err := json.Unmarshal(msg.Payload, &change); err != nil {
			logger.Log.Debug("Ignoring malformed change payload", zap.Error(err))
			return nil
		}
		table := change.Table
		if change.Data != nil && change.Data.Table != "" {
			table = change.Data.Table
		}
		if table == "" {
			table = strings.TrimPrefix(msg.Topic, "realtime:public:")
		}
		c.dispatch(table)
	}
	return nil
}

func (c *Client) dispatch(table string) {
	keys, ok := c.tables[table]
	if !ok {
		return
	}
	c.recorder.RealtimeEvent(table)
	for _, key := range keys {
		c.invalidate(key)
	}
}

func (c *Client) invalidateAll() {
	seen := make(map[string]bool)
	for _, keys := range c.tables {
		for _, key := range keys {
			if !seen[key] {
				seen[key] = true
				c.invalidate(key)
			}
		}
	}
}

func (c *Client) invalidate(key string) {
	c.statsLock.Lock()
	c.stats.Invalidations++
	c.statsLock.Unlock()
	c.invalidator.OnInvalidate(key)
}

// jitter returns up to a quarter of d.
func jitter(d time.Duration) time.Duration {
	return time.Duration(rand.Int63n(int64(d/4) + 1))
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	return c.state.Load().(ConnectionState)
}

// IsConnected reports whether every channel is currently joined.
func (c *Client) IsConnected() bool {
	return c.State() == StateConnected
}

// Stats returns connection statistics
func (c *Client) Stats() ConnectionStats {
	c.statsLock.RLock()
	defer c.statsLock.RUnlock()
	return c.stats
}

func (c *Client) setState(state ConnectionState) {
	c.state.Store(state)
}

func (c *Client) recordMessageReceived() {
	c.statsLock.Lock()
	c.stats.MessagesReceived++
	c.statsLock.Unlock()
}

func (c *Client) recordMessageSent() {
	c.statsLock.Lock()
	c.stats.MessagesSent++
	c.statsLock.Unlock()
}

func (c *Client) recordError(err error) {
	if err == nil {
		return
	}
	c.statsLock.Lock()
	c.stats.LastError = err.Error()
	c.statsLock.Unlock()
}

func (c *Client) recordReconnect() {
	c.statsLock.Lock()
	c.stats.ReconnectCount++
	c.statsLock.Unlock()
	c.recorder.RealtimeReconnect()
}

func (c *Client) recordConnected() {
	c.statsLock.Lock()
	c.stats.ConnectedAt = time.Now()
	c.statsLock.Unlock()
}

func (c *Client) recordDisconnected() {
	c.statsLock.Lock()
	c.stats.DisconnectedAt = time.Now()
	c.statsLock.Unlock()
}
