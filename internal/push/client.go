// Package push owns the single persistent connection to the push-notification
// server. It forwards raw envelopes to subscribers and performs no business
// logic; room membership bookkeeping beyond rejoin-on-reconnect belongs to
// the coordinator.
package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

const writeTimeout = 10 * time.Second

// Client is the push channel transport wrapper. One instance is created at
// startup and shared by reference; there is no hidden global.
type Client struct {
	url     string
	token   string
	logger  *zap.Logger
	machine *Machine
	recon   *reconnector

	mu          sync.Mutex
	conn        *websocket.Conn
	cancel      context.CancelFunc
	lifetime    context.Context
	intentional bool
	joined      map[string]struct{}

	hmu      sync.RWMutex
	handlers map[string]map[int]func(Envelope)
	nextID   int
}

// Option configures a Client.
type Option func(*Client)

// WithBackoff overrides the reconnect backoff parameters. maxAttempts == 0
// means unbounded.
func WithBackoff(base, max time.Duration, maxAttempts int) Option {
	return func(c *Client) {
		c.recon.baseDelay = base
		c.recon.maxDelay = max
		c.recon.maxAttempts = maxAttempts
	}
}

// New creates a push client for the given URL. The machine reports state
// transitions; nothing connects until Connect is called.
func New(url, token string, machine *Machine, logger *zap.Logger, opts ...Option) *Client {
	c := &Client{
		url:     url,
		token:   token,
		logger:  logger,
		machine: machine,
		recon: &reconnector{
			baseDelay:   time.Second,
			maxDelay:    30 * time.Second,
			maxAttempts: 10,
		},
		joined:   make(map[string]struct{}),
		handlers: make(map[string]map[int]func(Envelope)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect establishes the connection. Idempotent: calling it while connected
// or connecting is a no-op. On dial failure a reconnect attempt is scheduled
// and the error is returned.
func (c *Client) Connect(ctx context.Context) error {
	switch c.machine.Current() {
	case Connected, Connecting:
		return nil
	case Closed:
		return errors.New("push: client closed")
	}
	if err := c.machine.Transition(Connecting); err != nil {
		// Lost the race with another caller; treat as the idempotent case.
		return nil
	}

	c.mu.Lock()
	c.intentional = false
	c.mu.Unlock()

	conn, _, err := websocket.Dial(ctx, c.wsURL(), nil)
	if err != nil {
		c.logger.Warn("push connect failed", zap.Error(err))
		c.handleConnectFailure()
		return fmt.Errorf("push dial: %w", err)
	}

	lifetime, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.conn = conn
	c.lifetime = lifetime
	c.cancel = cancel
	c.mu.Unlock()

	_ = c.machine.Transition(Connected)
	c.recon.markConnected()
	c.rejoinRooms()

	go c.readLoop(lifetime, conn)
	return nil
}

// Close shuts the connection down intentionally; no reconnect follows.
func (c *Client) Close() error {
	c.mu.Lock()
	c.intentional = true
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	_ = c.machine.Transition(Closed)

	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "client close")
	}
	return nil
}

// Connected reports the current link state.
func (c *Client) Connected() bool {
	return c.machine.Current() == Connected
}

// State returns the connection state.
func (c *Client) State() State {
	return c.machine.Current()
}

// JoinRoom subscribes the connection to a room. While disconnected the join
// is recorded and replayed once a connection is up, so callers may subscribe
// before Connect has succeeded. Joining is not reference counted here: every
// join must be paired with a leave by the caller.
func (c *Client) JoinRoom(room string) {
	c.mu.Lock()
	c.joined[room] = struct{}{}
	c.mu.Unlock()
	if !c.Connected() {
		c.logger.Warn("join room while disconnected, deferred", zap.String("room", room))
		return
	}
	c.send(joinEnvelope(room))
}

// LeaveRoom unsubscribes the connection from a room. While disconnected only
// the local record is dropped; there is nothing to tell the server.
func (c *Client) LeaveRoom(room string) {
	c.mu.Lock()
	delete(c.joined, room)
	c.mu.Unlock()
	if !c.Connected() {
		return
	}
	c.send(leaveEnvelope(room))
}

// Emit sends an arbitrary event to the server. A warn-logged no-op while
// disconnected.
func (c *Client) Emit(event string, data any) {
	if !c.Connected() {
		c.logger.Warn("emit while disconnected", zap.String("event", event))
		return
	}
	raw, err := json.Marshal(data)
	if err != nil {
		c.logger.Warn("emit marshal failed", zap.String("event", event), zap.Error(err))
		return
	}
	c.send(Envelope{Event: event, Data: raw})
}

// On registers a handler for an event and returns an unsubscribe closure.
// Subscribers to the same event are independent and isolated.
func (c *Client) On(event string, handler func(Envelope)) func() {
	c.hmu.Lock()
	if c.handlers[event] == nil {
		c.handlers[event] = make(map[int]func(Envelope))
	}
	id := c.nextID
	c.nextID++
	c.handlers[event][id] = handler
	c.hmu.Unlock()

	return func() {
		c.hmu.Lock()
		delete(c.handlers[event], id)
		c.hmu.Unlock()
	}
}

func (c *Client) wsURL() string {
	u := strings.Replace(c.url, "https://", "wss://", 1)
	u = strings.Replace(u, "http://", "ws://", 1)
	if c.token != "" {
		sep := "?"
		if strings.Contains(u, "?") {
			sep = "&"
		}
		u += sep + "token=" + c.token
	}
	return u
}

func (c *Client) send(env Envelope) {
	c.mu.Lock()
	conn := c.conn
	lifetime := c.lifetime
	c.mu.Unlock()
	if conn == nil {
		return
	}

	data, err := json.Marshal(env)
	if err != nil {
		c.logger.Warn("envelope marshal failed", zap.String("event", env.Event), zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(lifetime, writeTimeout)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		c.logger.Warn("push write failed", zap.String("event", env.Event), zap.Error(err))
	}
}

// rejoinRooms re-emits joins for every room that was subscribed before the
// connection dropped, so a reconnect is transparent to room consumers.
func (c *Client) rejoinRooms() {
	c.mu.Lock()
	rooms := make([]string, 0, len(c.joined))
	for room := range c.joined {
		rooms = append(rooms, room)
	}
	c.mu.Unlock()

	for _, room := range rooms {
		c.send(joinEnvelope(room))
	}
	if len(rooms) > 0 {
		c.logger.Info("rejoined rooms after reconnect", zap.Int("count", len(rooms)))
	}
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			c.mu.Lock()
			intentional := c.intentional
			if c.conn == conn {
				c.conn = nil
			}
			c.mu.Unlock()
			if intentional {
				return
			}

			c.logger.Warn("push connection lost", zap.Error(err))
			_ = c.machine.Transition(Reconnecting)
			c.scheduleReconnect()
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Warn("bad push envelope", zap.Error(err))
			continue
		}
		c.dispatch(env)
	}
}

// dispatch delivers an envelope to all handlers for its event, in-line with
// the read loop so per-connection ordering is preserved.
func (c *Client) dispatch(env Envelope) {
	c.hmu.RLock()
	hs := make([]func(Envelope), 0, len(c.handlers[env.Event]))
	for _, h := range c.handlers[env.Event] {
		hs = append(hs, h)
	}
	c.hmu.RUnlock()

	for _, h := range hs {
		h(env)
	}
}

func (c *Client) handleConnectFailure() {
	if c.recon.shouldReconnect() {
		_ = c.machine.Transition(Reconnecting)
		c.scheduleReconnect()
	} else {
		_ = c.machine.Transition(Offline)
		c.logger.Error("push reconnect budget exhausted, going offline")
	}
}

func (c *Client) scheduleReconnect() {
	if !c.recon.shouldReconnect() {
		_ = c.machine.Transition(Offline)
		c.logger.Error("push reconnect budget exhausted, going offline")
		return
	}
	delay := c.recon.nextDelay()
	c.logger.Info("scheduling push reconnect",
		zap.Int("attempt", c.recon.attempts()),
		zap.Duration("delay", delay))

	go func() {
		time.Sleep(delay)
		if c.machine.Current() != Reconnecting {
			return
		}
		if err := c.Connect(context.Background()); err != nil {
			// Connect already scheduled the next attempt or went offline.
			return
		}
	}()
}

// reconnector implements bounded exponential backoff with jitter.
// The attempt counter resets after a minute of stable connection.
type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int

	mu          sync.Mutex
	attempt     int
	connectedAt time.Time
}

func (r *reconnector) shouldReconnect() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxAttempts == 0 || r.attempt < r.maxAttempts
}

func (r *reconnector) markConnected() {
	r.mu.Lock()
	r.connectedAt = time.Now()
	r.mu.Unlock()
}

func (r *reconnector) attempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempt
}

func (r *reconnector) nextDelay() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) > 60*time.Second {
		r.attempt = 0
	}
	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.maxDelay),
	))
	r.attempt++
	return delay
}
