package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net/url"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// ============================================================================
// Wire format
// ============================================================================

// Envelope is the wire format for all realtime events, in both directions.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Handshake and session-global event names. Scope-level events are built
// with Scope.topic, e.g. "channel:message", "conversation:typing".
const (
	eventClientInit   = "client:init"
	eventClientReady  = "client:ready"
	eventAuthError    = "auth:error"
	eventUserOnline   = "user:online"
	eventUserOffline  = "user:offline"
	eventUsersStatus  = "users:get_status"
	eventUsersInitial = "users:initial_status"

	eventBotConnect     = "bot:connect"
	eventBotMessage     = "bot:message"
	eventBotSetMode     = "bot:set_mode"
	eventBotModeUpdated = "bot:mode_updated"
)

// Scope-level event suffixes.
const (
	topicJoin            = "join"
	topicLeave           = "leave"
	topicMessage         = "message"
	topicTyping          = "typing"
	topicUsers           = "users"
	topicUserJoined      = "user_joined"
	topicUserLeft        = "user_left"
	topicReaction        = "reaction"
	topicReactionRemoved = "reaction_removed"
	topicEditMessage     = "edit_message"
	topicThreadReply     = "thread_reply"
)

// clientInitPayload bootstraps the session after the handshake: identity,
// the scopes this session is subscribed to, and bot flags.
type clientInitPayload struct {
	UserID        string   `json:"userId"`
	ChannelIDs    []string `json:"channelIds"`
	Conversations []string `json:"conversationIds"`
	BotEnabled    bool     `json:"botEnabled,omitempty"`
}

var (
	// ErrNotConnected is returned by Emit when no live socket exists.
	ErrNotConnected = errors.New("relay: not connected")

	// ErrReconnectExhausted is reported after the reconnect attempt cap is
	// reached. The client stays disconnected until an explicit Connect.
	ErrReconnectExhausted = errors.New("relay: reconnect attempts exhausted")
)

// ============================================================================
// Configuration
// ============================================================================

// RealtimeConfig configures the realtime client. Reconnection defaults match
// the web client: 5 attempts, 1s base delay, 5s delay ceiling, 10s dial
// timeout.
type RealtimeConfig struct {
	// UserID identifies the session in the client:init bootstrap.
	UserID string
	// BotEnabled marks the session as bot-capable in the bootstrap.
	BotEnabled bool
	// DisableReconnect turns off automatic reconnection on transport loss.
	DisableReconnect bool

	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	DialTimeout          time.Duration
}

func (c *RealtimeConfig) defaults() {
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 5
	}
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = 1 * time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 5 * time.Second
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.DialTimeout > 60*time.Second {
		c.DialTimeout = 60 * time.Second
	}
}

// RealtimeState represents the connection state.
type RealtimeState string

const (
	StateDisconnected RealtimeState = "disconnected"
	StateConnecting   RealtimeState = "connecting"
	StateConnected    RealtimeState = "connected"
	StateReconnecting RealtimeState = "reconnecting"
)

// ============================================================================
// Event dispatcher
// ============================================================================

// EventHandler handles one inbound realtime event payload.
type EventHandler func(payload json.RawMessage)

type eventDispatcher struct {
	mu                sync.RWMutex
	handlers          map[string][]EventHandler
	onConnected       []func()
	onDisconnected    []func(reason string)
	onReconnecting    []func(attempt int, delay time.Duration)
	onReconnectFailed []func(err error)
	onState           []func(RealtimeState)
}

func newEventDispatcher() *eventDispatcher {
	return &eventDispatcher{handlers: make(map[string][]EventHandler)}
}

// dispatch runs handlers synchronously, in registration order. Events must
// be applied in transport arrival order, so no goroutines here.
func (d *eventDispatcher) dispatch(env Envelope) {
	d.mu.RLock()
	handlers := append([]EventHandler{}, d.handlers[env.Event]...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h(env.Payload)
	}
}

func (d *eventDispatcher) emitConnected() {
	d.mu.RLock()
	handlers := append([]func(){}, d.onConnected...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h()
	}
}

func (d *eventDispatcher) emitDisconnected(reason string) {
	d.mu.RLock()
	handlers := append([]func(string){}, d.onDisconnected...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h(reason)
	}
}

func (d *eventDispatcher) emitReconnecting(attempt int, delay time.Duration) {
	d.mu.RLock()
	handlers := append([]func(int, time.Duration){}, d.onReconnecting...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h(attempt, delay)
	}
}

func (d *eventDispatcher) emitReconnectFailed(err error) {
	d.mu.RLock()
	handlers := append([]func(error){}, d.onReconnectFailed...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h(err)
	}
}

func (d *eventDispatcher) emitState(s RealtimeState) {
	d.mu.RLock()
	handlers := append([]func(RealtimeState){}, d.onState...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h(s)
	}
}

func (d *eventDispatcher) reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers = make(map[string][]EventHandler)
	d.onConnected = nil
	d.onDisconnected = nil
	d.onReconnecting = nil
	d.onReconnectFailed = nil
	d.onState = nil
}

// ============================================================================
// Reconnector
// ============================================================================

type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
	connectedAt time.Time
}

func newReconnector(config *RealtimeConfig) *reconnector {
	return &reconnector{
		baseDelay:   config.ReconnectBaseDelay,
		maxDelay:    config.ReconnectMaxDelay,
		maxAttempts: config.MaxReconnectAttempts,
	}
}

func (r *reconnector) shouldReconnect() bool {
	return r.maxAttempts == 0 || r.attempt < r.maxAttempts
}

func (r *reconnector) markConnected() {
	r.connectedAt = time.Now()
}

func (r *reconnector) nextDelay() time.Duration {
	// A connection that stayed up for a minute resets the attempt budget.
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

func (r *reconnector) reset() {
	r.attempt = 0
	r.connectedAt = time.Time{}
}

// ============================================================================
// RealtimeClient
// ============================================================================

// RealtimeClient owns the single realtime socket for a session. It handles
// the authentication handshake, automatic reconnection with backoff, and
// delivery of inbound events to registered handlers in arrival order. All
// other components reach the transport only through Emit/Join/Leave; none of
// them may replace or null the socket handle.
type RealtimeClient struct {
	baseURL    string
	credential *Credential
	config     *RealtimeConfig

	dispatcher *eventDispatcher
	recon      *reconnector

	mu               sync.Mutex
	conn             *websocket.Conn
	state            RealtimeState
	intentionalClose bool
	reconnectFailed  bool
	lastErr          error
	cancelFn         context.CancelFunc
	joined           map[Scope]struct{}
}

func newRealtimeClient(baseURL string, credential *Credential, config *RealtimeConfig) *RealtimeClient {
	return &RealtimeClient{
		baseURL:    baseURL,
		credential: credential,
		config:     config,
		dispatcher: newEventDispatcher(),
		recon:      newReconnector(config),
		state:      StateDisconnected,
		joined:     make(map[Scope]struct{}),
	}
}

// ── Handler registration ─────────────────────────────────────────────────

// On registers a handler for an inbound event topic.
func (c *RealtimeClient) On(event string, h EventHandler) {
	c.dispatcher.mu.Lock()
	c.dispatcher.handlers[event] = append(c.dispatcher.handlers[event], h)
	c.dispatcher.mu.Unlock()
}

// OnConnected registers a handler for the connected meta-event.
func (c *RealtimeClient) OnConnected(h func()) {
	c.dispatcher.mu.Lock()
	c.dispatcher.onConnected = append(c.dispatcher.onConnected, h)
	c.dispatcher.mu.Unlock()
}

// OnDisconnected registers a handler for unexpected transport loss.
func (c *RealtimeClient) OnDisconnected(h func(reason string)) {
	c.dispatcher.mu.Lock()
	c.dispatcher.onDisconnected = append(c.dispatcher.onDisconnected, h)
	c.dispatcher.mu.Unlock()
}

// OnReconnecting registers a handler called before each reconnect attempt.
func (c *RealtimeClient) OnReconnecting(h func(attempt int, delay time.Duration)) {
	c.dispatcher.mu.Lock()
	c.dispatcher.onReconnecting = append(c.dispatcher.onReconnecting, h)
	c.dispatcher.mu.Unlock()
}

// OnReconnectFailed registers a handler for the terminal reconnect-failed
// transition.
func (c *RealtimeClient) OnReconnectFailed(h func(err error)) {
	c.dispatcher.mu.Lock()
	c.dispatcher.onReconnectFailed = append(c.dispatcher.onReconnectFailed, h)
	c.dispatcher.mu.Unlock()
}

// OnStateChange registers a handler for connection state transitions, e.g.
// for a connectivity banner.
func (c *RealtimeClient) OnStateChange(h func(RealtimeState)) {
	c.dispatcher.mu.Lock()
	c.dispatcher.onState = append(c.dispatcher.onState, h)
	c.dispatcher.mu.Unlock()
}

// ── Observable state ─────────────────────────────────────────────────────

// State returns the current connection state.
func (c *RealtimeClient) State() RealtimeState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ReconnectFailed reports whether automatic reconnection gave up. It stays
// set until the next explicit Connect.
func (c *RealtimeClient) ReconnectFailed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconnectFailed
}

// LastError returns the most recent connection error.
func (c *RealtimeClient) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Joined returns the scopes this session is currently joined to.
func (c *RealtimeClient) Joined() []Scope {
	c.mu.Lock()
	defer c.mu.Unlock()
	scopes := make([]Scope, 0, len(c.joined))
	for s := range c.joined {
		scopes = append(scopes, s)
	}
	return scopes
}

// ── Connect / Disconnect ─────────────────────────────────────────────────

// Connect establishes the realtime connection. Calling it while already
// connected or connecting is a no-op, so repeated calls from independent
// call sites cannot create a second socket. A *AuthError means the server
// rejected the credential at handshake time: refresh the token before
// calling Connect again.
func (c *RealtimeClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	c.reconnectFailed = false
	c.mu.Unlock()
	c.recon.reset()
	return c.connect(ctx)
}

func (c *RealtimeClient) connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnected || c.state == StateConnecting {
		c.mu.Unlock()
		return nil
	}
	if c.state != StateReconnecting {
		c.state = StateConnecting
	}
	c.intentionalClose = false
	notify := c.state
	c.mu.Unlock()
	c.dispatcher.emitState(notify)

	dialCtx, cancel := context.WithTimeout(ctx, c.config.DialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, c.wsURL(), nil)
	if err != nil {
		c.setDisconnected(err)
		return fmt.Errorf("websocket dial: %w", err)
	}

	// The server's first frame settles authentication.
	_, data, err := conn.Read(dialCtx)
	if err != nil {
		conn.Close(websocket.StatusNormalClosure, "")
		c.setDisconnected(err)
		return fmt.Errorf("read handshake: %w", err)
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		conn.Close(websocket.StatusNormalClosure, "")
		c.setDisconnected(err)
		return fmt.Errorf("decode handshake: %w", err)
	}

	switch env.Event {
	case eventClientReady:
	case eventAuthError:
		conn.Close(websocket.StatusNormalClosure, "")
		var detail struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(env.Payload, &detail)
		if detail.Message == "" {
			detail.Message = "credential rejected"
		}
		authErr := &AuthError{Message: detail.Message}
		c.setDisconnected(authErr)
		return authErr
	default:
		conn.Close(websocket.StatusNormalClosure, "")
		err := fmt.Errorf("unexpected handshake event %q", env.Event)
		c.setDisconnected(err)
		return err
	}

	// Bootstrap the session, then request the presence snapshot so typing
	// and online sets are rebuilt from scratch rather than carried over a
	// dropped connection.
	if err := writeEnvelope(dialCtx, conn, eventClientInit, c.initPayload()); err != nil {
		conn.Close(websocket.StatusNormalClosure, "")
		c.setDisconnected(err)
		return fmt.Errorf("client init: %w", err)
	}
	if err := writeEnvelope(dialCtx, conn, eventUsersStatus, nil); err != nil {
		conn.Close(websocket.StatusNormalClosure, "")
		c.setDisconnected(err)
		return fmt.Errorf("request status snapshot: %w", err)
	}

	readCtx, readCancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.conn = conn
	c.state = StateConnected
	c.lastErr = nil
	c.cancelFn = readCancel
	c.mu.Unlock()
	c.recon.markConnected()

	c.dispatcher.emitState(StateConnected)
	c.dispatcher.emitConnected()

	go c.readLoop(readCtx, conn)
	return nil
}

// Disconnect emits a best-effort leave for every joined scope, tears down
// the socket, and clears all registered event handlers. Safe to call when
// already disconnected.
func (c *RealtimeClient) Disconnect() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, scope := range c.Joined() {
		// One failing leave must not block the rest.
		_ = c.Emit(ctx, scope.topic(topicLeave), refFor(scope))
	}

	c.mu.Lock()
	c.intentionalClose = true
	if c.cancelFn != nil {
		c.cancelFn()
		c.cancelFn = nil
	}
	conn := c.conn
	c.conn = nil
	c.state = StateDisconnected
	c.joined = make(map[Scope]struct{})
	c.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	c.dispatcher.emitState(StateDisconnected)
	c.dispatcher.reset()
	return err
}

// ── Outbound ─────────────────────────────────────────────────────────────

// Emit sends one event over the socket.
func (c *RealtimeClient) Emit(ctx context.Context, event string, payload any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return writeEnvelope(ctx, conn, event, payload)
}

// Join subscribes the session to a scope. The membership survives
// reconnects: rejoining happens through the client:init bootstrap.
func (c *RealtimeClient) Join(ctx context.Context, scope Scope) error {
	if err := c.Emit(ctx, scope.topic(topicJoin), refFor(scope)); err != nil {
		return err
	}
	c.mu.Lock()
	c.joined[scope] = struct{}{}
	c.mu.Unlock()
	return nil
}

// Leave unsubscribes the session from a scope.
func (c *RealtimeClient) Leave(ctx context.Context, scope Scope) error {
	if err := c.Emit(ctx, scope.topic(topicLeave), refFor(scope)); err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.joined, scope)
	c.mu.Unlock()
	return nil
}

// ── Internals ────────────────────────────────────────────────────────────

func (c *RealtimeClient) wsURL() string {
	u := strings.Replace(c.baseURL, "https://", "wss://", 1)
	u = strings.Replace(u, "http://", "ws://", 1)
	return u + "/ws?token=" + url.QueryEscape(c.credential.Token())
}

func (c *RealtimeClient) initPayload() clientInitPayload {
	p := clientInitPayload{
		UserID:        c.config.UserID,
		ChannelIDs:    []string{},
		Conversations: []string{},
		BotEnabled:    c.config.BotEnabled,
	}
	c.mu.Lock()
	for s := range c.joined {
		if s.Kind == ScopeChannel {
			p.ChannelIDs = append(p.ChannelIDs, s.ID)
		} else {
			p.Conversations = append(p.Conversations, s.ID)
		}
	}
	c.mu.Unlock()
	return p
}

func (c *RealtimeClient) setDisconnected(err error) {
	c.mu.Lock()
	c.state = StateDisconnected
	c.lastErr = err
	c.mu.Unlock()
	c.dispatcher.emitState(StateDisconnected)
}

func (c *RealtimeClient) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			c.mu.Lock()
			intentional := c.intentionalClose
			c.state = StateDisconnected
			c.conn = nil
			c.lastErr = err
			c.mu.Unlock()
			if intentional {
				return
			}

			c.dispatcher.emitState(StateDisconnected)
			c.dispatcher.emitDisconnected(err.Error())

			if !c.config.DisableReconnect {
				go c.reconnectLoop()
			}
			return
		}

		var env Envelope
		if json.Unmarshal(data, &env) != nil || env.Event == "" {
			continue
		}
		c.dispatcher.dispatch(env)
	}
}

func (c *RealtimeClient) reconnectLoop() {
	for {
		if !c.recon.shouldReconnect() {
			c.mu.Lock()
			c.reconnectFailed = true
			c.state = StateDisconnected
			c.lastErr = ErrReconnectExhausted
			c.mu.Unlock()
			c.dispatcher.emitState(StateDisconnected)
			c.dispatcher.emitReconnectFailed(ErrReconnectExhausted)
			return
		}

		delay := c.recon.nextDelay()
		c.mu.Lock()
		c.state = StateReconnecting
		attempt := c.recon.attempt
		c.mu.Unlock()
		c.dispatcher.emitState(StateReconnecting)
		c.dispatcher.emitReconnecting(attempt, delay)

		time.Sleep(delay)

		c.mu.Lock()
		if c.intentionalClose {
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		err := c.connect(context.Background())
		if err == nil {
			return
		}

		var authErr *AuthError
		if errors.As(err, &authErr) {
			// The credential is bad; further attempts cannot succeed.
			c.mu.Lock()
			c.reconnectFailed = true
			c.lastErr = authErr
			c.mu.Unlock()
			c.dispatcher.emitReconnectFailed(authErr)
			return
		}
	}
}

func writeEnvelope(ctx context.Context, conn *websocket.Conn, event string, payload any) error {
	env := Envelope{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		env.Payload = data
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
