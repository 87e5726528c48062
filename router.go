package relay

import (
	"encoding/json"
	"time"
)

// ============================================================================
// Inbound payload types
// ============================================================================

// EditPayload carries a message edit.
type EditPayload struct {
	scopeRef
	MessageID string    `json:"messageId"`
	Content   string    `json:"content"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ReactionPayload carries a reaction added to a message.
type ReactionPayload struct {
	scopeRef
	MessageID string   `json:"messageId"`
	Reaction  Reaction `json:"reaction"`
}

// ReactionRemovedPayload carries a reaction removal, by reaction identifier.
type ReactionRemovedPayload struct {
	scopeRef
	MessageID  string `json:"messageId"`
	ReactionID string `json:"reactionId"`
}

// TypingPayload carries a typing start/stop indicator.
type TypingPayload struct {
	scopeRef
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

// ScopeUsersPayload carries a scope's full member list.
type ScopeUsersPayload struct {
	scopeRef
	Users []string `json:"users"`
}

// MembershipPayload carries a user joining or leaving a scope.
type MembershipPayload struct {
	scopeRef
	UserID string `json:"userId"`
}

// PresencePayload carries a user going online or offline.
type PresencePayload struct {
	UserID string `json:"userId"`
}

// InitialStatusPayload is the full presence snapshot sent after connecting.
type InitialStatusPayload struct {
	Online []string `json:"online"`
}

// BotMessagePayload carries a bot reply.
type BotMessagePayload struct {
	Message string `json:"message"`
}

// BotModePayload carries the updated bot-enabled scope lists.
type BotModePayload struct {
	ChannelIDs      []string `json:"channelIds"`
	ConversationIDs []string `json:"conversationIds"`
}

// ============================================================================
// Component interfaces
// ============================================================================

// TimelineSink is the mutation surface the router needs from the timeline
// store.
type TimelineSink interface {
	Append(scope Scope, m *Message) bool
	ApplyEdit(scope Scope, messageID, content string, updatedAt time.Time)
	AddReaction(scope Scope, messageID string, r Reaction)
	RemoveReaction(scope Scope, messageID, reactionID string)
}

// PresenceSink is the mutation surface the router needs from the presence
// tracker.
type PresenceSink interface {
	Reset()
	SetInitial(online []string)
	SetOnline(userID string)
	SetOffline(userID string)
	SetTyping(scope Scope, userID string, typing bool)
	SetMembers(scope Scope, users []string)
	AddMember(scope Scope, userID string)
	RemoveMember(scope Scope, userID string)
}

// BotSink is the mutation surface the router needs from the bot session.
type BotSink interface {
	AppendBot(content string) BotMessage
	SetMode(channelIDs, conversationIDs []string)
}

// Notifier receives user-facing notices from the router: bot-mode changes
// and dropped malformed events. Implementations must not block.
type Notifier interface {
	Notify(topic, message string)
}

// ============================================================================
// Router
// ============================================================================

// Router demultiplexes inbound realtime events by topic and converts each
// into a state mutation on the timeline store, presence tracker, or bot
// session. Handlers never touch the transport. Payloads are validated here
// at the boundary: a malformed payload, or one whose target scope or message
// is not loaded locally, is dropped rather than crashing a handler deep in
// the stack.
type Router struct {
	timeline TimelineSink
	presence PresenceSink
	bot      BotSink
	notify   Notifier
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithNotifier installs a sink for user-facing router notices.
func WithNotifier(n Notifier) RouterOption {
	return func(r *Router) { r.notify = n }
}

// NewRouter creates a router over the given component sinks.
func NewRouter(timeline TimelineSink, presence PresenceSink, bot BotSink, opts ...RouterOption) *Router {
	r := &Router{timeline: timeline, presence: presence, bot: bot}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Bind registers one handler per inbound topic on the realtime client, for
// both scope kinds. It also resets the presence tracker on every connect so
// the state is rebuilt from the server's snapshot instead of surviving a
// dropped connection.
func (r *Router) Bind(rc *RealtimeClient) {
	for _, kind := range []ScopeKind{ScopeChannel, ScopeConversation} {
		prefix := string(kind) + ":"
		rc.On(prefix+topicMessage, r.handleMessage)
		rc.On(prefix+topicThreadReply, r.handleMessage)
		rc.On(prefix+topicEditMessage, r.handleEdit)
		rc.On(prefix+topicReaction, r.handleReaction)
		rc.On(prefix+topicReactionRemoved, r.handleReactionRemoved)
		rc.On(prefix+topicTyping, r.handleTyping)
		rc.On(prefix+topicUsers, r.handleScopeUsers)
		rc.On(prefix+topicUserJoined, r.handleUserJoined)
		rc.On(prefix+topicUserLeft, r.handleUserLeft)
	}

	rc.On(eventUserOnline, r.handleOnline)
	rc.On(eventUserOffline, r.handleOffline)
	rc.On(eventUsersInitial, r.handleInitialStatus)
	rc.On(eventBotMessage, r.handleBotMessage)
	rc.On(eventBotModeUpdated, r.handleBotMode)

	rc.OnConnected(r.presence.Reset)
}

func (r *Router) drop(topic, reason string) {
	if r.notify != nil {
		r.notify.Notify(topic, "dropped event: "+reason)
	}
}

// ── Handlers ─────────────────────────────────────────────────────────────

func (r *Router) handleMessage(payload json.RawMessage) {
	var m Message
	if err := json.Unmarshal(payload, &m); err != nil {
		r.drop(topicMessage, "malformed payload")
		return
	}
	scope, ok := m.Scope()
	if !ok || m.ID == "" {
		r.drop(topicMessage, "missing scope or id")
		return
	}
	if m.Status == "" {
		m.Status = StatusSent
	}
	r.timeline.Append(scope, &m)
}

func (r *Router) handleEdit(payload json.RawMessage) {
	var p EditPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		r.drop(topicEditMessage, "malformed payload")
		return
	}
	scope, ok := p.scope()
	if !ok || p.MessageID == "" {
		r.drop(topicEditMessage, "missing scope or message id")
		return
	}
	r.timeline.ApplyEdit(scope, p.MessageID, p.Content, p.UpdatedAt)
}

func (r *Router) handleReaction(payload json.RawMessage) {
	var p ReactionPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		r.drop(topicReaction, "malformed payload")
		return
	}
	scope, ok := p.scope()
	if !ok || p.MessageID == "" || p.Reaction.ID == "" {
		r.drop(topicReaction, "missing scope, message, or reaction id")
		return
	}
	r.timeline.AddReaction(scope, p.MessageID, p.Reaction)
}

func (r *Router) handleReactionRemoved(payload json.RawMessage) {
	var p ReactionRemovedPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		r.drop(topicReactionRemoved, "malformed payload")
		return
	}
	scope, ok := p.scope()
	if !ok || p.MessageID == "" || p.ReactionID == "" {
		r.drop(topicReactionRemoved, "missing scope, message, or reaction id")
		return
	}
	r.timeline.RemoveReaction(scope, p.MessageID, p.ReactionID)
}

func (r *Router) handleTyping(payload json.RawMessage) {
	var p TypingPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		r.drop(topicTyping, "malformed payload")
		return
	}
	scope, ok := p.scope()
	if !ok || p.UserID == "" {
		r.drop(topicTyping, "missing scope or user id")
		return
	}
	r.presence.SetTyping(scope, p.UserID, p.IsTyping)
}

func (r *Router) handleScopeUsers(payload json.RawMessage) {
	var p ScopeUsersPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		r.drop(topicUsers, "malformed payload")
		return
	}
	scope, ok := p.scope()
	if !ok {
		r.drop(topicUsers, "missing scope")
		return
	}
	r.presence.SetMembers(scope, p.Users)
}

func (r *Router) handleUserJoined(payload json.RawMessage) {
	var p MembershipPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		r.drop(topicUserJoined, "malformed payload")
		return
	}
	scope, ok := p.scope()
	if !ok || p.UserID == "" {
		r.drop(topicUserJoined, "missing scope or user id")
		return
	}
	r.presence.AddMember(scope, p.UserID)
}

func (r *Router) handleUserLeft(payload json.RawMessage) {
	var p MembershipPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		r.drop(topicUserLeft, "malformed payload")
		return
	}
	scope, ok := p.scope()
	if !ok || p.UserID == "" {
		r.drop(topicUserLeft, "missing scope or user id")
		return
	}
	r.presence.RemoveMember(scope, p.UserID)
}

func (r *Router) handleOnline(payload json.RawMessage) {
	var p PresencePayload
	if err := json.Unmarshal(payload, &p); err != nil || p.UserID == "" {
		r.drop(eventUserOnline, "malformed payload")
		return
	}
	r.presence.SetOnline(p.UserID)
}

func (r *Router) handleOffline(payload json.RawMessage) {
	var p PresencePayload
	if err := json.Unmarshal(payload, &p); err != nil || p.UserID == "" {
		r.drop(eventUserOffline, "malformed payload")
		return
	}
	r.presence.SetOffline(p.UserID)
}

func (r *Router) handleInitialStatus(payload json.RawMessage) {
	var p InitialStatusPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		r.drop(eventUsersInitial, "malformed payload")
		return
	}
	r.presence.SetInitial(p.Online)
}

func (r *Router) handleBotMessage(payload json.RawMessage) {
	var p BotMessagePayload
	if err := json.Unmarshal(payload, &p); err != nil || p.Message == "" {
		r.drop(eventBotMessage, "malformed payload")
		return
	}
	r.bot.AppendBot(p.Message)
}

func (r *Router) handleBotMode(payload json.RawMessage) {
	var p BotModePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		r.drop(eventBotModeUpdated, "malformed payload")
		return
	}
	r.bot.SetMode(p.ChannelIDs, p.ConversationIDs)
	if r.notify != nil {
		r.notify.Notify(eventBotModeUpdated, "bot mode updated")
	}
}
