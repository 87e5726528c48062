package relay

import "time"

// ============================================================================
// Shared Types
// ============================================================================

// APIError represents an error returned by the Relay API.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return e.Code + ": " + e.Message
}

// AuthError is returned when the server rejects the credential at handshake
// time. It is distinct from transport failures because retrying with the same
// credential cannot succeed — the caller must refresh the token first.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	return "authentication rejected: " + e.Message
}

// ============================================================================
// Scopes
// ============================================================================

// ScopeKind distinguishes the two message partitions.
type ScopeKind string

const (
	ScopeChannel      ScopeKind = "channel"
	ScopeConversation ScopeKind = "conversation"
)

// Scope identifies a channel or conversation, the unit of message
// partitioning. Scopes are comparable and used as map keys.
type Scope struct {
	Kind ScopeKind
	ID   string
}

func ChannelScope(id string) Scope      { return Scope{Kind: ScopeChannel, ID: id} }
func ConversationScope(id string) Scope { return Scope{Kind: ScopeConversation, ID: id} }

func (s Scope) String() string { return string(s.Kind) + "/" + s.ID }

// topic builds the wire event name for this scope's kind, e.g. "channel:message".
func (s Scope) topic(event string) string { return string(s.Kind) + ":" + event }

// Event returns the wire event name for this scope's kind, e.g.
// "channel:message". Useful for subscribing to raw scope events.
func (s Scope) Event(name string) string { return s.topic(name) }

// scopeRef is the wire representation of a scope inside event payloads:
// exactly one of the two identifiers is set.
type scopeRef struct {
	ChannelID      string `json:"channelId,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
}

func (r scopeRef) scope() (Scope, bool) {
	switch {
	case r.ChannelID != "":
		return ChannelScope(r.ChannelID), true
	case r.ConversationID != "":
		return ConversationScope(r.ConversationID), true
	}
	return Scope{}, false
}

func refFor(s Scope) scopeRef {
	if s.Kind == ScopeChannel {
		return scopeRef{ChannelID: s.ID}
	}
	return scopeRef{ConversationID: s.ID}
}

// ============================================================================
// Messages & Reactions
// ============================================================================

// MessageStatus is the local delivery status of a message.
type MessageStatus string

const (
	StatusPending MessageStatus = "pending"
	StatusSent    MessageStatus = "sent"
	StatusFailed  MessageStatus = "failed"
)

// Reaction is an emoji attached to a message by a user. A given
// (message, user, emoji) combination has at most one live reaction.
type Reaction struct {
	ID     string `json:"id"`
	Emoji  string `json:"emoji"`
	UserID string `json:"userId"`
}

// Message belongs to exactly one scope. A non-nil ThreadID marks it as a
// thread reply: it is excluded from the top-level timeline and lives in its
// parent's Thread list instead.
type Message struct {
	ID             string        `json:"id"`
	ChannelID      string        `json:"channelId,omitempty"`
	ConversationID string        `json:"conversationId,omitempty"`
	SenderID       string        `json:"senderId"`
	Content        string        `json:"content"`
	ThreadID       *string       `json:"threadId,omitempty"`
	Reactions      []Reaction    `json:"reactions,omitempty"`
	Thread         []*Message    `json:"thread,omitempty"`
	Edited         bool          `json:"edited,omitempty"`
	Status         MessageStatus `json:"status,omitempty"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt,omitempty"`
}

// Scope returns the scope the message belongs to.
func (m *Message) Scope() (Scope, bool) {
	return scopeRef{ChannelID: m.ChannelID, ConversationID: m.ConversationID}.scope()
}

// before reports timeline order: creation time ascending, ties broken by ID.
func (m *Message) before(other *Message) bool {
	if m.CreatedAt.Equal(other.CreatedAt) {
		return m.ID < other.ID
	}
	return m.CreatedAt.Before(other.CreatedAt)
}

// MessagePage is one page of backward history. Cursor is an opaque token for
// the next older page; HasMore is false once history is exhausted.
type MessagePage struct {
	Messages []*Message `json:"messages"`
	Cursor   string     `json:"cursor,omitempty"`
	HasMore  bool       `json:"hasMore"`
}

// ============================================================================
// Workspace / Channel / Conversation / User
// ============================================================================

type User struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName,omitempty"`
	Email       string `json:"email,omitempty"`
	Status      string `json:"status,omitempty"`
}

type Workspace struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug,omitempty"`
	Role string `json:"role,omitempty"`
}

type Channel struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspaceId"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

type Conversation struct {
	ID           string    `json:"id"`
	Participants []User    `json:"participants"`
	LastMessage  *Message  `json:"lastMessage,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

type Invite struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspaceId"`
	Email       string    `json:"email"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
}
