package relay

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// BotSender tags who produced a bot transcript entry.
type BotSender string

const (
	BotSenderUser BotSender = "user"
	BotSenderBot  BotSender = "bot"
)

// BotMessage is one entry in the local bot transcript. The transcript is
// session-local: it is never persisted and never merged into scope timelines.
type BotMessage struct {
	ID        string    `json:"id"`
	Sender    BotSender `json:"sender"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// BotSession holds the bot-mode state for a session: the local transcript,
// whether the assistant is active, which scopes have bot mode enabled, and
// whether a reply is pending.
type BotSession struct {
	mu            sync.RWMutex
	messages      []BotMessage
	active        bool
	waiting       bool
	channels      map[string]struct{}
	conversations map[string]struct{}
}

// NewBotSession creates an inactive bot session.
func NewBotSession() *BotSession {
	return &BotSession{
		channels:      make(map[string]struct{}),
		conversations: make(map[string]struct{}),
	}
}

// AppendUser records a message the user sent to the bot and marks a reply
// as pending.
func (b *BotSession) AppendUser(content string) BotMessage {
	return b.append(BotSenderUser, content, true)
}

// AppendBot records a reply from the bot and clears the pending flag.
func (b *BotSession) AppendBot(content string) BotMessage {
	return b.append(BotSenderBot, content, false)
}

func (b *BotSession) append(sender BotSender, content string, waiting bool) BotMessage {
	m := BotMessage{
		ID:        uuid.NewString(),
		Sender:    sender,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	b.mu.Lock()
	b.messages = append(b.messages, m)
	b.waiting = waiting
	b.mu.Unlock()
	return m
}

// Messages returns a copy of the transcript.
func (b *BotSession) Messages() []BotMessage {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]BotMessage{}, b.messages...)
}

// Waiting reports whether a bot reply is pending.
func (b *BotSession) Waiting() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.waiting
}

// SetActive toggles the assistant. Deactivating clears the transcript.
func (b *BotSession) SetActive(active bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.active = active
	if !active {
		b.messages = nil
		b.waiting = false
	}
}

// Active reports whether the assistant is active.
func (b *BotSession) Active() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.active
}

// SetMode replaces the bot-enabled scope lists, from a bot:mode_updated
// event.
func (b *BotSession) SetMode(channelIDs, conversationIDs []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.channels = make(map[string]struct{}, len(channelIDs))
	for _, id := range channelIDs {
		b.channels[id] = struct{}{}
	}
	b.conversations = make(map[string]struct{}, len(conversationIDs))
	for _, id := range conversationIDs {
		b.conversations[id] = struct{}{}
	}
}

// EnabledIn reports whether bot mode is enabled for a scope.
func (b *BotSession) EnabledIn(scope Scope) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if scope.Kind == ScopeChannel {
		_, ok := b.channels[scope.ID]
		return ok
	}
	_, ok := b.conversations[scope.ID]
	return ok
}
