package relay

import (
	"context"
	"sort"
	"sync"
	"time"
)

// DefaultPageSize is the history page size requested when none is configured.
const DefaultPageSize = 50

// HistoryProvider fetches one page of backward history for a scope. The REST
// MessagesClient implements it; tests substitute fakes.
type HistoryProvider interface {
	MessageHistory(ctx context.Context, scope Scope, cursor string, limit int) (*MessagePage, error)
}

// Timeline owns the per-scope ordered message collections: paginated
// backward history merged with live forward appends, thread-reply
// association, reactions, and delivery status. It is the only component that
// mutates message state; everything else refers to messages by identifier.
//
// All methods are safe for concurrent use. Mutations are idempotent where
// the protocol can deliver duplicates: appending an identifier that is
// already present is a no-op, which makes the race between an optimistic
// insert's reconciliation and the realtime echo of the same send harmless in
// either arrival order.
type Timeline struct {
	mu       sync.RWMutex
	history  HistoryProvider
	pageSize int
	scopes   map[Scope]*scopeTimeline
}

type scopeTimeline struct {
	messages []*Message          // top-level, sorted by CreatedAt asc, ID tiebreak
	byID     map[string]*Message // includes thread replies
	cursor   string
	hasMore  bool
	loaded   bool
}

// TimelineOption configures a Timeline.
type TimelineOption func(*Timeline)

// WithPageSize sets the history page size.
func WithPageSize(n int) TimelineOption {
	return func(t *Timeline) { t.pageSize = n }
}

// NewTimeline creates a timeline store backed by the given history provider.
func NewTimeline(history HistoryProvider, opts ...TimelineOption) *Timeline {
	t := &Timeline{
		history:  history,
		pageSize: DefaultPageSize,
		scopes:   make(map[Scope]*scopeTimeline),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Timeline) scope(s Scope) *scopeTimeline {
	st, ok := t.scopes[s]
	if !ok {
		st = &scopeTimeline{byID: make(map[string]*Message)}
		t.scopes[s] = st
	}
	return st
}

// ── History loading ──────────────────────────────────────────────────────

// LoadInitial replaces the scope's message list with the newest history
// page and primes the pagination cursor.
func (t *Timeline) LoadInitial(ctx context.Context, scope Scope) error {
	page, err := t.history.MessageHistory(ctx, scope, "", t.pageSize)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	st := &scopeTimeline{
		byID:    make(map[string]*Message),
		cursor:  page.Cursor,
		hasMore: page.HasMore,
		loaded:  true,
	}
	t.scopes[scope] = st
	for _, m := range page.Messages {
		st.insert(m)
	}
	return nil
}

// LoadOlder fetches the next older page and merges it in front of the loaded
// messages. When history is exhausted (hasMore false) it returns immediately
// without touching the network. The cursor only ever advances here — live
// appends never move it.
func (t *Timeline) LoadOlder(ctx context.Context, scope Scope) error {
	t.mu.RLock()
	st, ok := t.scopes[scope]
	var cursor string
	more := false
	if ok && st.loaded {
		cursor = st.cursor
		more = st.hasMore
	}
	t.mu.RUnlock()
	if !more {
		return nil
	}

	page, err := t.history.MessageHistory(ctx, scope, cursor, t.pageSize)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	st = t.scope(scope)
	for _, m := range page.Messages {
		st.insert(m)
	}
	st.cursor = page.Cursor
	st.hasMore = page.HasMore
	return nil
}

// ── Live mutations ───────────────────────────────────────────────────────

// Append merges a live message into the scope. Top-level messages are
// inserted in timestamp order; thread replies are appended FIFO to their
// parent's reply list. A reply whose parent is not resident in the loaded
// page is dropped — replies are only materialized under a loaded parent.
// Returns false when the message was dropped or already present.
func (t *Timeline) Append(scope Scope, m *Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.scope(scope).insert(m)
}

// ApplyEdit replaces a message's content and update timestamp. Unknown
// identifiers are a no-op: the message may simply be outside the loaded page.
func (t *Timeline) ApplyEdit(scope Scope, messageID, content string, updatedAt time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.scope(scope).byID[messageID]
	if !ok {
		return
	}
	m.Content = content
	m.UpdatedAt = updatedAt
	m.Edited = true
}

// AddReaction attaches a reaction to a message. Duplicate reaction IDs and
// duplicate (user, emoji) pairs are deduplicated.
func (t *Timeline) AddReaction(scope Scope, messageID string, r Reaction) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.scope(scope).byID[messageID]
	if !ok {
		return
	}
	for _, existing := range m.Reactions {
		if existing.ID == r.ID || (existing.UserID == r.UserID && existing.Emoji == r.Emoji) {
			return
		}
	}
	m.Reactions = append(m.Reactions, r)
}

// RemoveReaction removes a reaction by its identifier.
func (t *Timeline) RemoveReaction(scope Scope, messageID, reactionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.scope(scope).byID[messageID]
	if !ok {
		return
	}
	for i, existing := range m.Reactions {
		if existing.ID == reactionID {
			m.Reactions = append(m.Reactions[:i], m.Reactions[i+1:]...)
			return
		}
	}
}

// Reconcile replaces the optimistic message localID with the
// server-confirmed record. If the realtime echo of the same send already
// arrived under the canonical identifier, the optimistic entry is discarded
// and the echo kept; either way exactly one entry with the canonical ID and
// status sent remains.
func (t *Timeline) Reconcile(scope Scope, localID string, server *Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.scope(scope)

	local, ok := st.byID[localID]
	if ok {
		st.remove(local)
	}

	if existing, ok := st.byID[server.ID]; ok {
		existing.Status = StatusSent
		return
	}

	confirmed := *server
	confirmed.Status = StatusSent
	st.insert(&confirmed)
}

// SetStatus updates a message's delivery status, e.g. marking a failed send.
func (t *Timeline) SetStatus(scope Scope, messageID string, status MessageStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if m, ok := t.scope(scope).byID[messageID]; ok {
		m.Status = status
	}
}

// ── Queries ──────────────────────────────────────────────────────────────

// Messages returns a copy of the scope's top-level timeline, oldest first.
func (t *Timeline) Messages(scope Scope) []*Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st, ok := t.scopes[scope]
	if !ok {
		return nil
	}
	return append([]*Message{}, st.messages...)
}

// Message looks up a single message (top-level or thread reply) by ID.
func (t *Timeline) Message(scope Scope, messageID string) (*Message, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st, ok := t.scopes[scope]
	if !ok {
		return nil, false
	}
	m, ok := st.byID[messageID]
	return m, ok
}

// ThreadReplies returns the reply list of a parent message, arrival order.
func (t *Timeline) ThreadReplies(scope Scope, parentID string) []*Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st, ok := t.scopes[scope]
	if !ok {
		return nil
	}
	parent, ok := st.byID[parentID]
	if !ok {
		return nil
	}
	return append([]*Message{}, parent.Thread...)
}

// HasMore reports whether older history remains for the scope.
func (t *Timeline) HasMore(scope Scope) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st, ok := t.scopes[scope]
	return ok && st.hasMore
}

// Cursor returns the scope's current pagination cursor.
func (t *Timeline) Cursor(scope Scope) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st, ok := t.scopes[scope]
	if !ok {
		return ""
	}
	return st.cursor
}

// ── scopeTimeline internals (callers hold Timeline.mu) ───────────────────

func (st *scopeTimeline) insert(m *Message) bool {
	if _, exists := st.byID[m.ID]; exists {
		return false
	}

	if m.ThreadID != nil {
		parent, ok := st.byID[*m.ThreadID]
		if !ok {
			// Parent outside the loaded page: drop rather than orphan.
			return false
		}
		parent.Thread = append(parent.Thread, m)
		st.byID[m.ID] = m
		return true
	}

	i := sort.Search(len(st.messages), func(i int) bool {
		return m.before(st.messages[i])
	})
	st.messages = append(st.messages, nil)
	copy(st.messages[i+1:], st.messages[i:])
	st.messages[i] = m
	st.byID[m.ID] = m

	// A freshly loaded top-level message may carry its thread with it.
	for _, reply := range m.Thread {
		st.byID[reply.ID] = reply
	}
	return true
}

func (st *scopeTimeline) remove(m *Message) {
	delete(st.byID, m.ID)

	if m.ThreadID != nil {
		if parent, ok := st.byID[*m.ThreadID]; ok {
			for i, reply := range parent.Thread {
				if reply.ID == m.ID {
					parent.Thread = append(parent.Thread[:i], parent.Thread[i+1:]...)
					break
				}
			}
		}
		return
	}

	for i, existing := range st.messages {
		if existing.ID == m.ID {
			st.messages = append(st.messages[:i], st.messages[i+1:]...)
			break
		}
	}
}
