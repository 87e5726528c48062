package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// localIDPrefix marks a message that exists only in the local timeline,
// pending server acknowledgement.
const localIDPrefix = "local-"

// Dispatcher turns user intents into REST calls and realtime emissions,
// layering optimistic state on the timeline so the UI reflects an action
// before the server confirms it. Server echoes remain the source of truth
// for everything except the caller's own pending sends: edits and reactions
// are not applied locally, they land when the echo comes back through the
// router.
type Dispatcher struct {
	api      *Client
	rt       *RealtimeClient
	timeline *Timeline
	bot      *BotSession
	userID   string
}

// NewDispatcher creates a dispatcher for the given user.
func NewDispatcher(api *Client, rt *RealtimeClient, timeline *Timeline, bot *BotSession, userID string) *Dispatcher {
	return &Dispatcher{api: api, rt: rt, timeline: timeline, bot: bot, userID: userID}
}

func (d *Dispatcher) newLocal(scope Scope, content, threadID string) *Message {
	now := time.Now().UTC()
	m := &Message{
		ID:        localIDPrefix + uuid.NewString(),
		SenderID:  d.userID,
		Content:   content,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if threadID != "" {
		m.ThreadID = &threadID
	}
	switch scope.Kind {
	case ScopeChannel:
		m.ChannelID = scope.ID
	case ScopeConversation:
		m.ConversationID = scope.ID
	}
	return m
}

// SendMessage appends an optimistic pending message to the scope's timeline,
// posts it, and reconciles the local entry with the server copy. On failure
// the local message is kept with a failed status so the caller can retry.
// The local message's ID is returned either way.
func (d *Dispatcher) SendMessage(ctx context.Context, scope Scope, content string) (string, error) {
	return d.send(ctx, scope, content, "")
}

// SendThreadReply sends a reply under parentID. The parent must already be
// in the timeline or the optimistic entry is silently dropped by the store.
func (d *Dispatcher) SendThreadReply(ctx context.Context, scope Scope, parentID, content string) (string, error) {
	if _, ok := d.timeline.Message(scope, parentID); !ok {
		return "", fmt.Errorf("thread parent %s not loaded in %s %s", parentID, scope.Kind, scope.ID)
	}
	return d.send(ctx, scope, content, parentID)
}

func (d *Dispatcher) send(ctx context.Context, scope Scope, content, threadID string) (string, error) {
	local := d.newLocal(scope, content, threadID)
	d.timeline.Append(scope, local)
	return local.ID, d.post(ctx, scope, local)
}

func (d *Dispatcher) post(ctx context.Context, scope Scope, local *Message) error {
	threadID := ""
	if local.ThreadID != nil {
		threadID = *local.ThreadID
	}
	server, err := d.api.Messages.Create(ctx, scope, local.Content, threadID)
	if err != nil {
		d.timeline.SetStatus(scope, local.ID, StatusFailed)
		return err
	}
	d.timeline.Reconcile(scope, local.ID, server)

	// Notify peers. The message is already persisted, so a dead socket is
	// not a send failure.
	topic := topicMessage
	if threadID != "" {
		topic = topicThreadReply
	}
	_ = d.rt.Emit(ctx, scope.topic(topic), server)
	return nil
}

// RetrySend re-posts a message that previously failed. The message keeps its
// local ID until the server acknowledges it.
func (d *Dispatcher) RetrySend(ctx context.Context, scope Scope, localID string) error {
	m, ok := d.timeline.Message(scope, localID)
	if !ok {
		return fmt.Errorf("message %s not found", localID)
	}
	if m.Status != StatusFailed {
		return fmt.Errorf("message %s is not in a failed state", localID)
	}
	d.timeline.SetStatus(scope, localID, StatusPending)
	return d.post(ctx, scope, m)
}

// EditMessage submits an edit and broadcasts it. The local timeline is
// updated by the server's edit_message echo, not here.
func (d *Dispatcher) EditMessage(ctx context.Context, scope Scope, messageID, content string) error {
	m, err := d.api.Messages.Edit(ctx, scope, messageID, content)
	if err != nil {
		return err
	}
	_ = d.rt.Emit(ctx, scope.topic(topicEditMessage), EditPayload{
		scopeRef:  refFor(scope),
		MessageID: messageID,
		Content:   content,
		UpdatedAt: m.UpdatedAt,
	})
	return nil
}

// AddReaction submits a reaction from the current user and broadcasts it.
func (d *Dispatcher) AddReaction(ctx context.Context, scope Scope, messageID, emoji string) error {
	r, err := d.api.Messages.AddReaction(ctx, scope, messageID, emoji)
	if err != nil {
		return err
	}
	_ = d.rt.Emit(ctx, scope.topic(topicReaction), ReactionPayload{
		scopeRef:  refFor(scope),
		MessageID: messageID,
		Reaction:  *r,
	})
	return nil
}

// RemoveReaction removes a reaction by its identifier and broadcasts the
// removal.
func (d *Dispatcher) RemoveReaction(ctx context.Context, scope Scope, messageID, reactionID string) error {
	if err := d.api.Messages.RemoveReaction(ctx, scope, messageID, reactionID); err != nil {
		return err
	}
	_ = d.rt.Emit(ctx, scope.topic(topicReactionRemoved), ReactionRemovedPayload{
		scopeRef:   refFor(scope),
		MessageID:  messageID,
		ReactionID: reactionID,
	})
	return nil
}

// JoinScope subscribes the socket to a scope's events and loads the newest
// page of its history.
func (d *Dispatcher) JoinScope(ctx context.Context, scope Scope) error {
	if err := d.rt.Join(ctx, scope); err != nil {
		return err
	}
	return d.timeline.LoadInitial(ctx, scope)
}

// LeaveScope unsubscribes the socket from a scope's events. The loaded
// timeline is kept so re-entering the scope is instant.
func (d *Dispatcher) LeaveScope(ctx context.Context, scope Scope) error {
	return d.rt.Leave(ctx, scope)
}

// LoadOlder fetches the next older page of a scope's history.
func (d *Dispatcher) LoadOlder(ctx context.Context, scope Scope) error {
	return d.timeline.LoadOlder(ctx, scope)
}

type typingEmit struct {
	scopeRef
	IsTyping bool `json:"isTyping"`
}

// SetTyping broadcasts the current user's typing state to a scope.
func (d *Dispatcher) SetTyping(ctx context.Context, scope Scope, typing bool) error {
	p := typingEmit{scopeRef: refFor(scope), IsTyping: typing}
	return d.rt.Emit(ctx, scope.topic(topicTyping), p)
}

// ConnectBot activates the assistant session.
func (d *Dispatcher) ConnectBot(ctx context.Context) error {
	if err := d.rt.Emit(ctx, eventBotConnect, struct{}{}); err != nil {
		return err
	}
	d.bot.SetActive(true)
	return nil
}

// DisconnectBot deactivates the assistant session and clears its transcript.
func (d *Dispatcher) DisconnectBot() {
	d.bot.SetActive(false)
}

// SendBotMessage records the user's prompt in the transcript and forwards it
// to the assistant. The reply arrives as a bot:message event.
func (d *Dispatcher) SendBotMessage(ctx context.Context, content string) error {
	if !d.bot.Active() {
		return fmt.Errorf("assistant session is not active")
	}
	d.bot.AppendUser(content)
	return d.rt.Emit(ctx, eventBotMessage, map[string]string{"message": content})
}

// SetBotMode requests a change to the scopes the assistant listens in. The
// authoritative lists come back as a bot:mode_updated event.
func (d *Dispatcher) SetBotMode(ctx context.Context, channelIDs, conversationIDs []string) error {
	return d.rt.Emit(ctx, eventBotSetMode, BotModePayload{
		ChannelIDs:      channelIDs,
		ConversationIDs: conversationIDs,
	})
}
