package relay

import (
	"encoding/json"
	"testing"
	"time"
)

// recordingTimeline records the mutations the router applies.
type recordingTimeline struct {
	appended  []*Message
	edits     []string
	reactions []Reaction
	removed   []string
}

func (r *recordingTimeline) Append(scope Scope, m *Message) bool {
	r.appended = append(r.appended, m)
	return true
}
func (r *recordingTimeline) ApplyEdit(scope Scope, messageID, content string, updatedAt time.Time) {
	r.edits = append(r.edits, messageID)
}
func (r *recordingTimeline) AddReaction(scope Scope, messageID string, re Reaction) {
	r.reactions = append(r.reactions, re)
}
func (r *recordingTimeline) RemoveReaction(scope Scope, messageID, reactionID string) {
	r.removed = append(r.removed, reactionID)
}

type recordingNotifier struct{ notices []string }

func (r *recordingNotifier) Notify(topic, message string) {
	r.notices = append(r.notices, topic+": "+message)
}

func newBoundRouter(t *testing.T) (*RealtimeClient, *recordingTimeline, *Tracker, *BotSession, *recordingNotifier) {
	t.Helper()
	rc := newRealtimeClient("http://test", NewCredential("tok"), &RealtimeConfig{UserID: "me"})
	tl := &recordingTimeline{}
	pr := NewTracker()
	bot := NewBotSession()
	n := &recordingNotifier{}
	NewRouter(tl, pr, bot, WithNotifier(n)).Bind(rc)
	return rc, tl, pr, bot, n
}

func deliver(rc *RealtimeClient, event string, payload any) {
	data, _ := json.Marshal(payload)
	rc.dispatcher.dispatch(Envelope{Event: event, Payload: data})
}

func TestRouterMessages(t *testing.T) {
	t.Run("channel message appended", func(t *testing.T) {
		rc, tl, _, _, _ := newBoundRouter(t)
		deliver(rc, "channel:message", &Message{ID: "m1", ChannelID: "c1", SenderID: "u1", Content: "hi"})
		if len(tl.appended) != 1 || tl.appended[0].ID != "m1" {
			t.Fatalf("appended = %+v", tl.appended)
		}
		if tl.appended[0].Status != StatusSent {
			t.Fatalf("echoed message should default to sent, got %s", tl.appended[0].Status)
		}
	})

	t.Run("conversation thread reply appended", func(t *testing.T) {
		rc, tl, _, _, _ := newBoundRouter(t)
		parent := "m1"
		deliver(rc, "conversation:thread_reply", &Message{ID: "r1", ConversationID: "d1", ThreadID: &parent})
		if len(tl.appended) != 1 || tl.appended[0].ID != "r1" {
			t.Fatalf("appended = %+v", tl.appended)
		}
	})

	t.Run("message without scope dropped", func(t *testing.T) {
		rc, tl, _, _, n := newBoundRouter(t)
		deliver(rc, "channel:message", &Message{ID: "m1"})
		if len(tl.appended) != 0 {
			t.Fatalf("scopeless message reached the timeline: %+v", tl.appended)
		}
		if len(n.notices) == 0 {
			t.Fatal("drop should be reported to the notifier")
		}
	})

	t.Run("malformed payload dropped", func(t *testing.T) {
		rc, tl, _, _, n := newBoundRouter(t)
		rc.dispatcher.dispatch(Envelope{Event: "channel:message", Payload: json.RawMessage(`{"id":`)})
		if len(tl.appended) != 0 {
			t.Fatal("malformed payload reached the timeline")
		}
		if len(n.notices) == 0 {
			t.Fatal("drop should be reported to the notifier")
		}
	})

	t.Run("unknown event ignored", func(t *testing.T) {
		rc, tl, _, _, n := newBoundRouter(t)
		deliver(rc, "channel:nonsense", map[string]string{"x": "y"})
		if len(tl.appended) != 0 || len(n.notices) != 0 {
			t.Fatal("unknown events should be ignored silently")
		}
	})
}

func TestRouterEditsAndReactions(t *testing.T) {
	rc, tl, _, _, _ := newBoundRouter(t)

	deliver(rc, "channel:edit_message", EditPayload{
		scopeRef:  scopeRef{ChannelID: "c1"},
		MessageID: "m1",
		Content:   "fixed",
		UpdatedAt: time.Now(),
	})
	if len(tl.edits) != 1 || tl.edits[0] != "m1" {
		t.Fatalf("edits = %v", tl.edits)
	}

	deliver(rc, "channel:reaction", ReactionPayload{
		scopeRef:  scopeRef{ChannelID: "c1"},
		MessageID: "m1",
		Reaction:  Reaction{ID: "x1", Emoji: "👍", UserID: "u2"},
	})
	if len(tl.reactions) != 1 || tl.reactions[0].ID != "x1" {
		t.Fatalf("reactions = %v", tl.reactions)
	}

	deliver(rc, "channel:reaction_removed", ReactionRemovedPayload{
		scopeRef:   scopeRef{ChannelID: "c1"},
		MessageID:  "m1",
		ReactionID: "x1",
	})
	if len(tl.removed) != 1 || tl.removed[0] != "x1" {
		t.Fatalf("removed = %v", tl.removed)
	}

	// A reaction without an ID is dropped before the timeline sees it.
	deliver(rc, "channel:reaction", ReactionPayload{
		scopeRef:  scopeRef{ChannelID: "c1"},
		MessageID: "m1",
	})
	if len(tl.reactions) != 1 {
		t.Fatal("reaction without ID should be dropped")
	}
}

func TestRouterPresence(t *testing.T) {
	rc, _, pr, _, _ := newBoundRouter(t)
	scope := ChannelScope("c1")

	deliver(rc, "users:initial_status", InitialStatusPayload{Online: []string{"u1", "u2"}})
	if !pr.IsOnline("u1") || !pr.IsOnline("u2") {
		t.Fatal("initial status not applied")
	}

	deliver(rc, "user:offline", PresencePayload{UserID: "u2"})
	if pr.IsOnline("u2") {
		t.Fatal("offline event not applied")
	}
	deliver(rc, "user:online", PresencePayload{UserID: "u3"})
	if !pr.IsOnline("u3") {
		t.Fatal("online event not applied")
	}

	deliver(rc, "channel:users", ScopeUsersPayload{scopeRef: scopeRef{ChannelID: "c1"}, Users: []string{"u1"}})
	deliver(rc, "channel:user_joined", MembershipPayload{scopeRef: scopeRef{ChannelID: "c1"}, UserID: "u2"})
	if got := pr.Members(scope); len(got) != 2 {
		t.Fatalf("Members() = %v", got)
	}
	deliver(rc, "channel:user_left", MembershipPayload{scopeRef: scopeRef{ChannelID: "c1"}, UserID: "u1"})
	if got := pr.Members(scope); len(got) != 1 || got[0] != "u2" {
		t.Fatalf("Members() after leave = %v", got)
	}

	deliver(rc, "channel:typing", TypingPayload{scopeRef: scopeRef{ChannelID: "c1"}, UserID: "u2", IsTyping: true})
	if got := pr.Typing(scope); len(got) != 1 {
		t.Fatalf("Typing() = %v", got)
	}
	deliver(rc, "channel:typing", TypingPayload{scopeRef: scopeRef{ChannelID: "c1"}, UserID: "u2", IsTyping: false})
	if got := pr.Typing(scope); len(got) != 0 {
		t.Fatalf("Typing() after stop = %v", got)
	}
}

func TestRouterPresenceResetOnConnect(t *testing.T) {
	rc, _, pr, _, _ := newBoundRouter(t)
	pr.SetOnline("stale")

	rc.dispatcher.emitConnected()

	if pr.IsOnline("stale") {
		t.Fatal("presence must be rebuilt from scratch on every connect")
	}
}

func TestRouterBot(t *testing.T) {
	rc, _, _, bot, n := newBoundRouter(t)
	bot.SetActive(true)
	bot.AppendUser("question")

	deliver(rc, "bot:message", BotMessagePayload{Message: "answer"})
	msgs := bot.Messages()
	if len(msgs) != 2 || msgs[1].Content != "answer" {
		t.Fatalf("transcript = %+v", msgs)
	}
	if bot.Waiting() {
		t.Fatal("reply should clear the waiting flag")
	}

	deliver(rc, "bot:mode_updated", BotModePayload{ChannelIDs: []string{"c1"}})
	if !bot.EnabledIn(ChannelScope("c1")) {
		t.Fatal("mode update not applied")
	}
	if len(n.notices) == 0 {
		t.Fatal("mode update should produce a notice")
	}
}
