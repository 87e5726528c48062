package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// newTestDispatcher wires a dispatcher against a scripted REST server and a
// disconnected realtime client.
func newTestDispatcher(t *testing.T, handler http.HandlerFunc) (*Dispatcher, *Timeline) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	api := NewClient("tok", WithBaseURL(srv.URL))
	rt := api.Realtime(&RealtimeConfig{UserID: "me"})
	tl := NewTimeline(api.Messages)
	bot := NewBotSession()
	return NewDispatcher(api, rt, tl, bot, "me"), tl
}

func TestDispatcherSendMessage(t *testing.T) {
	scope := ChannelScope("c1")

	t.Run("success reconciles optimistic entry", func(t *testing.T) {
		d, tl := newTestDispatcher(t, func(w http.ResponseWriter, r *http.Request) {
			var body map[string]string
			json.NewDecoder(r.Body).Decode(&body)
			json.NewEncoder(w).Encode(Message{
				ID:        "srv-9",
				ChannelID: "c1",
				SenderID:  "me",
				Content:   body["content"],
				CreatedAt: time.Now().UTC(),
			})
		})

		localID, err := d.SendMessage(context.Background(), scope, "hello")
		if err != nil {
			t.Fatalf("SendMessage: %v", err)
		}
		if !strings.HasPrefix(localID, localIDPrefix) {
			t.Fatalf("localID = %q", localID)
		}

		if _, ok := tl.Message(scope, localID); ok {
			t.Fatal("optimistic entry should be replaced after the server confirms")
		}
		m, ok := tl.Message(scope, "srv-9")
		if !ok || m.Status != StatusSent || m.Content != "hello" {
			t.Fatalf("confirmed entry wrong: %+v ok=%v", m, ok)
		}
		if n := len(tl.Messages(scope)); n != 1 {
			t.Fatalf("timeline has %d messages, want 1", n)
		}
	})

	t.Run("failure keeps entry as failed", func(t *testing.T) {
		d, tl := newTestDispatcher(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, `{"code":"unavailable","message":"try later"}`, http.StatusServiceUnavailable)
		})

		localID, err := d.SendMessage(context.Background(), scope, "hello")
		if err == nil {
			t.Fatal("expected send error")
		}
		m, ok := tl.Message(scope, localID)
		if !ok {
			t.Fatal("failed send must stay in the timeline")
		}
		if m.Status != StatusFailed {
			t.Fatalf("status = %s, want failed", m.Status)
		}
	})

	t.Run("retry after failure", func(t *testing.T) {
		var fail atomic.Bool
		fail.Store(true)
		d, tl := newTestDispatcher(t, func(w http.ResponseWriter, r *http.Request) {
			if fail.Load() {
				http.Error(w, `{"message":"down"}`, http.StatusBadGateway)
				return
			}
			json.NewEncoder(w).Encode(Message{ID: "srv-9", ChannelID: "c1", SenderID: "me", Content: "hello", CreatedAt: time.Now().UTC()})
		})

		localID, err := d.SendMessage(context.Background(), scope, "hello")
		if err == nil {
			t.Fatal("expected first send to fail")
		}

		fail.Store(false)
		if err := d.RetrySend(context.Background(), scope, localID); err != nil {
			t.Fatalf("RetrySend: %v", err)
		}
		if _, ok := tl.Message(scope, localID); ok {
			t.Fatal("optimistic entry should be replaced after retry")
		}
		if m, ok := tl.Message(scope, "srv-9"); !ok || m.Status != StatusSent {
			t.Fatalf("confirmed entry wrong: %+v ok=%v", m, ok)
		}
	})

	t.Run("retry rejects non-failed messages", func(t *testing.T) {
		d, tl := newTestDispatcher(t, func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(Message{ID: "srv-1", ChannelID: "c1", CreatedAt: time.Now().UTC()})
		})
		tl.Append(scope, &Message{ID: "m1", ChannelID: "c1", Status: StatusSent, CreatedAt: time.Now()})

		if err := d.RetrySend(context.Background(), scope, "m1"); err == nil {
			t.Fatal("retrying a sent message should error")
		}
		if err := d.RetrySend(context.Background(), scope, "ghost"); err == nil {
			t.Fatal("retrying an unknown message should error")
		}
	})
}

func TestDispatcherThreadReply(t *testing.T) {
	scope := ChannelScope("c1")
	d, tl := newTestDispatcher(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		parent := body["threadId"]
		json.NewEncoder(w).Encode(Message{
			ID:        "srv-r1",
			ChannelID: "c1",
			SenderID:  "me",
			Content:   body["content"],
			ThreadID:  &parent,
			CreatedAt: time.Now().UTC(),
		})
	})

	// Replying without the parent loaded is refused up front.
	if _, err := d.SendThreadReply(context.Background(), scope, "p1", "re"); err == nil {
		t.Fatal("reply without loaded parent should error")
	}

	tl.Append(scope, &Message{ID: "p1", ChannelID: "c1", CreatedAt: time.Now().Add(-time.Minute)})
	if _, err := d.SendThreadReply(context.Background(), scope, "p1", "re"); err != nil {
		t.Fatalf("SendThreadReply: %v", err)
	}
	replies := tl.ThreadReplies(scope, "p1")
	if len(replies) != 1 || replies[0].ID != "srv-r1" || replies[0].Status != StatusSent {
		t.Fatalf("replies = %+v", replies)
	}
}

func TestDispatcherEchoOnlyMutations(t *testing.T) {
	scope := ChannelScope("c1")
	var gotPath, gotMethod atomic.Value
	d, tl := newTestDispatcher(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath.Store(r.URL.Path)
		gotMethod.Store(r.Method)
		w.Write([]byte(`{}`))
	})
	tl.Append(scope, &Message{ID: "m1", ChannelID: "c1", CreatedAt: time.Now()})

	if err := d.EditMessage(context.Background(), scope, "m1", "new"); err != nil {
		t.Fatalf("EditMessage: %v", err)
	}
	// The local copy stays untouched until the edit_message echo arrives.
	if m, _ := tl.Message(scope, "m1"); m.Edited || m.Content == "new" {
		t.Fatalf("edit applied locally before echo: %+v", m)
	}
	if gotMethod.Load() != "PATCH" || gotPath.Load() != "/api/channels/c1/messages/m1" {
		t.Fatalf("request = %v %v", gotMethod.Load(), gotPath.Load())
	}

	if err := d.AddReaction(context.Background(), scope, "m1", "👍"); err != nil {
		t.Fatalf("AddReaction: %v", err)
	}
	if m, _ := tl.Message(scope, "m1"); len(m.Reactions) != 0 {
		t.Fatalf("reaction applied locally before echo: %+v", m.Reactions)
	}

	if err := d.RemoveReaction(context.Background(), scope, "m1", "x1"); err != nil {
		t.Fatalf("RemoveReaction: %v", err)
	}
	if gotMethod.Load() != "DELETE" || gotPath.Load() != "/api/channels/c1/messages/m1/reactions/x1" {
		t.Fatalf("request = %v %v", gotMethod.Load(), gotPath.Load())
	}
}

func TestDispatcherOfflineEmits(t *testing.T) {
	d, _ := newTestDispatcher(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})

	if err := d.SetTyping(context.Background(), ChannelScope("c1"), true); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("SetTyping offline = %v, want ErrNotConnected", err)
	}
	if err := d.JoinScope(context.Background(), ChannelScope("c1")); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("JoinScope offline = %v, want ErrNotConnected", err)
	}
	if err := d.SendBotMessage(context.Background(), "hi"); err == nil {
		t.Fatal("SendBotMessage with inactive assistant should error")
	}
}
