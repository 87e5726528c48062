package relay

import "testing"

func TestBotSessionTranscript(t *testing.T) {
	b := NewBotSession()
	b.SetActive(true)

	b.AppendUser("hello")
	if !b.Waiting() {
		t.Fatal("should be waiting after a user prompt")
	}

	b.AppendBot("hi there")
	if b.Waiting() {
		t.Fatal("reply should clear the waiting flag")
	}

	msgs := b.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 transcript entries, got %d", len(msgs))
	}
	if msgs[0].Sender != BotSenderUser || msgs[0].Content != "hello" {
		t.Fatalf("first entry wrong: %+v", msgs[0])
	}
	if msgs[1].Sender != BotSenderBot || msgs[1].Content != "hi there" {
		t.Fatalf("second entry wrong: %+v", msgs[1])
	}
	if msgs[0].ID == msgs[1].ID || msgs[0].ID == "" {
		t.Fatal("transcript entries need distinct non-empty IDs")
	}
}

func TestBotSessionDeactivateClearsTranscript(t *testing.T) {
	b := NewBotSession()
	b.SetActive(true)
	b.AppendUser("hello")
	b.AppendBot("hi")

	b.SetActive(false)
	if b.Active() {
		t.Fatal("should be inactive")
	}
	if len(b.Messages()) != 0 {
		t.Fatal("deactivation should clear the transcript")
	}
	if b.Waiting() {
		t.Fatal("deactivation should clear the waiting flag")
	}
}

func TestBotSessionMode(t *testing.T) {
	b := NewBotSession()
	b.SetMode([]string{"c1", "c2"}, []string{"d1"})

	cases := []struct {
		scope Scope
		want  bool
	}{
		{ChannelScope("c1"), true},
		{ChannelScope("c3"), false},
		{ConversationScope("d1"), true},
		{ConversationScope("c1"), false}, // kind matters, not just the ID
	}
	for _, tc := range cases {
		if got := b.EnabledIn(tc.scope); got != tc.want {
			t.Errorf("EnabledIn(%s) = %v, want %v", tc.scope, got, tc.want)
		}
	}

	// A mode update replaces the lists.
	b.SetMode([]string{"c9"}, nil)
	if b.EnabledIn(ChannelScope("c1")) {
		t.Fatal("old channel list should be replaced")
	}
	if !b.EnabledIn(ChannelScope("c9")) {
		t.Fatal("new channel should be enabled")
	}
}
