package adapter

import (
	"strings"
	"testing"
	"unicode/utf8"

	tele "gopkg.in/telebot.v4"

	kit "tgbroadcast/internal/transport"
)

func TestSplitText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		in    string
		limit int
		mode  string
		want  int
	}{
		{name: "short", in: "hello", limit: 10, want: 1},
		{name: "empty", in: "", limit: 10, want: 1},
		{name: "exact", in: strings.Repeat("a", 10), limit: 10, want: 1},
		{name: "hard cut", in: strings.Repeat("a", 25), limit: 10, want: 3},
		{name: "newline preferred", in: strings.Repeat("a", 6) + "\n" + strings.Repeat("b", 6), limit: 10, want: 2},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := splitText(tt.in, tt.limit, tt.mode)
			if len(got) != tt.want {
				t.Fatalf("chunks=%d want %d: %q", len(got), tt.want, got)
			}
			for _, c := range got {
				if utf8.RuneCountInString(c) > tt.limit {
					t.Fatalf("chunk over limit: %q", c)
				}
			}
		})
	}
}

func TestSplitTextNewlineBoundary(t *testing.T) {
	t.Parallel()

	got := splitText("aaaaaa\nbbbbbb", 10, "")
	if got[0] != "aaaaaa" || got[1] != "bbbbbb" {
		t.Fatalf("got %q", got)
	}
}

func TestSplitTextKeepsHTMLTagsWhole(t *testing.T) {
	t.Parallel()

	in := "aaaaaaaa<b>x</b>"
	got := splitText(in, 10, "HTML")
	if got[0] != "aaaaaaaa" {
		t.Fatalf("first chunk %q cuts a tag", got[0])
	}
	if strings.Join(got, "") != in {
		t.Fatalf("lost text: %q", got)
	}
}

func TestSplitTextCountsRunes(t *testing.T) {
	t.Parallel()

	in := strings.Repeat("é", 12)
	got := splitText(in, 10, "")
	if len(got) != 2 || !utf8.ValidString(got[0]) || !utf8.ValidString(got[1]) {
		t.Fatalf("got %q", got)
	}
}

func TestMessageUpdate(t *testing.T) {
	t.Parallel()

	m := &tele.Message{
		ID:     7,
		Text:   "/start",
		Chat:   &tele.Chat{ID: 42, Type: tele.ChatPrivate},
		Sender: &tele.User{ID: 42, Username: "ann", FirstName: "Ann", LastName: "Lee"},
	}
	up, ok := messageUpdate(m)
	if !ok || up.Kind != kit.UpdateMessage {
		t.Fatalf("update=%+v ok=%v", up, ok)
	}
	got := up.Message
	if got.ChatID != 42 || got.FromID != 42 || got.Text != "/start" || got.FromName != "Ann Lee" || !got.Private {
		t.Fatalf("message=%+v", got)
	}

	if _, ok := messageUpdate(&tele.Message{Text: "x"}); ok {
		t.Fatalf("message without chat must be ignored")
	}
	if _, ok := messageUpdate(nil); ok {
		t.Fatalf("nil message must be ignored")
	}
}

func TestCallbackUpdate(t *testing.T) {
	t.Parallel()

	cb := &tele.Callback{
		ID:      "cb1",
		Data:    " campaign:stop ",
		Sender:  &tele.User{ID: 5},
		Message: &tele.Message{ID: 9, Chat: &tele.Chat{ID: 5}},
	}
	up, ok := callbackUpdate(cb)
	if !ok || up.Kind != kit.UpdateCallback {
		t.Fatalf("update=%+v ok=%v", up, ok)
	}
	if up.Callback.Data != "campaign:stop" || up.Callback.MessageID != 9 || up.Callback.FromID != 5 {
		t.Fatalf("callback=%+v", up.Callback)
	}
	if _, ok := callbackUpdate(&tele.Callback{ID: "x", Sender: &tele.User{ID: 1}}); ok {
		t.Fatalf("inline-mode callback without message must be ignored")
	}
}

func TestSendUpdateDropsWhenFull(t *testing.T) {
	t.Parallel()

	a := &Adapter{}
	out := make(chan kit.Update, 1)
	a.out.Store((chan<- kit.Update)(out))

	a.sendUpdate(kit.Update{Kind: kit.UpdateMessage})
	a.sendUpdate(kit.Update{Kind: kit.UpdateMessage})
	if got := a.droppedUpdates.Load(); got != 1 {
		t.Fatalf("dropped=%d want 1", got)
	}
	if len(out) != 1 {
		t.Fatalf("queued=%d want 1", len(out))
	}
}

func TestMenuCommands(t *testing.T) {
	t.Parallel()

	in := []kit.BotCommand{
		{Command: "start", Description: "open the menu"},
		{Command: "", Description: "skipped"},
		{Command: "go"},
		{Command: "long", Description: strings.Repeat("x", 300)},
	}
	got := menuCommands(in)
	if len(got) != 3 {
		t.Fatalf("len=%d", len(got))
	}
	if got[1].Description != "go" {
		t.Fatalf("empty description should fall back to the command, got %q", got[1].Description)
	}
	if n := utf8.RuneCountInString(got[2].Description); n != 256 {
		t.Fatalf("description runes=%d", n)
	}
	if menuHash(got) == menuHash(got[:2]) {
		t.Fatalf("hash must change with the list")
	}
}
