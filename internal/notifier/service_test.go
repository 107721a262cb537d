package notifier

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"tgbroadcast/internal/campaign"
	"tgbroadcast/internal/eventbus"
	kit "tgbroadcast/internal/transport"
	logx "tgbroadcast/pkg/logx"
	"tgbroadcast/pkg/tgui"
)

type fakeSender struct {
	mu    sync.Mutex
	fails int
	sent  []kit.ChatTarget
	texts []string
	calls int
}

func (f *fakeSender) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fails > 0 {
		f.fails--
		return kit.MessageRef{}, errors.New("telegram: bad gateway")
	}
	f.sent = append(f.sent, to)
	f.texts = append(f.texts, text)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent)}, nil
}

func (f *fakeSender) snapshot() ([]kit.ChatTarget, []string, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]kit.ChatTarget(nil), f.sent...), append([]string(nil), f.texts...), f.calls
}

func testConfig() Config {
	return Config{
		Enabled:     true,
		Workers:     1,
		QueueSize:   16,
		RatePerSec:  1000,
		RetryMax:    2,
		RetryBase:   time.Millisecond,
		DedupWindow: time.Minute,
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func TestNotifyDeliversToAccountChat(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	events, unsub := bus.Subscribe(8, "campaign.")
	defer unsub()

	sender := &fakeSender{}
	s := New(testConfig(), sender, logx.Nop(), bus)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	s.Notify(context.Background(), 42, campaign.EventFinished, campaign.Payload{Sent: 7, Errors: 1, Reason: campaign.ReasonCompleted})

	waitFor(t, func() bool { _, _, calls := sender.snapshot(); return calls == 1 })
	to, texts, _ := sender.snapshot()
	if to[0].ChatID != 42 {
		t.Fatalf("chat = %d, want 42", to[0].ChatID)
	}
	if !strings.Contains(texts[0], "7") || !strings.Contains(texts[0], "finished") {
		t.Fatalf("unexpected text %q", texts[0])
	}

	select {
	case e := <-events:
		if e.Type != eventbus.CampaignFinished || e.AccountID != 42 {
			t.Fatalf("unexpected event %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatalf("no bus event")
	}
	if h := s.History(); len(h) != 1 || h[0].Kind != "finished" {
		t.Fatalf("history = %+v", h)
	}
}

func TestSendRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{fails: 2}
	s := New(testConfig(), sender, logx.Nop(), nil)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	if err := s.Send(context.Background(), 1, "test", tgui.New().Line("hello").Build()); err != nil {
		t.Fatalf("Send: %v", err)
	}
	waitFor(t, func() bool { to, _, _ := sender.snapshot(); return len(to) == 1 })
	if _, _, calls := sender.snapshot(); calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestSendDedupsIdenticalText(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	deduped, unsub := bus.Subscribe(4, eventbus.NotifyDeduped)
	defer unsub()

	sender := &fakeSender{}
	s := New(testConfig(), sender, logx.Nop(), bus)
	s.Start(context.Background())

	msg := tgui.New().Line("same").Build()
	for i := 0; i < 3; i++ {
		if err := s.Send(context.Background(), 5, "test", msg); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	if err := s.Send(context.Background(), 6, "test", msg); err != nil {
		t.Fatalf("Send other account: %v", err)
	}
	s.Stop(context.Background())

	if to, _, _ := sender.snapshot(); len(to) != 2 {
		t.Fatalf("delivered %d, want 2", len(to))
	}
	if len(deduped) != 2 {
		t.Fatalf("deduped events = %d, want 2", len(deduped))
	}
}

func TestSendStates(t *testing.T) {
	t.Parallel()

	msg := tgui.New().Line("x").Build()

	disabled := New(Config{}, &fakeSender{}, logx.Nop(), nil)
	disabled.Start(context.Background())
	if err := disabled.Send(context.Background(), 1, "test", msg); !errors.Is(err, ErrDisabled) {
		t.Fatalf("disabled: got %v", err)
	}

	notStarted := New(testConfig(), &fakeSender{}, logx.Nop(), nil)
	if err := notStarted.Send(context.Background(), 1, "test", msg); !errors.Is(err, ErrStopped) {
		t.Fatalf("not started: got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := notStarted.Send(ctx, 1, "test", msg); !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled ctx: got %v", err)
	}
}

func TestStopDrainsQueue(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	cfg := testConfig()
	cfg.DedupWindow = 0
	s := New(cfg, sender, logx.Nop(), nil)
	s.Start(context.Background())
	for i := 0; i < 5; i++ {
		_ = s.Send(context.Background(), int64(i+1), "test", tgui.New().Line("n").Build())
	}
	s.Stop(context.Background())

	if to, _, _ := sender.snapshot(); len(to) != 5 {
		t.Fatalf("delivered %d, want 5", len(to))
	}
	if err := s.Send(context.Background(), 1, "test", tgui.New().Line("late").Build()); !errors.Is(err, ErrStopped) {
		t.Fatalf("after stop: got %v", err)
	}
}

func TestRenderKinds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		kind campaign.EventKind
		p    campaign.Payload
		want string
	}{
		{"started", campaign.EventStarted, campaign.Payload{Recipients: 3, Delay: 210 * time.Second, Duration: 5 * time.Hour}, "3.5 min"},
		{"progress", campaign.EventProgress, campaign.Payload{Sent: 10, Remaining: 90 * time.Minute}, "1h 30m"},
		{"flood wait", campaign.EventFloodWait, campaign.Payload{Wait: 42 * time.Second}, "42 s"},
		{"rate limited", campaign.EventRateLimited, campaign.Payload{Wait: 30 * time.Second}, "30 s"},
		{"flood control", campaign.EventFloodControl, campaign.Payload{Wait: time.Minute}, "60 s"},
		{"many errors", campaign.EventManyErrors, campaign.Payload{Errors: 6}, "(6)"},
		{"time expired", campaign.EventFinished, campaign.Payload{Reason: campaign.ReasonTimeExpired, Duration: 3 * time.Hour}, "3 h"},
		{"auth lost", campaign.EventFinished, campaign.Payload{Reason: campaign.ReasonAuthorizationLost, Diagnostic: "<revoked>"}, "&lt;revoked&gt;"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			msg := Render(tt.kind, tt.p)
			if !strings.Contains(msg.Text, tt.want) {
				t.Fatalf("Render(%s) = %q, missing %q", tt.kind, msg.Text, tt.want)
			}
			if msg.Opt == nil || msg.Opt.ParseMode != "HTML" {
				t.Fatalf("Render(%s) must use HTML", tt.kind)
			}
		})
	}
}
