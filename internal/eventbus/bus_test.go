package eventbus

import (
	"testing"
	"time"
)

func TestSubscribeFiltersByPrefix(t *testing.T) {
	t.Parallel()

	b := New()
	campaigns, unsub := b.Subscribe(4, "campaign.")
	defer unsub()
	all, unsubAll := b.Subscribe(4)
	defer unsubAll()

	b.Publish(Event{Type: AuthStarted, AccountID: 1})
	b.Publish(Event{Type: CampaignStarted, AccountID: 1})

	select {
	case e := <-campaigns:
		if e.Type != CampaignStarted {
			t.Fatalf("got %q, want %q", e.Type, CampaignStarted)
		}
		if e.Time.IsZero() {
			t.Fatalf("publish must stamp time")
		}
	case <-time.After(time.Second):
		t.Fatalf("no campaign event delivered")
	}
	if len(campaigns) != 0 {
		t.Fatalf("auth event leaked into campaign subscriber")
	}
	if len(all) != 2 {
		t.Fatalf("unfiltered subscriber got %d events, want 2", len(all))
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	t.Parallel()

	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.Publish(Event{Type: CampaignProgress})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("publish blocked on a full subscriber")
	}
	if got := b.Dropped(); got != 9 {
		t.Fatalf("dropped = %d, want 9", got)
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	t.Parallel()

	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatalf("channel should be closed")
	}
	b.Publish(Event{Type: CampaignFinished})
}
