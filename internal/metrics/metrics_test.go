package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"tgbroadcast/internal/campaign"
	"tgbroadcast/internal/eventbus"
	logx "tgbroadcast/pkg/logx"
)

func TestObserveCampaignLifecycle(t *testing.T) {
	t.Parallel()
	c := New(Gauges{}, logx.Nop())

	c.Observe(eventbus.Event{Type: eventbus.CampaignStarted, AccountID: 1})
	c.Observe(eventbus.Event{Type: eventbus.CampaignStarted, AccountID: 2})
	if got := testutil.ToFloat64(c.campaignsRunning); got != 2 {
		t.Fatalf("running = %v, want 2", got)
	}

	c.Observe(eventbus.Event{Type: eventbus.CampaignFloodWait, AccountID: 1, Data: campaign.Payload{Wait: 42 * time.Second}})
	c.Observe(eventbus.Event{Type: eventbus.CampaignFinished, AccountID: 1, Data: campaign.Payload{Sent: 12, Errors: 2, Reason: campaign.ReasonCompleted}})
	// Never started: must not drive the gauge below the real count.
	c.Observe(eventbus.Event{Type: eventbus.CampaignFinished, AccountID: 3, Data: campaign.Payload{Reason: campaign.ReasonAuthorizationLost}})

	if got := testutil.ToFloat64(c.campaignsRunning); got != 1 {
		t.Fatalf("running = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.messagesSent); got != 12 {
		t.Fatalf("sent = %v, want 12", got)
	}
	if got := testutil.ToFloat64(c.backoffSeconds.WithLabelValues("flood_wait")); got != 42 {
		t.Fatalf("backoff seconds = %v, want 42", got)
	}
	if got := testutil.ToFloat64(c.campaignsFinished.WithLabelValues("authorization_lost")); got != 1 {
		t.Fatalf("finished{authorization_lost} = %v, want 1", got)
	}
}

func TestRunConsumesBusAndServesText(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	c := New(Gauges{PendingAuth: func() int { return 3 }, BusDropped: bus.Dropped}, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx, bus)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for testutil.ToFloat64(c.authAttempts.WithLabelValues("succeeded")) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("event not consumed")
		}
		bus.Publish(eventbus.Event{Type: eventbus.AuthSucceeded, AccountID: 9})
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{"tgbroadcast_auth_pending 3", "tgbroadcast_auth_events_total", "go_goroutines"} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}
