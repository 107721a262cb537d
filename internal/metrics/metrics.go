// Package metrics exposes Prometheus collectors fed from the event bus.
package metrics

import (
	"context"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tgbroadcast/internal/campaign"
	"tgbroadcast/internal/eventbus"
	logx "tgbroadcast/pkg/logx"
)

const namespace = "tgbroadcast"

// Collector owns a private registry so tests and multiple instances never
// collide on the global one.
type Collector struct {
	reg *prometheus.Registry
	log logx.Logger

	mu      sync.Mutex
	running map[int64]struct{}

	campaignsStarted  prometheus.Counter
	campaignsFinished *prometheus.CounterVec
	campaignsRunning  prometheus.Gauge
	messagesSent      prometheus.Counter
	sendErrors        prometheus.Counter
	backoffs          *prometheus.CounterVec
	backoffSeconds    *prometheus.CounterVec
	authAttempts      *prometheus.CounterVec
	notices           *prometheus.CounterVec
}

// Gauges are sampled on scrape.
type Gauges struct {
	PendingAuth func() int
	BusDropped  func() uint64
}

func New(g Gauges, log logx.Logger) *Collector {
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Collector{
		reg:     prometheus.NewRegistry(),
		running: map[int64]struct{}{},
		log: log.With(logx.String("comp", "metrics")),
		campaignsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "campaign", Name: "started_total",
			Help: "Broadcasts that reached the send loop.",
		}),
		campaignsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "campaign", Name: "finished_total",
			Help: "Broadcasts finished, by stop reason.",
		}, []string{"reason"}),
		campaignsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "campaign", Name: "running",
			Help: "Broadcasts currently running.",
		}),
		messagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "campaign", Name: "messages_sent_total",
			Help: "Messages delivered by finished broadcasts.",
		}),
		sendErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "campaign", Name: "send_errors_total",
			Help: "Unclassified send errors of finished broadcasts.",
		}),
		backoffs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "campaign", Name: "backoffs_total",
			Help: "Provider backoffs, by kind.",
		}, []string{"kind"}),
		backoffSeconds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "campaign", Name: "backoff_seconds_total",
			Help: "Time spent waiting on provider backoffs, by kind.",
		}, []string{"kind"}),
		authAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "auth", Name: "events_total",
			Help: "Login attempts, by outcome.",
		}, []string{"result"}),
		notices: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "notifier", Name: "deliveries_total",
			Help: "User notices, by delivery result.",
		}, []string{"result"}),
	}

	c.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.campaignsStarted, c.campaignsFinished, c.campaignsRunning,
		c.messagesSent, c.sendErrors, c.backoffs, c.backoffSeconds,
		c.authAttempts, c.notices,
	)
	if g.PendingAuth != nil {
		c.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "auth", Name: "pending",
			Help: "Login attempts waiting for a code.",
		}, func() float64 { return float64(g.PendingAuth()) }))
	}
	if g.BusDropped != nil {
		c.reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "eventbus", Name: "dropped_total",
			Help: "Events skipped because a subscriber was full.",
		}, func() float64 { return float64(g.BusDropped()) }))
	}
	return c
}

func (c *Collector) Registry() *prometheus.Registry { return c.reg }

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}

// Run consumes bus events until ctx is done.
func (c *Collector) Run(ctx context.Context, bus eventbus.Bus) {
	ch, unsub := bus.Subscribe(256, "campaign.", "auth.", "notifier.")
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			c.Observe(e)
		}
	}
}

// Observe applies one event.
func (c *Collector) Observe(e eventbus.Event) {
	switch e.Type {
	case eventbus.CampaignStarted:
		c.campaignsStarted.Inc()
		c.mu.Lock()
		_, dup := c.running[e.AccountID]
		c.running[e.AccountID] = struct{}{}
		c.mu.Unlock()
		if !dup {
			c.campaignsRunning.Inc()
		}
	case eventbus.CampaignFinished:
		p, _ := e.Data.(campaign.Payload)
		reason := string(p.Reason)
		if reason == "" {
			reason = "unknown"
		}
		c.campaignsFinished.WithLabelValues(reason).Inc()
		c.messagesSent.Add(float64(p.Sent))
		c.sendErrors.Add(float64(p.Errors))
		// Jobs that never reached the loop were never counted as running.
		c.mu.Lock()
		_, running := c.running[e.AccountID]
		delete(c.running, e.AccountID)
		c.mu.Unlock()
		if running {
			c.campaignsRunning.Dec()
		}
	case eventbus.CampaignFloodWait, eventbus.CampaignRateLimited, eventbus.CampaignFloodControl:
		kind := e.Type[len("campaign."):]
		c.backoffs.WithLabelValues(kind).Inc()
		if p, ok := e.Data.(campaign.Payload); ok {
			c.backoffSeconds.WithLabelValues(kind).Add(p.Wait.Seconds())
		}
	case eventbus.AuthStarted:
		c.authAttempts.WithLabelValues("started").Inc()
	case eventbus.AuthSucceeded:
		c.authAttempts.WithLabelValues("succeeded").Inc()
	case eventbus.AuthFailed:
		c.authAttempts.WithLabelValues("failed").Inc()
	case eventbus.NotifySent:
		c.notices.WithLabelValues("sent").Inc()
	case eventbus.NotifyFailed:
		c.notices.WithLabelValues("failed").Inc()
	case eventbus.NotifyDropped:
		c.notices.WithLabelValues("dropped").Inc()
	case eventbus.NotifyDeduped:
		c.notices.WithLabelValues("deduped").Inc()
	}
}
