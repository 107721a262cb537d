package app

import (
	"context"
	"strings"
	"testing"
	"time"

	"tgbroadcast/internal/auth"
	"tgbroadcast/internal/bot"
	"tgbroadcast/internal/broadcast"
	"tgbroadcast/internal/campaign"
	"tgbroadcast/internal/config"
	"tgbroadcast/internal/entitlement"
	"tgbroadcast/internal/eventbus"
	"tgbroadcast/internal/messaging/messagingtest"
	"tgbroadcast/internal/notifier"
	"tgbroadcast/internal/storage"
	"tgbroadcast/internal/task/scheduler"
	"tgbroadcast/internal/transport/telegram/router"
	logx "tgbroadcast/pkg/logx"
)

// newTestApp wires everything except the bot API connection.
func newTestApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	log := logx.Nop()
	store := storage.NewMemory()
	bus := eventbus.New()
	gate := entitlement.New(store)
	dialer := &messagingtest.Dialer{}
	authn := auth.New(mapAuth(cfg), gate, store, dialer)
	notif := notifier.New(mapNotifier(cfg), nil, log, bus)
	campaigns := campaign.New(context.Background(), mapCampaign(cfg), campaign.Deps{Gate: gate, Dialer: dialer, Notifier: notif})
	t.Cleanup(func() { _ = campaigns.Shutdown(context.Background()) })
	svc := broadcast.New(broadcast.Deps{Store: store, Gate: gate, Auth: authn, Campaigns: campaigns, Messenger: notif, Bus: bus})
	b := bot.New(svc, mapBot(cfg), log)
	logs, _ := logx.New(logx.Config{Level: "error"}, nil)
	t.Cleanup(func() { _ = logs.Close() })

	a := &App{
		log:       log,
		logs:      logs,
		bus:       bus,
		store:     store,
		router:    router.New(nil, log, mapRouter(cfg), cfg.Telegram.OwnerUserIDs),
		bot:       b,
		gate:      gate,
		auth:      authn,
		campaigns: campaigns,
		broadcast: svc,
		notif:     notif,
		sched:     scheduler.New(mapScheduler(cfg), log, bus),
	}
	if err := a.registerJobs(cfg); err != nil {
		t.Fatalf("registerJobs: %v", err)
	}
	return a
}

func TestMappingDefaults(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{}

	if sc := mapStorage(cfg); sc.Driver != "memory" || sc.BusyTimeout != time.Second {
		t.Fatalf("storage = %+v", sc)
	}
	if ac := mapAuth(cfg); ac.SessionTTL != 15*time.Minute || ac.DisconnectTimeout != 10*time.Second {
		t.Fatalf("auth = %+v", ac)
	}
	if cc := mapCampaign(cfg); cc.GenericBackoff != 0 || cc.FloodControlBackoff != 0 {
		t.Fatalf("campaign must leave defaults to the dispatcher: %+v", cc)
	}
	if nc := mapNotifier(cfg); !nc.Enabled || nc.RetryBase != 500*time.Millisecond || nc.DedupWindow != time.Minute {
		t.Fatalf("notifier = %+v", nc)
	}
	if rc := mapRouter(cfg); rc.Timeout != 30*time.Second {
		t.Fatalf("router = %+v", rc)
	}
	if bc := mapBot(cfg); bc.FlowTTL != 15*time.Minute {
		t.Fatalf("bot = %+v", bc)
	}
	if hc := mapHTTP(cfg); hc.Enabled || hc.TokenTTL != 12*time.Hour {
		t.Fatalf("http = %+v", hc)
	}
	if ac := mapAdapter(cfg); ac.PollTimeout != 10*time.Second {
		t.Fatalf("adapter = %+v", ac)
	}
	if len(mapDevices(cfg)) == 0 {
		t.Fatalf("default devices missing")
	}
}

func TestMappingOverrides(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Telegram: config.TelegramConfig{LogChatID: -100, PollTimeout: "30s"},
		Logging: config.LoggingConfig{
			Level:    "debug",
			Telegram: config.LoggingTelegram{Enabled: true, ThreadID: 9},
		},
		Storage:  &config.StorageConfig{Driver: " SQLite ", Path: " ./a.db ", BusyTimeout: "3s"},
		Auth:     config.AuthConfig{MaxAttempts: 5, SessionTTL: "2m"},
		Campaign: config.CampaignConfig{ProgressEvery: 3, GenericBackoff: "5s"},
		Notifier: &config.NotifierConfig{Enabled: false, Workers: 4},
		Bot:      config.BotConfig{Workers: 3, HandlerTimeout: "1m", FlowTTL: "2h", PrivateOnly: true},
		HTTP:     config.HTTPConfig{Enabled: true, Addr: " :9090 ", TokenTTL: "1h", Pprof: true},
	}

	lc := mapLogging(cfg)
	if lc.Telegram.ChatID != -100 || lc.Telegram.ThreadID != 9 || !lc.Telegram.Enabled {
		t.Fatalf("logging = %+v", lc)
	}
	if sc := mapStorage(cfg); sc.Driver != "sqlite" || sc.Path != "./a.db" || sc.BusyTimeout != 3*time.Second {
		t.Fatalf("storage = %+v", sc)
	}
	if ac := mapAuth(cfg); ac.MaxAttempts != 5 || ac.SessionTTL != 2*time.Minute {
		t.Fatalf("auth = %+v", ac)
	}
	if cc := mapCampaign(cfg); cc.ProgressEvery != 3 || cc.GenericBackoff != 5*time.Second {
		t.Fatalf("campaign = %+v", cc)
	}
	if nc := mapNotifier(cfg); nc.Enabled || nc.Workers != 4 {
		t.Fatalf("notifier = %+v", nc)
	}
	if rc := mapRouter(cfg); rc.Workers != 3 || rc.Timeout != time.Minute || !rc.PrivateOnly {
		t.Fatalf("router = %+v", rc)
	}
	if bc := mapBot(cfg); bc.FlowTTL != 2*time.Hour {
		t.Fatalf("bot = %+v", bc)
	}
	if hc := mapHTTP(cfg); hc.Addr != ":9090" || hc.TokenTTL != time.Hour || !hc.Pprof {
		t.Fatalf("http = %+v", hc)
	}
}

func TestRegisterJobs(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{Scheduler: config.SchedulerConfig{Heartbeat: "90s"}}
	a := newTestApp(t, cfg)

	got := map[string]string{}
	for _, s := range a.sched.Snapshot().Schedules {
		got[s.Name] = s.Spec
	}
	want := map[string]string{
		"auth.reap":      defaultAuthReap,
		"bot.flow_sweep": defaultFlowSweep,
		"heartbeat":      "@every 1m30s",
	}
	for name, spec := range want {
		if got[name] != spec {
			t.Fatalf("schedule %s = %q, want %q", name, got[name], spec)
		}
	}

	ctx := context.Background()
	for name, job := range map[string]scheduler.Job{"reap": a.reapAuth, "sweep": a.sweepFlows, "heartbeat": a.heartbeat} {
		if err := job(ctx); err != nil {
			t.Fatalf("%s: %v", name, err)
		}
	}
}

func TestValidateReloadRejectsBadSchedule(t *testing.T) {
	t.Parallel()
	a := newTestApp(t, &config.Config{})

	good := &config.Config{Scheduler: config.SchedulerConfig{AuthReap: "*/5 * * * *", FlowSweep: "10m"}}
	if err := a.validateReload(context.Background(), nil, good); err != nil {
		t.Fatalf("good schedules rejected: %v", err)
	}
	bad := &config.Config{Scheduler: config.SchedulerConfig{AuthReap: "every tuesday", Heartbeat: "100ms"}}
	err := a.validateReload(context.Background(), nil, bad)
	if err == nil {
		t.Fatalf("bad schedules accepted")
	}
	for _, path := range []string{"scheduler.auth_reap", "scheduler.heartbeat"} {
		if !strings.Contains(err.Error(), path) {
			t.Fatalf("error %q does not name %s", err, path)
		}
	}
}

func TestApplyConfigHotSettings(t *testing.T) {
	t.Parallel()
	prev := &config.Config{Telegram: config.TelegramConfig{OwnerUserIDs: []int64{1}}}
	a := newTestApp(t, prev)
	if !a.router.IsOwner(1) || !a.notif.Enabled() {
		t.Fatalf("unexpected initial state")
	}

	next := &config.Config{
		Telegram: config.TelegramConfig{OwnerUserIDs: []int64{2}},
		Notifier: &config.NotifierConfig{Enabled: false},
		Auth:     config.AuthConfig{SessionTTL: "1m"},
	}
	a.applyConfig(context.Background(), prev, next)

	if a.router.IsOwner(1) || !a.router.IsOwner(2) {
		t.Fatalf("owners not swapped")
	}
	if a.notif.Enabled() {
		t.Fatalf("notifier still enabled")
	}

	// no-op reload leaves state untouched
	a.applyConfig(context.Background(), next, next)
	if !a.router.IsOwner(2) {
		t.Fatalf("no-op reload changed owners")
	}
}

func TestStopBeforeStart(t *testing.T) {
	t.Parallel()
	a := newTestApp(t, &config.Config{})
	if err := a.Stop(context.Background(), "test"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case <-a.Done():
	default:
		t.Fatalf("Done must be closed before Start")
	}
	if a.Err() != nil {
		t.Fatalf("Err = %v", a.Err())
	}
}
