package app

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"tgbroadcast/internal/account"
	"tgbroadcast/internal/auth"
	"tgbroadcast/internal/bot"
	"tgbroadcast/internal/broadcast"
	"tgbroadcast/internal/campaign"
	"tgbroadcast/internal/config"
	"tgbroadcast/internal/entitlement"
	"tgbroadcast/internal/eventbus"
	"tgbroadcast/internal/httpapi"
	"tgbroadcast/internal/messaging"
	"tgbroadcast/internal/metrics"
	"tgbroadcast/internal/notifier"
	"tgbroadcast/internal/runtime/lifecycle"
	"tgbroadcast/internal/runtime/supervisor"
	"tgbroadcast/internal/storage"
	"tgbroadcast/internal/task/scheduler"
	kit "tgbroadcast/internal/transport"
	telegram "tgbroadcast/internal/transport/telegram/adapter"
	"tgbroadcast/internal/transport/telegram/router"
	logx "tgbroadcast/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store account.Store

	adapter *telegram.Adapter
	router  *router.Router
	bot     *bot.Bot

	gate      *entitlement.Gate
	auth      *auth.Authenticator
	campaigns *campaign.Dispatcher
	broadcast *broadcast.Service

	notif   *notifier.Service
	metrics *metrics.Collector
	http    *httpapi.Server // nil when disabled
	sched   *scheduler.Service

	updates chan kit.Update
}

// New loads the config at cfgPath and builds every component. Nothing runs
// until Start.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	ad, err := telegram.New(mapAdapter(cfg), bootLog)
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogging(cfg), ad)
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log)

	sc := mapStorage(cfg)
	store, err := storage.Open(ctx, sc, log)
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}
	log.Info("storage ready", logx.String("driver", sc.Driver))

	bus := eventbus.New()

	gate := entitlement.New(store, entitlement.WithLogger(log))
	dialer := mapDialer(cfg, log)
	picker := messaging.RandomPicker(mapDevices(cfg), rand.New(rand.NewSource(time.Now().UnixNano())))

	authn := auth.New(mapAuth(cfg), gate, store, dialer,
		auth.WithLogger(log),
		auth.WithPicker(picker),
	)

	notif := notifier.New(mapNotifier(cfg), ad, log, bus)

	// Campaigns are not tied to the app supervisor: Stop drains them through
	// Shutdown so users get their final report.
	campaigns := campaign.New(context.Background(), mapCampaign(cfg), campaign.Deps{
		Gate:     gate,
		Dialer:   dialer,
		Notifier: notif,
		Picker:   picker,
		Log:      log,
	})

	svc := broadcast.New(broadcast.Deps{
		Store:     store,
		Gate:      gate,
		Auth:      authn,
		Campaigns: campaigns,
		Messenger: notif,
		Bus:       bus,
		Log:       log,
	})

	b := bot.New(svc, mapBot(cfg), log)
	rt := router.New(ad, log, mapRouter(cfg), cfg.Telegram.OwnerUserIDs)
	rt.Register(b.Commands(), b.Callbacks(), b.HandleText)

	coll := metrics.New(metrics.Gauges{
		PendingAuth: authn.Pending,
		BusDropped:  bus.Dropped,
	}, log)

	a := &App{
		cfgm:      cfgm,
		log:       log,
		logs:      logSvc,
		bus:       bus,
		store:     store,
		adapter:   ad,
		router:    rt,
		bot:       b,
		gate:      gate,
		auth:      authn,
		campaigns: campaigns,
		broadcast: svc,
		notif:     notif,
		metrics:   coll,
		sched:     scheduler.New(mapScheduler(cfg), log, bus),
		updates:   make(chan kit.Update, 256),
	}

	if hc := mapHTTP(cfg); hc.Enabled {
		srv, err := httpapi.New(hc, httpapi.Deps{
			Broadcast: svc,
			Notices:   notif,
			Metrics:   coll.Handler(),
			Health:    a.Err,
			Log:       log,
		})
		if err != nil {
			_ = store.Close()
			_ = logSvc.Close()
			return nil, err
		}
		a.http = srv
	}

	if err := a.registerJobs(cfg); err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}
	return a, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.cfgm.SetValidator(a.validateReload)

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	if a.notif.Enabled() {
		a.notif.Start(a.sup.Context())
	}

	a.sup.Go("router", func(c context.Context) error {
		return a.router.Run(c, a.updates)
	})
	a.sup.Go0("metrics", func(c context.Context) {
		a.metrics.Run(c, a.bus)
	})

	if a.http != nil {
		errc, err := a.http.Start(a.sup.Context())
		if err != nil {
			return fmt.Errorf("http api: %w", err)
		}
		a.sup.Go("http.serve", func(c context.Context) error {
			select {
			case <-c.Done():
				return nil
			case err := <-errc:
				return err
			}
		})
	}

	if err := a.sched.Start(a.sup.Context()); err != nil {
		return err
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Int64("account_id", e.AccountID), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				// coalesce bursts
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							next = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(c, lastApplied, next)
				lastApplied = next
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started",
		logx.Bool("http", a.http != nil),
		logx.Bool("notifier", a.notif.Enabled()),
		logx.Int("owners", len(a.cfgm.Get().Telegram.OwnerUserIDs)),
	)
	return nil
}

// validateReload rejects a config whose housekeeping schedules do not parse.
func (a *App) validateReload(_ context.Context, _, next *config.Config) error {
	var errs []error
	for _, spec := range []struct{ path, raw string }{
		{"scheduler.auth_reap", next.Scheduler.AuthReap},
		{"scheduler.flow_sweep", next.Scheduler.FlowSweep},
		{"scheduler.heartbeat", next.Scheduler.Heartbeat},
	} {
		if strings.TrimSpace(spec.raw) == "" {
			continue
		}
		if _, err := a.sched.NormalizeSpec(spec.raw); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", spec.path, err))
		}
	}
	return errors.Join(errs...)
}

func (a *App) Stop(ctx context.Context, reason lifecycle.StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// unwind background loops right away
	a.sup.Cancel()

	// step bounds one shutdown stage so a stuck component can't stall the rest.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			// fn must honor stepCtx; report a leak if it does not
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				err := <-done
				took := time.Since(start)
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
				} else {
					a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
				}
			}()
		}
	}

	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("httpapi", 3*time.Second, func(c context.Context) error {
		if a.http == nil {
			return nil
		}
		return a.http.Shutdown(c)
	})
	// campaigns report through the notifier, so they go before it
	step("campaigns", 15*time.Second, a.campaigns.Shutdown)
	step("auth", 5*time.Second, a.auth.Close)
	step("notifier", 3*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("adapter", 2*time.Second, a.adapter.Stop)
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	// config watch/reload, router, metrics
	step("supervisor", 2*time.Second, a.sup.Wait)

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
