package app

import (
	"context"

	"tgbroadcast/internal/config"
	logx "tgbroadcast/pkg/logx"
)

// registerJobs adds the housekeeping schedules. They only fire when the
// scheduler is enabled.
func (a *App) registerJobs(cfg *config.Config) error {
	s := cfg.Scheduler
	if err := a.sched.Add("auth.reap", specOr(s.AuthReap, defaultAuthReap), 0, a.reapAuth); err != nil {
		return err
	}
	if err := a.sched.Add("bot.flow_sweep", specOr(s.FlowSweep, defaultFlowSweep), 0, a.sweepFlows); err != nil {
		return err
	}
	return a.sched.Add("heartbeat", specOr(s.Heartbeat, defaultHeartbeat), 0, a.heartbeat)
}

// reapAuth drops login attempts older than the session TTL.
func (a *App) reapAuth(ctx context.Context) error {
	a.auth.ReapStale(ctx, 0)
	return nil
}

func (a *App) sweepFlows(context.Context) error {
	if n := a.bot.Flows().Sweep(); n > 0 {
		a.log.Debug("expired conversations dropped", logx.Int("count", n))
	}
	return nil
}

func (a *App) heartbeat(context.Context) error {
	a.log.Info("heartbeat",
		logx.Int("campaigns", len(a.campaigns.Active())),
		logx.Int("pending_auth", a.auth.Pending()),
		logx.Int("flows", a.bot.Flows().Len()),
		logx.Uint64("bus_dropped", a.bus.Dropped()),
	)
	return nil
}
