package app

import (
	"context"
	"strings"
	"time"

	"tgbroadcast/internal/config"
	logx "tgbroadcast/pkg/logx"
)

// applyConfig pushes the hot settings of next into the running components.
// Restart-only sections are reported and otherwise ignored.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	if restart := config.RestartRequired(prev, next); len(restart) > 0 {
		a.log.Warn("restart required for some changes to take effect", logx.String("sections", strings.Join(restart, ",")))
	}

	a.logs.Apply(mapLogging(next))
	a.router.SetOwners(next.Telegram.OwnerUserIDs)
	a.auth.Apply(mapAuth(next))
	a.campaigns.Apply(mapCampaign(next))
	a.bot.Apply(mapBot(next))

	wasEnabled := a.notif.Enabled()
	ncfg := mapNotifier(next)
	a.notif.Apply(ncfg)
	switch {
	case wasEnabled && !ncfg.Enabled:
		a.log.Info("notifier disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.notif.Stop(stopCtx)
		cancel()
	case !wasEnabled && ncfg.Enabled:
		a.log.Info("notifier enabled via config")
		a.notif.Start(ctx)
	}

	a.log.Info("config reloaded", fields...)
}
