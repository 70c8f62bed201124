package app

import (
	"context"
	"strings"

	"trackbot/internal/config"
	"trackbot/internal/tracking"
	logx "trackbot/pkg/logx"
)

// reloadLoop applies hot-reloadable settings from committed configs. Bursts
// are coalesced to the newest config.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	defer a.cfgm.Unsubscribe(sub)
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						next = newer
					}
				default:
					break drain
				}
			}
			if next == nil {
				continue
			}
			a.applyConfig(last, next)
			last = next
		}
	}
}

func (a *App) applyConfig(prev, next *config.Config) {
	sections, fields := config.SummarizeChange(prev, next)
	if restart := config.RestartRequired(prev, next); len(restart) > 0 {
		a.log.Warn("config changes need a restart", logx.String("sections", strings.Join(restart, ",")))
	}
	if len(sections) == 0 {
		a.log.Debug("config reload had no live changes")
		return
	}
	for _, s := range sections {
		switch s {
		case config.SectionLogging:
			a.logs.Apply(mapLogging(next))
		case config.SectionTracking:
			a.tracker.SetInterval(config.DurationOr(next.Tracking.Interval, tracking.DefaultInterval))
			a.tracker.SetPaused(next.Tracking.Paused)
		case config.SectionNotifier:
			a.notif.Apply(mapNotifier(next))
		case config.SectionOwners:
			a.router.SetOwners(next.Telegram.OwnerUserIDs)
		case config.SectionOsu:
			a.osu.SetRate(next.Osu.RequestsPerMinute)
		}
	}
	a.log.Info("config applied", append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, fields...)...)
}
