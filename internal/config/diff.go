package config

import (
	"reflect"
	"strings"

	logx "trackbot/pkg/logx"
)

// Sections that can change without a restart.
const (
	SectionLogging  = "logging"
	SectionTracking = "tracking"
	SectionNotifier = "notifier"
	SectionOwners   = "owners"
	SectionOsu      = "osu"
)

// SummarizeChange lists the changed sections and safe log fields describing
// them. Secrets (tokens, client secrets) are never included.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var (
		changed []string
		fields  []logx.Field
	)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, SectionLogging)
		fields = append(fields,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
			logx.Bool("logging.chat", newCfg.Logging.Chat.Enabled),
		)
	}
	if oldCfg.Tracking != newCfg.Tracking {
		changed = append(changed, SectionTracking)
		fields = append(fields,
			logx.String("tracking.interval", strings.TrimSpace(newCfg.Tracking.Interval)),
			logx.Bool("tracking.paused", newCfg.Tracking.Paused),
			logx.Int("tracking.default_limit", newCfg.Tracking.DefaultLimit),
		)
	}
	if !reflect.DeepEqual(oldCfg.Notifier, newCfg.Notifier) {
		changed = append(changed, SectionNotifier)
	}
	if !reflect.DeepEqual(oldCfg.Telegram.OwnerUserIDs, newCfg.Telegram.OwnerUserIDs) {
		changed = append(changed, SectionOwners)
		fields = append(fields, logx.Int("telegram.owner_count", len(newCfg.Telegram.OwnerUserIDs)))
	}
	if oldCfg.Osu.RequestsPerMinute != newCfg.Osu.RequestsPerMinute {
		changed = append(changed, SectionOsu)
		fields = append(fields, logx.Int("osu.requests_per_minute", newCfg.Osu.RequestsPerMinute))
	}
	return changed, fields
}

// RestartRequired reports changes that only take effect after a restart.
func RestartRequired(oldCfg, newCfg *Config) []string {
	if oldCfg == nil || newCfg == nil {
		return nil
	}
	var out []string
	if oldCfg.Telegram.Token != newCfg.Telegram.Token || oldCfg.Telegram.PollTimeout != newCfg.Telegram.PollTimeout {
		out = append(out, "telegram")
	}
	if oldCfg.Osu.ClientID != newCfg.Osu.ClientID || oldCfg.Osu.ClientSecret != newCfg.Osu.ClientSecret ||
		oldCfg.Osu.BaseURL != newCfg.Osu.BaseURL || oldCfg.Osu.Timeout != newCfg.Osu.Timeout {
		out = append(out, "osu credentials")
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		out = append(out, "storage")
	}
	if oldCfg.Tracking.StatsReport != newCfg.Tracking.StatsReport {
		out = append(out, "tracking.stats_report")
	}
	return out
}
