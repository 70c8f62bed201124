package app

import (
	"strings"
	"time"

	"trackbot/internal/commands"
	"trackbot/internal/config"
	"trackbot/internal/notifier"
	"trackbot/internal/osu"
	"trackbot/internal/storage"
	"trackbot/internal/tracking"
	telegram "trackbot/internal/transport/telegram/adapter"
	logx "trackbot/pkg/logx"
)

// The mappers below assume config.Validate accepted cfg; malformed
// durations fall back to defaults.

func mapLogging(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Chat: logx.ChatConfig{
			Enabled:    l.Chat.Enabled,
			ChatID:     l.Chat.ChatID,
			MinLevel:   l.Chat.MinLevel,
			RatePerSec: l.Chat.RatePerSec,
		},
	}
}

func mapTelegram(cfg *config.Config) telegram.Config {
	return telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: config.DurationOr(cfg.Telegram.PollTimeout, 10*time.Second),
	}
}

func mapOsu(cfg *config.Config) osu.Config {
	o := cfg.Osu
	return osu.Config{
		ClientID:          o.ClientID,
		ClientSecret:      o.ClientSecret,
		BaseURL:           o.BaseURL,
		RequestsPerMinute: o.RequestsPerMinute,
		Timeout:           config.DurationOr(o.Timeout, 15*time.Second),
	}
}

func trackerOptions(cfg *config.Config) []tracking.Option {
	t := cfg.Tracking
	return []tracking.Option{
		tracking.WithInterval(config.DurationOr(t.Interval, tracking.DefaultInterval)),
		tracking.WithIdleBackoff(config.DurationOr(t.IdleBackoff, tracking.DefaultIdleBackoff)),
		tracking.WithPaused(t.Paused),
	}
}

func defaultLimit(cfg *config.Config) int {
	if l := cfg.Tracking.DefaultLimit; l > 0 {
		return l
	}
	return commands.DefaultLimit
}

// mapNotifier leaves zero values to notifier defaults.
func mapNotifier(cfg *config.Config) notifier.Config {
	n := cfg.Notifier
	if n == nil {
		return notifier.Config{DedupWindow: 24 * time.Hour}
	}
	return notifier.Config{
		Workers:         n.Workers,
		QueueSize:       n.QueueSize,
		RatePerSec:      n.RatePerSec,
		RetryMax:        n.RetryMax,
		RetryBase:       config.DurationOr(n.RetryBase, 0),
		RetryMaxDelay:   config.DurationOr(n.RetryMaxDelay, 0),
		DedupWindow:     config.DurationOr(n.DedupWindow, 24*time.Hour),
		DedupMaxEntries: n.DedupMaxEntries,
	}
}

// mapStorage reports false when persistence is disabled.
func mapStorage(cfg *config.Config) (storage.Config, bool) {
	s := cfg.Storage
	if s == nil {
		return storage.Config{}, false
	}
	driver := strings.ToLower(strings.TrimSpace(s.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false
	}
	return storage.Config{
		Driver:       driver,
		Path:         strings.TrimSpace(s.Path),
		BusyTimeout:  config.DurationOr(s.BusyTimeout, 5*time.Second),
		CompactEvery: s.CompactEvery,
	}, true
}

// OpenStore opens the configured persistence backend, or returns
// storage.ErrDisabled when none is configured.
func OpenStore(cfg *config.Config, log logx.Logger) (storage.Store, error) {
	sc, ok := mapStorage(cfg)
	if !ok {
		return nil, storage.ErrDisabled
	}
	return storage.Open(sc, log)
}
