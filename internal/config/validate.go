package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

// Validate checks required fields, durations and ranges. It reports every
// problem found, joined.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		add(errors.New("telegram.token is required"))
	}
	_, err := ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout)
	add(err)

	if strings.TrimSpace(cfg.Osu.ClientID) == "" || strings.TrimSpace(cfg.Osu.ClientSecret) == "" {
		add(errors.New("osu.client_id and osu.client_secret are required"))
	}
	if cfg.Osu.RequestsPerMinute < 0 {
		add(errors.New("osu.requests_per_minute must be >= 0"))
	}
	_, err = ParseDurationField("osu.timeout", cfg.Osu.Timeout)
	add(err)

	_, err = ParseDurationField("tracking.interval", cfg.Tracking.Interval)
	add(err)
	_, err = ParseDurationField("tracking.idle_backoff", cfg.Tracking.IdleBackoff)
	add(err)
	if l := cfg.Tracking.DefaultLimit; l < 0 || l > 100 {
		add(fmt.Errorf("tracking.default_limit must be within 1..100, got %d", l))
	}
	if spec := strings.TrimSpace(cfg.Tracking.StatsReport); spec != "" {
		if _, err := cron.ParseStandard(spec); err != nil {
			add(fmt.Errorf("tracking.stats_report: %w", err))
		}
	}

	if n := cfg.Notifier; n != nil {
		for path, raw := range map[string]string{
			"notifier.retry_base":      n.RetryBase,
			"notifier.retry_max_delay": n.RetryMaxDelay,
			"notifier.dedup_window":    n.DedupWindow,
		} {
			_, err := ParseDurationField(path, raw)
			add(err)
		}
		if n.Workers < 0 || n.QueueSize < 0 || n.RatePerSec < 0 || n.RetryMax < 0 {
			add(errors.New("notifier: workers, queue_size, rate_per_sec and retry_max must be >= 0"))
		}
	}

	if s := cfg.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "none":
		case "file", "sqlite", "sqlite3":
			if strings.TrimSpace(s.Path) == "" {
				add(fmt.Errorf("storage.path is required for driver %q", s.Driver))
			}
		default:
			add(fmt.Errorf("storage.driver: unknown driver %q", s.Driver))
		}
		_, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout)
		add(err)
	}

	if cfg.Logging.Chat.Enabled && cfg.Logging.Chat.ChatID == 0 {
		add(errors.New("logging.chat.chat_id is required when logging.chat.enabled"))
	}
	return errors.Join(errs...)
}
