package config

// Config is the on-disk configuration (JSON, or YAML by file extension).
// Durations are Go duration strings ("10s", "3h30m").
type Config struct {
	Telegram TelegramConfig  `json:"telegram"`
	Logging  LoggingConfig   `json:"logging"`
	Osu      OsuConfig       `json:"osu"`
	Tracking TrackingConfig  `json:"tracking"`
	Notifier *NotifierConfig `json:"notifier,omitempty"`
	Storage  *StorageConfig  `json:"storage,omitempty"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// BotName filters "/cmd@name" mentions in groups. Optional.
	BotName     string `json:"bot_name,omitempty"`
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	Chat    LoggingChat `json:"chat"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingChat mirrors warnings and errors into a Telegram chat.
type LoggingChat struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

type OsuConfig struct {
	ClientID          string `json:"client_id"`
	ClientSecret      string `json:"client_secret"`
	BaseURL           string `json:"base_url,omitempty"`
	RequestsPerMinute int    `json:"requests_per_minute,omitempty"`
	Timeout           string `json:"timeout,omitempty"`
}

// TrackingConfig controls the polling scheduler.
//
// Defaults: interval "3h30m", idle_backoff "5s", default_limit 50.
type TrackingConfig struct {
	Interval     string `json:"interval,omitempty"`
	IdleBackoff  string `json:"idle_backoff,omitempty"`
	Paused       bool   `json:"paused,omitempty"`
	DefaultLimit int    `json:"default_limit,omitempty"`
	// StatsReport is a cron spec; when set, scheduler stats are logged on it.
	StatsReport string `json:"stats_report,omitempty"`
}

// NotifierConfig controls the async notification pipeline.
type NotifierConfig struct {
	Workers         int    `json:"workers"`
	QueueSize       int    `json:"queue_size"`
	RatePerSec      int    `json:"rate_per_sec"`
	RetryMax        int    `json:"retry_max"`
	RetryBase       string `json:"retry_base"`
	RetryMaxDelay   string `json:"retry_max_delay"`
	DedupWindow     string `json:"dedup_window"`
	DedupMaxEntries int    `json:"dedup_max_entries"`
}

// StorageConfig selects the persistence driver.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/trackbot.db" }
type StorageConfig struct {
	Driver       string `json:"driver"`
	Path         string `json:"path"`
	BusyTimeout  string `json:"busy_timeout,omitempty"`
	CompactEvery int    `json:"compact_every,omitempty"`
}
