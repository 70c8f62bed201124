package notifier

import (
	"time"

	kit "trackbot/internal/transport"
)

// Config controls the async notification pipeline.
type Config struct {
	Workers         int
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
}

// Notification is one message for one chat.
type Notification struct {
	Target  kit.ChatTarget
	Text    string
	Options *kit.SendOptions
	// DedupKey suppresses repeats within the dedup window. Empty disables dedup.
	DedupKey string
}

type HistoryItem struct {
	ID     string
	At     time.Time
	ChatID int64
	Err    string
}
