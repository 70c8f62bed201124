package tracking

import (
	"fmt"
	"time"

	"trackbot/internal/osu"
)

// Key identifies a tracked subject: one player in one mode.
type Key struct {
	UserID uint32
	Mode   osu.Mode
}

func (k Key) String() string { return fmt.Sprintf("%d/%s", k.UserID, k.Mode) }

// ChannelID is a notification destination (telegram chat id).
type ChannelID int64

// Channels maps each subscribed channel to its limit, the deepest top-score
// rank it wants to be notified about.
type Channels map[ChannelID]uint8

// Clone returns an independent copy.
func (c Channels) Clone() Channels {
	out := make(Channels, len(c))
	for ch, limit := range c {
		out[ch] = limit
	}
	return out
}

// MaxLimit returns the largest limit across all channels (0 when empty).
func (c Channels) MaxLimit() uint8 {
	var max uint8
	for _, limit := range c {
		if limit > max {
			max = limit
		}
	}
	return max
}

// Entity is the per-subject state. It only exists while Channels is non-empty.
type Entity struct {
	Channels   Channels
	LastUpdate time.Time
}

func (e Entity) clone() Entity {
	return Entity{Channels: e.Channels.Clone(), LastUpdate: e.LastUpdate}
}

// AddOutcome describes what Add did.
type AddOutcome int

const (
	// NotAdded: the subscription already existed with the same limit.
	NotAdded AddOutcome = iota
	// AddedNew: the key was not tracked before.
	AddedNew
	// Added: the key was tracked, the channel is new for it.
	Added
	// UpdatedLimit: the channel was subscribed with a different limit.
	UpdatedLimit
)

func (o AddOutcome) String() string {
	switch o {
	case AddedNew:
		return "added_new"
	case Added:
		return "added"
	case UpdatedLimit:
		return "updated_limit"
	default:
		return "not_added"
	}
}

// Removal reports one key affected by RemoveUser/RemoveChannel.
type Removal struct {
	Key Key
	// Untracked is true when the key lost its last channel and was deleted.
	Untracked bool
}

// Listed is one row of List.
type Listed struct {
	Key   Key
	Limit uint8
}

// Record is a persisted tracked entity, used to bootstrap the tracker.
type Record struct {
	Key        Key
	LastUpdate time.Time
	Channels   Channels
}

// Stats is a diagnostic snapshot. Scheduling never reads it.
type Stats struct {
	NextDue    Key
	HasNextDue bool
	Entities   int
	Queued     int
	Anchor     time.Time
	Interval   time.Duration
	Paused     bool

	// Remaining is anchor+interval-now; negative once the cycle budget is spent.
	Remaining time.Duration
	// PerPop is the wait Pop would currently apply before returning a key.
	PerPop time.Duration
}
