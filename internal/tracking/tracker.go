package tracking

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"trackbot/internal/osu"
	logx "trackbot/pkg/logx"
)

const (
	// DefaultInterval is the target duration for polling every tracked key once.
	DefaultInterval = 210 * time.Minute
	// DefaultIdleBackoff is how long Pop sleeps when nothing can be returned.
	DefaultIdleBackoff = 5 * time.Second
)

// Tracker is the tracking scheduler: it owns the tracked entities, their
// polling order and the pacing of Pop.
//
// All methods are safe for concurrent use. Lock order is write stripe ->
// shard -> queue; Pop never holds the queue lock while taking a shard lock.
type Tracker struct {
	log   logx.Logger
	gw    Gateway
	now   func() time.Time
	store *Store
	queue *Queue

	// writes holds a key's stripe from its in-memory change until the
	// gateway call returns, so storage sees each key's writes in memory order.
	writes [shardCount]sync.Mutex

	idleBackoff time.Duration

	mu       sync.Mutex
	interval time.Duration
	anchor   time.Time

	paused atomic.Bool
}

type Option func(*Tracker)

func WithLogger(log logx.Logger) Option { return func(t *Tracker) { t.log = log } }

// WithGateway sets the persistence mirror. nil disables persistence.
func WithGateway(gw Gateway) Option { return func(t *Tracker) { t.gw = gw } }

func WithInterval(d time.Duration) Option { return func(t *Tracker) { t.interval = d } }

func WithIdleBackoff(d time.Duration) Option { return func(t *Tracker) { t.idleBackoff = d } }

func WithPaused(paused bool) Option { return func(t *Tracker) { t.paused.Store(paused) } }

func WithClock(now func() time.Time) Option { return func(t *Tracker) { t.now = now } }

// lockWrites takes key's write stripe and returns its unlock.
func (t *Tracker) lockWrites(key Key) func() {
	m := &t.writes[shardIndex(key)]
	m.Lock()
	return m.Unlock
}

func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		now:         time.Now,
		store:       NewStore(),
		queue:       NewQueue(),
		interval:    DefaultInterval,
		idleBackoff: DefaultIdleBackoff,
	}
	for _, o := range opts {
		o(t)
	}
	if t.log.IsZero() {
		t.log = logx.Nop()
	}
	if t.gw == nil {
		t.gw = nopGateway{}
	}
	if t.now == nil {
		t.now = time.Now
	}
	if t.interval <= 0 {
		t.interval = DefaultInterval
	}
	if t.idleBackoff <= 0 {
		t.idleBackoff = DefaultIdleBackoff
	}
	t.anchor = t.now()
	return t
}

// Load queues every persisted record with priority now, in key order.
// Records without channels are skipped.
func (t *Tracker) Load(ctx context.Context, l Loader) (int, error) {
	recs, err := l.LoadTracked(ctx)
	if err != nil {
		return 0, fmt.Errorf("load tracked: %w", err)
	}
	sort.Slice(recs, func(i, j int) bool { return keyLess(recs[i].Key, recs[j].Key) })

	now := t.now()
	n := 0
	for _, r := range recs {
		if len(r.Channels) == 0 {
			continue
		}
		rec := r
		t.store.Upsert(rec.Key, func() Entity {
			return Entity{Channels: rec.Channels.Clone(), LastUpdate: rec.LastUpdate}
		}, func(e *Entity, created bool) {
			if !created {
				for ch, limit := range rec.Channels {
					e.Channels[ch] = limit
				}
			}
			t.queue.Push(rec.Key, now)
		})
		n++
	}
	t.touchAnchor(now)
	t.log.Info("tracked entities loaded", logx.Int("count", n))
	return n, nil
}

// SetInterval changes the cycle interval used by Pop from the next call on.
func (t *Tracker) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	t.mu.Lock()
	t.interval = d
	t.mu.Unlock()
}

func (t *Tracker) Interval() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.interval
}

func (t *Tracker) SetPaused(paused bool) { t.paused.Store(paused) }

func (t *Tracker) Paused() bool { return t.paused.Load() }

// TogglePaused flips the pause flag and returns the new value.
func (t *Tracker) TogglePaused() bool {
	for {
		old := t.paused.Load()
		if t.paused.CompareAndSwap(old, !old) {
			return !old
		}
	}
}

func (t *Tracker) touchAnchor(at time.Time) {
	t.mu.Lock()
	t.anchor = at
	t.mu.Unlock()
}

func (t *Tracker) pacing(now time.Time, queued int) (remaining, perPop time.Duration) {
	t.mu.Lock()
	remaining = t.anchor.Add(t.interval).Sub(now)
	t.mu.Unlock()
	if queued > 0 && remaining > 0 {
		perPop = remaining / time.Duration(queued)
	}
	return remaining, perPop
}

// Add subscribes channel to key with the given limit.
//
// On AddedNew the key is queued with priority now. A zero limit is NotAdded.
// A persistence error is returned together with the outcome of the in-memory
// change, which is kept.
func (t *Tracker) Add(ctx context.Context, key Key, lastSeen time.Time, channel ChannelID, limit uint8) (AddOutcome, error) {
	if limit == 0 {
		return NotAdded, nil
	}
	defer t.lockWrites(key)()

	outcome := NotAdded
	var snapshot Channels
	t.store.Upsert(key, func() Entity {
		return Entity{Channels: Channels{channel: limit}, LastUpdate: lastSeen}
	}, func(e *Entity, created bool) {
		if created {
			now := t.now()
			t.touchAnchor(now)
			t.queue.Push(key, now)
			outcome = AddedNew
			return
		}
		old, ok := e.Channels[channel]
		switch {
		case !ok:
			outcome = Added
		case old != limit:
			outcome = UpdatedLimit
		default:
			return
		}
		e.Channels[channel] = limit
		snapshot = e.Channels.Clone()
	})

	var err error
	switch outcome {
	case AddedNew:
		err = t.gw.Insert(ctx, key, lastSeen, channel, limit)
	case Added, UpdatedLimit:
		err = t.gw.UpdateChannels(ctx, key, snapshot)
	}
	t.log.Debug("track add",
		logx.String("key", key.String()),
		logx.Int64("channel", int64(channel)),
		logx.Int("limit", int(limit)),
		logx.String("outcome", outcome.String()),
	)
	if err != nil {
		return outcome, fmt.Errorf("persist %s for %s: %w", outcome, key, err)
	}
	return outcome, nil
}

type pendingRemoval struct {
	Removal
	channels Channels
}

// detach removes channel from key. The entity and its queue entry are deleted
// when no channel is left.
func (t *Tracker) detach(key Key, channel ChannelID) (pendingRemoval, bool) {
	var (
		res     = pendingRemoval{Removal: Removal{Key: key}}
		removed bool
	)
	t.store.Modify(key, func(e *Entity) bool {
		if _, ok := e.Channels[channel]; !ok {
			return false
		}
		removed = true
		delete(e.Channels, channel)
		if len(e.Channels) == 0 {
			t.queue.Remove(key)
			res.Untracked = true
			return true
		}
		res.channels = e.Channels.Clone()
		return false
	})
	return res, removed
}

// detachAndPersist detaches channel from key and mirrors the change while
// holding key's write stripe.
func (t *Tracker) detachAndPersist(ctx context.Context, key Key, channel ChannelID) (Removal, bool, error) {
	defer t.lockWrites(key)()
	r, ok := t.detach(key, channel)
	if !ok {
		return Removal{}, false, nil
	}
	var err error
	if r.Untracked {
		err = t.gw.Delete(ctx, key)
	} else {
		err = t.gw.UpdateChannels(ctx, key, r.channels)
	}
	if err != nil {
		err = fmt.Errorf("persist removal for %s: %w", key, err)
	}
	return r.Removal, true, err
}

func modesFor(mode *osu.Mode) []osu.Mode {
	if mode != nil {
		return []osu.Mode{*mode}
	}
	return osu.Modes
}

// RemoveUser unsubscribes channel from every mode of userID (or only *mode).
// The result lists each affected key and whether it is now untracked.
func (t *Tracker) RemoveUser(ctx context.Context, userID uint32, mode *osu.Mode, channel ChannelID) ([]Removal, error) {
	var (
		out  []Removal
		errs []error
	)
	for _, m := range modesFor(mode) {
		r, ok, err := t.detachAndPersist(ctx, Key{UserID: userID, Mode: m}, channel)
		if ok {
			out = append(out, r)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return out, errors.Join(errs...)
}

// RemoveChannel unsubscribes channel from every key (optionally only in *mode)
// and returns how many keys were affected.
func (t *Tracker) RemoveChannel(ctx context.Context, channel ChannelID, mode *osu.Mode) (int, error) {
	var candidates []Key
	t.store.ForEach(func(k Key, e *Entity) bool {
		if mode != nil && k.Mode != *mode {
			return true
		}
		if _, ok := e.Channels[channel]; ok {
			candidates = append(candidates, k)
		}
		return true
	})

	var (
		n    int
		errs []error
	)
	for _, k := range candidates {
		_, ok, err := t.detachAndPersist(ctx, k, channel)
		if ok {
			n++
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	if n > 0 {
		t.log.Debug("channel untracked", logx.Int64("channel", int64(channel)), logx.Int("keys", n))
	}
	return n, errors.Join(errs...)
}

// RemoveUserAll drops userID in every mode regardless of channels and returns
// the modes that were tracked.
func (t *Tracker) RemoveUserAll(ctx context.Context, userID uint32) ([]osu.Mode, error) {
	var (
		modes []osu.Mode
		errs  []error
	)
	for _, m := range osu.Modes {
		key := Key{UserID: userID, Mode: m}
		ok, err := t.dropAndPersist(ctx, key)
		if ok {
			modes = append(modes, m)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return modes, errors.Join(errs...)
}

func (t *Tracker) dropAndPersist(ctx context.Context, key Key) (bool, error) {
	defer t.lockWrites(key)()
	ok := t.store.Modify(key, func(*Entity) bool {
		t.queue.Remove(key)
		return true
	})
	if !ok {
		return false, nil
	}
	if err := t.gw.Delete(ctx, key); err != nil {
		return true, fmt.Errorf("persist delete for %s: %w", key, err)
	}
	return true, nil
}

// Reset moves key to the back of the polling order and restarts the pacing
// budget. It reports false for untracked keys.
func (t *Tracker) Reset(key Key) bool {
	return t.store.Modify(key, func(*Entity) bool {
		now := t.now()
		t.touchAnchor(now)
		t.queue.Push(key, now)
		return false
	})
}

// UpdateLastDate stores at as key's last update if it is strictly newer.
func (t *Tracker) UpdateLastDate(ctx context.Context, key Key, at time.Time) (bool, error) {
	defer t.lockWrites(key)()
	changed := false
	t.store.Modify(key, func(e *Entity) bool {
		if at.After(e.LastUpdate) {
			e.LastUpdate = at
			changed = true
		}
		return false
	})
	if !changed {
		return false, nil
	}
	if err := t.gw.UpdateLastSeen(ctx, key, at); err != nil {
		return true, fmt.Errorf("persist last update for %s: %w", key, err)
	}
	return true, nil
}

// Get returns a copy of key's entity.
func (t *Tracker) Get(key Key) (Entity, bool) { return t.store.Get(key) }

// Pop waits for the next polling slot and returns the stalest key together
// with the largest limit requested by its channels.
//
// The wait spreads what is left of the cycle interval evenly over the keys
// currently queued and is recomputed on every call. When the queue is empty or
// tracking is paused, Pop sleeps the idle backoff and returns false.
//
// The returned key stays queued: callers must Reset it after checking it.
func (t *Tracker) Pop(ctx context.Context) (Key, uint8, bool) {
	queued := t.queue.Len()
	if queued == 0 || t.Paused() {
		sleepCtx(ctx, t.idleBackoff)
		return Key{}, 0, false
	}

	_, wait := t.pacing(t.now(), queued)
	if !sleepCtx(ctx, wait) || t.Paused() {
		return Key{}, 0, false
	}

	for {
		key, ok := t.queue.Peek()
		if !ok {
			return Key{}, 0, false
		}
		var limit uint8
		found := t.store.lockKey(key, func(e *Entity, ok bool) bool {
			if ok {
				limit = e.Channels.MaxLimit()
			} else {
				t.queue.Remove(key)
			}
			return false
		})
		if found && limit > 0 {
			return key, limit, true
		}
		if found {
			// An entity without channels must not exist; drop it.
			t.store.Modify(key, func(*Entity) bool {
				t.queue.Remove(key)
				return true
			})
			t.log.Warn("dropped tracked key without channels", logx.String("key", key.String()))
		}
	}
}

// List returns every key channel is subscribed to, ordered by user and mode.
func (t *Tracker) List(channel ChannelID) []Listed {
	var out []Listed
	t.store.ForEach(func(k Key, e *Entity) bool {
		if limit, ok := e.Channels[channel]; ok {
			out = append(out, Listed{Key: k, Limit: limit})
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return keyLess(out[i].Key, out[j].Key) })
	return out
}

func (t *Tracker) Stats() Stats {
	now := t.now()
	next, hasNext := t.queue.Peek()
	queued := t.queue.Len()
	remaining, perPop := t.pacing(now, queued)

	t.mu.Lock()
	anchor, interval := t.anchor, t.interval
	t.mu.Unlock()

	return Stats{
		NextDue:    next,
		HasNextDue: hasNext,
		Entities:   t.store.Len(),
		Queued:     queued,
		Anchor:     anchor,
		Interval:   interval,
		Paused:     t.Paused(),
		Remaining:  remaining,
		PerPop:     perPop,
	}
}

func keyLess(a, b Key) bool {
	if a.UserID != b.UserID {
		return a.UserID < b.UserID
	}
	return a.Mode < b.Mode
}

// sleepCtx waits d or until ctx is done. It reports whether the full wait elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if ctx == nil {
		ctx = context.Background()
	}
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
