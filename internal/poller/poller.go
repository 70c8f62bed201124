// Package poller drives the tracking loop: it takes the next due player from
// the tracker, fetches their top plays and notifies subscribed chats about
// plays set since the last check.
package poller

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"trackbot/internal/notifier"
	"trackbot/internal/osu"
	"trackbot/internal/tracking"
	kit "trackbot/internal/transport"
	logx "trackbot/pkg/logx"
)

// Scheduler is the part of tracking.Tracker the loop needs.
type Scheduler interface {
	Pop(ctx context.Context) (tracking.Key, uint8, bool)
	Reset(key tracking.Key) bool
	Get(key tracking.Key) (tracking.Entity, bool)
	UpdateLastDate(ctx context.Context, key tracking.Key, at time.Time) (bool, error)
	RemoveUserAll(ctx context.Context, userID uint32) ([]osu.Mode, error)
}

type ScoreSource interface {
	BestScores(ctx context.Context, userID uint32, mode osu.Mode, limit int) ([]osu.Score, error)
	UserByID(ctx context.Context, userID uint32, mode osu.Mode) (osu.User, error)
}

type Notifier interface {
	Notify(ctx context.Context, n notifier.Notification) (string, error)
}

// Counters are cumulative since start.
type Counters struct {
	Checks   uint64
	Failures uint64
	Removed  uint64
	Notified uint64
}

type Poller struct {
	log    logx.Logger
	sched  Scheduler
	scores ScoreSource
	notify Notifier

	checks   atomic.Uint64
	failures atomic.Uint64
	removed  atomic.Uint64
	notified atomic.Uint64
}

func New(sched Scheduler, scores ScoreSource, notify Notifier, log logx.Logger) *Poller {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Poller{log: log, sched: sched, scores: scores, notify: notify}
}

// Run polls until ctx ends.
func (p *Poller) Run(ctx context.Context) error {
	p.log.Info("tracking loop started")
	defer p.log.Info("tracking loop stopped")
	for ctx.Err() == nil {
		key, amount, ok := p.sched.Pop(ctx)
		if !ok {
			continue
		}
		p.Check(ctx, key, amount)
	}
	return ctx.Err()
}

func (p *Poller) Counters() Counters {
	return Counters{
		Checks:   p.checks.Load(),
		Failures: p.failures.Load(),
		Removed:  p.removed.Load(),
		Notified: p.notified.Load(),
	}
}

// Check fetches key's top amount plays and processes them. Every outcome
// except an unknown player puts key back at the end of the order.
func (p *Poller) Check(ctx context.Context, key tracking.Key, amount uint8) {
	p.checks.Add(1)
	log := p.log.With(logx.String("key", key.String()))

	scores, err := p.scores.BestScores(ctx, key.UserID, key.Mode, int(amount))
	switch {
	case errors.Is(err, osu.ErrNotFound):
		log.Warn("player not found, untracking in all modes")
		p.removeUnknown(ctx, key.UserID)
		return
	case err != nil:
		p.failures.Add(1)
		if ctx.Err() == nil {
			log.Warn("fetching top plays failed", logx.Err(err))
		}
		p.sched.Reset(key)
		return
	case len(scores) == 0:
		p.sched.Reset(key)
		return
	}
	p.Process(ctx, key, scores)
}

func (p *Poller) removeUnknown(ctx context.Context, userID uint32) {
	modes, err := p.sched.RemoveUserAll(ctx, userID)
	p.removed.Add(uint64(len(modes)))
	if err != nil {
		p.log.Warn("untracking unknown player failed", logx.Int64("user_id", int64(userID)), logx.Err(err))
	}
}

// Process handles scores already fetched for key, best first.
func (p *Poller) Process(ctx context.Context, key tracking.Key, scores []osu.Score) {
	e, ok := p.sched.Get(key)
	if !ok {
		return
	}
	maxLimit := int(e.Channels.MaxLimit())
	if maxLimit == 0 {
		return
	}
	last := e.LastUpdate
	log := p.log.With(logx.String("key", key.String()))

	var newest time.Time
	for _, s := range scores {
		if s.EndedAt.After(newest) {
			newest = s.EndedAt
		}
	}
	if newest.After(last) {
		if _, err := p.sched.UpdateLastDate(ctx, key, newest); err != nil {
			log.Warn("updating last date failed", logx.Err(err))
		}
	}
	p.sched.Reset(key)

	var user *osu.User
	for i, s := range scores {
		idx := i + 1
		if idx > maxLimit {
			break
		}
		if !s.EndedAt.After(last) {
			continue
		}
		if user == nil {
			u, err := p.resolveUser(ctx, key, s)
			if errors.Is(err, osu.ErrNotFound) {
				p.removeUnknown(ctx, key.UserID)
				return
			}
			if err != nil {
				log.Warn("resolving player failed", logx.Err(err))
				return
			}
			user = &u
		}
		text := notifier.FormatScore(*user, key.Mode, idx, s)
		for ch, limit := range e.Channels {
			if idx > int(limit) {
				continue
			}
			_, err := p.notify.Notify(ctx, notifier.Notification{
				Target:   kit.ChatTarget{ChatID: int64(ch)},
				Text:     text,
				Options:  &kit.SendOptions{ParseMode: "HTML", DisablePreview: true},
				DedupKey: notifier.ScoreDedupKey(int64(ch), s),
			})
			if err != nil {
				log.Warn("queueing notification failed", logx.Int64("chat_id", int64(ch)), logx.Err(err))
				continue
			}
			p.notified.Add(1)
		}
	}
}

func (p *Poller) resolveUser(ctx context.Context, key tracking.Key, s osu.Score) (osu.User, error) {
	if s.User != nil && s.User.Username != "" {
		return *s.User, nil
	}
	return p.scores.UserByID(ctx, key.UserID, key.Mode)
}
