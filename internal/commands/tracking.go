package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"trackbot/internal/osu"
	"trackbot/internal/tracking"
	"trackbot/pkg/tgui"
)

const (
	MinLimit     = 1
	MaxLimit     = 100
	DefaultLimit = 50

	// MaxTrackNames caps the names one /track call accepts.
	MaxTrackNames = 10
	// MaxNameLen is the longest valid osu! username.
	MaxNameLen = 15
)

// Tracker is the tracking.Tracker surface the commands use.
type Tracker interface {
	Add(ctx context.Context, key tracking.Key, lastSeen time.Time, channel tracking.ChannelID, limit uint8) (tracking.AddOutcome, error)
	RemoveUser(ctx context.Context, userID uint32, mode *osu.Mode, channel tracking.ChannelID) ([]tracking.Removal, error)
	RemoveChannel(ctx context.Context, channel tracking.ChannelID, mode *osu.Mode) (int, error)
	List(channel tracking.ChannelID) []tracking.Listed
	Stats() tracking.Stats
	SetPaused(paused bool)
	TogglePaused() bool
	SetInterval(d time.Duration)
	Interval() time.Duration
}

// Players resolves names and reads top plays.
type Players interface {
	User(ctx context.Context, name string, mode osu.Mode) (osu.User, error)
	BestScores(ctx context.Context, userID uint32, mode osu.Mode, limit int) ([]osu.Score, error)
}

const failedText = "something went wrong while saving, please try again later"

// Tracking implements the tracking chat commands.
type Tracking struct {
	Tracker Tracker
	Players Players
	// DefaultLimit applies when /track has no limit flag (0 means DefaultLimit).
	DefaultLimit int
	// StatsExtra appends lines to /trackstats.
	StatsExtra func() []string
	Now        func() time.Time

	names sync.Map // uint32 -> string
}

func (t *Tracking) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now()
}

func (t *Tracking) Commands() []Command {
	return []Command{
		{Name: "track", Description: "track players' top plays", Usage: trackUsage("track"), Handle: t.trackHandler(nil)},
		{Name: "tracktaiko", Description: "track players' taiko top plays", Usage: trackUsage("tracktaiko"), Handle: t.trackHandler(modePtr(osu.ModeTaiko))},
		{Name: "trackctb", Description: "track players' fruits top plays", Usage: trackUsage("trackctb"), Handle: t.trackHandler(modePtr(osu.ModeFruits))},
		{Name: "trackmania", Description: "track players' mania top plays", Usage: trackUsage("trackmania"), Handle: t.trackHandler(modePtr(osu.ModeMania))},
		{Name: "untrack", Description: "stop tracking a player", Usage: "/untrack <name> [mode]", Handle: t.handleUntrack},
		{Name: "untrackall", Description: "stop tracking everyone in this chat", Usage: "/untrackall [mode]", Handle: t.handleUntrackAll},
		{Name: "tracklist", Description: "list players tracked in this chat", Usage: "/tracklist", Handle: t.handleList},
		{Name: "trackstats", Description: "tracking scheduler state", Access: AccessOwnerOnly, Handle: t.handleStats},
		{Name: "trackpause", Description: "pause tracking", Access: AccessOwnerOnly, Handle: t.pauseHandler(true)},
		{Name: "trackresume", Description: "resume tracking", Access: AccessOwnerOnly, Handle: t.pauseHandler(false)},
		{Name: "tracktoggle", Description: "toggle tracking", Access: AccessOwnerOnly, Handle: t.handleToggle},
		{Name: "trackinterval", Description: "show or set the polling cycle", Usage: "/trackinterval [duration]", Access: AccessOwnerOnly, Handle: t.handleInterval},
	}
}

func modePtr(m osu.Mode) *osu.Mode { return &m }

func usage(ctx context.Context, req *Request, u string) error {
	return req.Reply(ctx, string("usage: "+tgui.Code(u)))
}

// modeArg reads an optional mode from args[i]. An absent mode yields nil.
func modeArg(args []string, i int) (*osu.Mode, error) {
	if len(args) <= i {
		return nil, nil
	}
	m, err := osu.ParseMode(args[i])
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (t *Tracking) resolve(ctx context.Context, req *Request, name string, mode osu.Mode) (osu.User, bool, error) {
	u, err := t.Players.User(ctx, name, mode)
	if errors.Is(err, osu.ErrNotFound) {
		return osu.User{}, false, req.Reply(ctx, string("user "+tgui.B(name)+" was not found"))
	}
	if err != nil {
		_ = req.Reply(ctx, "the osu! API did not answer, please try again later")
		return osu.User{}, false, err
	}
	t.names.Store(u.ID, u.Username)
	return u, true, nil
}

// trackHandler serves /track (mode from the mode flag, default osu) and the
// per-mode variants (fixed mode).
func (t *Tracking) trackHandler(fixed *osu.Mode) HandlerFunc {
	return func(ctx context.Context, req *Request) error {
		if len(req.Args) == 0 || len(req.Args) > MaxTrackNames {
			return usage(ctx, req, trackUsage(req.Command))
		}
		for _, name := range req.Args {
			if len(name) > MaxNameLen {
				return req.Reply(ctx, string(tgui.Code(name)+" is too long for an osu! username"))
			}
		}
		mode := osu.ModeOsu
		switch v, ok := req.Flags["mode"]; {
		case fixed != nil:
			mode = *fixed
		case ok:
			m, err := osu.ParseMode(v)
			if err != nil {
				return req.Reply(ctx, string(tgui.Esc(err.Error())))
			}
			mode = m
		}
		limit := t.DefaultLimit
		if limit <= 0 {
			limit = DefaultLimit
		}
		if v, ok := req.Flags["limit"]; ok {
			n, err := strconv.Atoi(v)
			if err != nil || n < MinLimit || n > MaxLimit {
				return req.Reply(ctx, fmt.Sprintf("limit must be a number between %d and %d", MinLimit, MaxLimit))
			}
			limit = n
		}

		users := make([]osu.User, 0, len(req.Args))
		for _, name := range req.Args {
			u, ok, err := t.resolve(ctx, req, name, mode)
			if !ok {
				return err
			}
			users = append(users, u)
		}

		var (
			added, updated, unchanged, failed []tgui.H
			errs                              []error
		)
		for _, u := range users {
			outcome, err := t.trackOne(ctx, req, u, mode, uint8(limit))
			name := tgui.B(u.Username)
			switch {
			case err != nil:
				errs = append(errs, err)
				failed = append(failed, name)
			case outcome == tracking.AddedNew || outcome == tracking.Added:
				added = append(added, name)
			case outcome == tracking.UpdatedLimit:
				updated = append(updated, name)
			default:
				unchanged = append(unchanged, name)
			}
		}

		section := func(title string, names []tgui.H) tgui.H {
			if len(names) == 0 {
				return ""
			}
			return tgui.Esc(title) + tgui.Join(", ", names...)
		}
		reply := tgui.Lines(
			section(fmt.Sprintf("now tracking (%s, top %d): ", mode, limit), added),
			section(fmt.Sprintf("updated to top %d (%s): ", limit, mode), updated),
			section(fmt.Sprintf("already tracked with top %d (%s): ", limit, mode), unchanged),
			section("failed to track: ", failed),
		)
		if len(failed) > 0 {
			reply = tgui.Lines(reply, tgui.Esc(failedText))
		}
		if err := req.Reply(ctx, reply.String()); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	}
}

func trackUsage(command string) string {
	if command == "track" {
		return "/track [mode=osu|taiko|fruits|mania] [limit=1..100] <name> [name ...]"
	}
	return "/" + command + " [limit=1..100] <name> [name ...]"
}

// trackOne subscribes the chat to u. The newest current top play marks where
// notifications start.
func (t *Tracking) trackOne(ctx context.Context, req *Request, u osu.User, mode osu.Mode, limit uint8) (tracking.AddOutcome, error) {
	lastSeen := t.now()
	scores, err := t.Players.BestScores(ctx, u.ID, mode, MaxLimit)
	if err != nil && !errors.Is(err, osu.ErrNotFound) {
		return tracking.NotAdded, fmt.Errorf("top plays of %s: %w", u.Username, err)
	}
	for i, s := range scores {
		if i == 0 || s.EndedAt.After(lastSeen) {
			lastSeen = s.EndedAt
		}
	}
	key := tracking.Key{UserID: u.ID, Mode: mode}
	return t.Tracker.Add(ctx, key, lastSeen, tracking.ChannelID(req.Chat.ChatID), limit)
}

func (t *Tracking) handleUntrack(ctx context.Context, req *Request) error {
	if len(req.Args) == 0 || len(req.Args) > 2 {
		return usage(ctx, req, "/untrack <name> [mode]")
	}
	mode, err := modeArg(req.Args, 1)
	if err != nil {
		return req.Reply(ctx, string(tgui.Esc(err.Error())))
	}
	lookup := osu.ModeOsu
	if mode != nil {
		lookup = *mode
	}
	u, ok, err := t.resolve(ctx, req, req.Args[0], lookup)
	if !ok {
		return err
	}
	removed, err := t.Tracker.RemoveUser(ctx, u.ID, mode, tracking.ChannelID(req.Chat.ChatID))
	if err != nil {
		_ = req.Reply(ctx, failedText)
		return err
	}
	name := tgui.Esc(u.Username)
	if len(removed) == 0 {
		return req.Reply(ctx, fmt.Sprintf("<b>%s</b> is not tracked in this chat", name))
	}
	modes := make([]string, 0, len(removed))
	for _, r := range removed {
		modes = append(modes, r.Key.Mode.String())
	}
	return req.Reply(ctx, fmt.Sprintf("stopped tracking <b>%s</b> (%s)", name, strings.Join(modes, ", ")))
}

func (t *Tracking) handleUntrackAll(ctx context.Context, req *Request) error {
	mode, err := modeArg(req.Args, 0)
	if err != nil {
		return req.Reply(ctx, string(tgui.Esc(err.Error())))
	}
	n, err := t.Tracker.RemoveChannel(ctx, tracking.ChannelID(req.Chat.ChatID), mode)
	if err != nil {
		_ = req.Reply(ctx, failedText)
		return err
	}
	return req.Reply(ctx, fmt.Sprintf("stopped tracking %d player(s) in this chat", n))
}

func (t *Tracking) displayName(id uint32) string {
	if v, ok := t.names.Load(id); ok {
		return string(tgui.Esc(v.(string)))
	}
	return strconv.FormatUint(uint64(id), 10)
}

func (t *Tracking) handleList(ctx context.Context, req *Request) error {
	rows := t.Tracker.List(tracking.ChannelID(req.Chat.ChatID))
	if len(rows) == 0 {
		return req.Reply(ctx, "nobody is tracked in this chat")
	}
	var b strings.Builder
	fmt.Fprintf(&b, "<b>tracked players (%d)</b>\n", len(rows))
	for _, r := range rows {
		fmt.Fprintf(&b, "• <a href=\"https://osu.ppy.sh/users/%d/%s\">%s</a> %s, top %d\n",
			r.Key.UserID, r.Key.Mode, t.displayName(r.Key.UserID), r.Key.Mode, r.Limit)
	}
	return req.Reply(ctx, strings.TrimRight(b.String(), "\n"))
}

func (t *Tracking) handleStats(ctx context.Context, req *Request) error {
	return req.Reply(ctx, FormatStats(t.Tracker.Stats(), t.extraStats()))
}

func (t *Tracking) extraStats() []string {
	if t.StatsExtra == nil {
		return nil
	}
	return t.StatsExtra()
}

// FormatStats renders a scheduler snapshot as HTML lines.
func FormatStats(s tracking.Stats, extra []string) string {
	var b strings.Builder
	b.WriteString("<b>tracking stats</b>\n")
	state := "running"
	if s.Paused {
		state = "paused"
	}
	fmt.Fprintf(&b, "state: %s\n", state)
	fmt.Fprintf(&b, "tracked: %d (queued %d)\n", s.Entities, s.Queued)
	fmt.Fprintf(&b, "interval: %s\n", s.Interval)
	if s.HasNextDue {
		fmt.Fprintf(&b, "next: %s\n", s.NextDue)
	}
	fmt.Fprintf(&b, "cycle remaining: %s\n", s.Remaining.Round(time.Second))
	fmt.Fprintf(&b, "wait per pop: %s", s.PerPop.Round(time.Millisecond))
	for _, l := range extra {
		b.WriteString("\n" + string(tgui.Esc(l)))
	}
	return b.String()
}

func (t *Tracking) pauseHandler(paused bool) HandlerFunc {
	return func(ctx context.Context, req *Request) error {
		t.Tracker.SetPaused(paused)
		return req.Reply(ctx, pausedText(paused))
	}
}

func (t *Tracking) handleToggle(ctx context.Context, req *Request) error {
	return req.Reply(ctx, pausedText(t.Tracker.TogglePaused()))
}

func pausedText(paused bool) string {
	if paused {
		return "tracking paused"
	}
	return "tracking running"
}

func (t *Tracking) handleInterval(ctx context.Context, req *Request) error {
	if len(req.Args) == 0 {
		return req.Reply(ctx, fmt.Sprintf("interval: %s", t.Tracker.Interval()))
	}
	d, err := time.ParseDuration(req.Args[0])
	if err != nil || d <= 0 {
		return usage(ctx, req, "/trackinterval [duration, e.g. 3h30m]")
	}
	t.Tracker.SetInterval(d)
	return req.Reply(ctx, fmt.Sprintf("interval set to %s", d))
}
