package notifier

import (
	"fmt"

	"trackbot/internal/osu"
	"trackbot/pkg/tgui"
)

// FormatScore renders a new top play as Telegram HTML.
func FormatScore(user osu.User, mode osu.Mode, idx int, s osu.Score) string {
	name := user.Username
	if name == "" && s.User != nil {
		name = s.User.Username
	}
	if name == "" {
		name = fmt.Sprintf("user %d", s.UserID)
	}
	head := tgui.B(name) + tgui.Escf(" set a new #%d top play (%s)", idx, mode)

	var beatmap tgui.H
	if s.Beatmapset != nil && s.Beatmap != nil {
		title := fmt.Sprintf("%s - %s [%s]", s.Beatmapset.Artist, s.Beatmapset.Title, s.Beatmap.Version)
		beatmap = tgui.Link(title, s.Beatmap.URL)
		if s.Beatmap.DifficultyRating > 0 {
			beatmap += tgui.Escf(" %.2f★", s.Beatmap.DifficultyRating)
		}
	}

	line := tgui.Join(" ",
		tgui.Esc(s.Rank),
		tgui.Esc(s.Mods.String()),
		tgui.Escf("%.2f%%", s.Accuracy*100),
		tgui.Escf("%dx", s.MaxCombo),
	)
	if s.PP > 0 {
		line = tgui.Join(" • ", line, tgui.B(fmt.Sprintf("%.2fpp", s.PP)))
	}
	return tgui.Lines(head, beatmap, line).String()
}

// ScoreDedupKey identifies one score notification for one chat.
func ScoreDedupKey(chatID int64, s osu.Score) string {
	return fmt.Sprintf("%d:%d", chatID, s.ID)
}
