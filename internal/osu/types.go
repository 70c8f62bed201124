package osu

import (
	"encoding/json"
	"strings"
	"time"
)

// User is the subset of an osu! user profile the bot needs.
type User struct {
	ID          uint32 `json:"id"`
	Username    string `json:"username"`
	CountryCode string `json:"country_code"`
	Statistics  *struct {
		PP         float64 `json:"pp"`
		GlobalRank *uint32 `json:"global_rank"`
	} `json:"statistics,omitempty"`
}

type Beatmap struct {
	ID               uint32  `json:"id"`
	Version          string  `json:"version"`
	DifficultyRating float64 `json:"difficulty_rating"`
	URL              string  `json:"url"`
}

type Beatmapset struct {
	ID      uint32 `json:"id"`
	Artist  string `json:"artist"`
	Title   string `json:"title"`
	Creator string `json:"creator"`
}

// Score is one top play. EndedAt is when the play was set.
type Score struct {
	ID         uint64      `json:"id"`
	UserID     uint32      `json:"user_id"`
	Accuracy   float64     `json:"accuracy"`
	PP         float64     `json:"pp"`
	Rank       string      `json:"rank"`
	MaxCombo   uint32      `json:"max_combo"`
	Mods       Mods        `json:"mods"`
	EndedAt    time.Time   `json:"ended_at"`
	User       *User       `json:"user,omitempty"`
	Beatmap    *Beatmap    `json:"beatmap,omitempty"`
	Beatmapset *Beatmapset `json:"beatmapset,omitempty"`
}

// Mods decodes both the legacy string list and the lazer object list.
type Mods []string

func (m *Mods) UnmarshalJSON(b []byte) error {
	var names []string
	if err := json.Unmarshal(b, &names); err == nil {
		*m = names
		return nil
	}
	var objs []struct {
		Acronym string `json:"acronym"`
	}
	if err := json.Unmarshal(b, &objs); err != nil {
		return err
	}
	out := make(Mods, 0, len(objs))
	for _, o := range objs {
		out = append(out, o.Acronym)
	}
	*m = out
	return nil
}

// String renders "+HDDT", or "" without mods.
func (m Mods) String() string {
	if len(m) == 0 {
		return ""
	}
	return "+" + strings.Join(m, "")
}

// UnmarshalJSON falls back to created_at for responses without ended_at.
func (s *Score) UnmarshalJSON(b []byte) error {
	type plain Score
	aux := struct {
		*plain
		CreatedAt time.Time `json:"created_at"`
	}{plain: (*plain)(s)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	if s.EndedAt.IsZero() {
		s.EndedAt = aux.CreatedAt
	}
	return nil
}
