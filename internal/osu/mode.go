package osu

import (
	"fmt"
	"strings"
)

// Mode is an osu! game mode (ruleset).
type Mode uint8

const (
	ModeOsu Mode = iota
	ModeTaiko
	ModeFruits
	ModeMania
)

// Modes lists every mode in API order.
var Modes = []Mode{ModeOsu, ModeTaiko, ModeFruits, ModeMania}

// String returns the ruleset name used by the osu! API v2.
func (m Mode) String() string {
	switch m {
	case ModeOsu:
		return "osu"
	case ModeTaiko:
		return "taiko"
	case ModeFruits:
		return "fruits"
	case ModeMania:
		return "mania"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool { return m <= ModeMania }

// ParseMode accepts API names, common aliases and numeric ids.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "osu", "std", "standard", "0":
		return ModeOsu, nil
	case "taiko", "1":
		return ModeTaiko, nil
	case "fruits", "ctb", "catch", "2":
		return ModeFruits, nil
	case "mania", "3":
		return ModeMania, nil
	default:
		return 0, fmt.Errorf("unknown mode %q", s)
	}
}
