package logx

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestFormatChatLine(t *testing.T) {
	line := []byte(`{"level":"warn","time":"x","message":"persist failed","key":"2/osu","comp":"tracking"}`)
	got := formatChatLine(line)
	assert.Equal(t, "[WARN] persist failed\n- comp=tracking\n- key=2/osu", got)

	assert.Equal(t, "not json", formatChatLine([]byte("  not json \n")))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("debug", zerolog.InfoLevel))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel(" Warning ", zerolog.InfoLevel))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("bogus", zerolog.InfoLevel))
}

func TestZeroLoggerIsNop(t *testing.T) {
	var l Logger
	assert.True(t, l.IsZero())
	l.Info("dropped", String("k", "v"))
	assert.False(t, Nop().IsZero())
}
