package adapter

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kit "trackbot/internal/transport"
)

func TestSplitTextShortIsSingleChunk(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []string{"hello"}, splitText("hello", 10, ""))
}

func TestSplitTextPrefersNewlines(t *testing.T) {
	t.Parallel()
	s := strings.Repeat("a", 6) + "\n" + strings.Repeat("b", 6)
	got := splitText(s, 10, "")
	assert.Equal(t, []string{"aaaaaa", "bbbbbb"}, got)
}

func TestSplitTextAvoidsCuttingTags(t *testing.T) {
	t.Parallel()
	s := "abcdef<b>bold</b>"
	got := splitText(s, 8, "HTML")
	require.NotEmpty(t, got)
	assert.Equal(t, "abcdef", got[0])
	assert.Equal(t, s, strings.Join(got, ""))
}

func TestClassifySendError(t *testing.T) {
	t.Parallel()
	err := classifySendError(errors.New("telegram: Bad Request: chat not found (400)"))
	assert.ErrorIs(t, err, kit.ErrChatGone)

	other := errors.New("telegram: Too Many Requests (429)")
	assert.NotErrorIs(t, classifySendError(other), kit.ErrChatGone)
}
