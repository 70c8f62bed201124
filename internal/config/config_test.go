package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "trackbot/pkg/logx"
)

const validYAML = `
telegram:
  token: "123:abc"
  owner_user_ids: [42]
osu:
  client_id: "1"
  client_secret: "s"
tracking:
  interval: 3h30m
  default_limit: 50
  stats_report: "0 * * * *"
storage:
  driver: sqlite
  path: ./data/trackbot.db
`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	p := writeFile(t, t.TempDir(), "config.yaml", validYAML)
	m := NewManager(p, logx.Logger{})

	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, "123:abc", cfg.Telegram.Token)
	assert.Equal(t, []int64{42}, cfg.Telegram.OwnerUserIDs)
	assert.Equal(t, "3h30m", cfg.Tracking.Interval)
	require.NotNil(t, cfg.Storage)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Same(t, cfg, m.Get())
}

func TestDecodeRejectsUnknownFieldsAndTrailingData(t *testing.T) {
	t.Parallel()
	_, err := Decode("c.json", []byte(`{"telegram":{"token":"x"},"bogus":1}`))
	require.Error(t, err)

	_, err = Decode("c.json", []byte(`{"telegram":{"token":"x"}} {}`))
	require.ErrorContains(t, err, "trailing data")

	_, err = Decode("c.yml", []byte("tracking:\n  nope: true\n"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("c.yaml", []byte(validYAML))
	require.NoError(t, err)
	require.NoError(t, Validate(cfg))

	bad := *cfg
	bad.Telegram.Token = ""
	bad.Tracking.Interval = "soon"
	bad.Tracking.DefaultLimit = 101
	bad.Tracking.StatsReport = "every day"
	bad.Storage = &StorageConfig{Driver: "mongo"}
	err = Validate(&bad)
	require.Error(t, err)
	for _, want := range []string{"telegram.token", "tracking.interval", "default_limit", "stats_report", "unknown driver"} {
		assert.ErrorContains(t, err, want)
	}

	assert.Error(t, Validate(nil))
}

func TestDurationOr(t *testing.T) {
	t.Parallel()
	assert.Equal(t, time.Minute, DurationOr("", time.Minute))
	assert.Equal(t, time.Minute, DurationOr("junk", time.Minute))
	assert.Equal(t, 2*time.Second, DurationOr("2s", time.Minute))
}

func TestSummarizeChange(t *testing.T) {
	t.Parallel()
	a, err := Decode("c.yaml", []byte(validYAML))
	require.NoError(t, err)
	b, err := Decode("c.yaml", []byte(validYAML))
	require.NoError(t, err)

	changed, _ := SummarizeChange(a, b)
	assert.Empty(t, changed)
	assert.Empty(t, RestartRequired(a, b))

	b.Tracking.Paused = true
	b.Telegram.OwnerUserIDs = []int64{42, 7}
	b.Telegram.Token = "other"
	changed, fields := SummarizeChange(a, b)
	assert.ElementsMatch(t, []string{SectionTracking, SectionOwners}, changed)
	assert.NotEmpty(t, fields)
	assert.Equal(t, []string{"telegram"}, RestartRequired(a, b))
}

func TestSubscribeKeepsNewest(t *testing.T) {
	t.Parallel()
	m := NewManager("unused.json", logx.Nop())
	ch := m.Subscribe(1)
	first, second := &Config{}, &Config{}
	m.publish(first)
	m.publish(second)
	assert.Same(t, second, <-ch)

	m.Unsubscribe(ch)
	_, open := <-ch
	assert.False(t, open)
}

func TestWatchPublishesValidReload(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	p := writeFile(t, dir, "config.yaml", validYAML)
	m := NewManager(p, logx.Logger{})
	_, err := m.Load()
	require.NoError(t, err)
	ch := m.Subscribe(4)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, dir, "config.yaml", validYAML+"  compact_every: 10\n")

	select {
	case cfg := <-ch:
		require.NotNil(t, cfg.Storage)
		assert.Equal(t, 10, cfg.Storage.CompactEvery)
		assert.Same(t, cfg, m.Get())
	case <-time.After(5 * time.Second):
		t.Fatal("reload was not published")
	}
}
