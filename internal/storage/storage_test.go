package storage

import (
	"context"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trackbot/internal/osu"
	"trackbot/internal/tracking"
	logx "trackbot/pkg/logx"
)

func sortRecords(rs []tracking.Record) {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].Key.UserID != rs[j].Key.UserID {
			return rs[i].Key.UserID < rs[j].Key.UserID
		}
		return rs[i].Key.Mode < rs[j].Key.Mode
	})
}

// exercise runs the same mutation sequence against any driver and checks the
// loaded state after reopening.
func exercise(t *testing.T, cfg Config) {
	t.Helper()
	ctx := context.Background()
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	a := tracking.Key{UserID: 2, Mode: osu.ModeOsu}
	b := tracking.Key{UserID: 5, Mode: osu.ModeMania}
	c := tracking.Key{UserID: 9, Mode: osu.ModeTaiko}

	st, err := Open(cfg, logx.Nop())
	require.NoError(t, err)
	require.NotNil(t, st)

	require.NoError(t, st.Insert(ctx, a, at, 100, 50))
	require.NoError(t, st.Insert(ctx, b, at, 100, 10))
	require.NoError(t, st.Insert(ctx, c, at, 300, 5))
	require.NoError(t, st.UpdateChannels(ctx, a, tracking.Channels{100: 50, 200: 20}))
	require.NoError(t, st.UpdateLastSeen(ctx, b, at.Add(time.Hour)))
	require.NoError(t, st.Delete(ctx, c))
	require.NoError(t, st.Close())

	st, err = Open(cfg, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	recs, err := st.LoadTracked(ctx)
	require.NoError(t, err)
	sortRecords(recs)
	require.Len(t, recs, 2)

	assert.Equal(t, a, recs[0].Key)
	assert.True(t, at.Equal(recs[0].LastUpdate))
	assert.Equal(t, tracking.Channels{100: 50, 200: 20}, recs[0].Channels)

	assert.Equal(t, b, recs[1].Key)
	assert.True(t, at.Add(time.Hour).Equal(recs[1].LastUpdate))
	assert.Equal(t, tracking.Channels{100: 10}, recs[1].Channels)
}

func TestFileStoreRoundTrip(t *testing.T) {
	t.Parallel()
	exercise(t, Config{Driver: "file", Path: filepath.Join(t.TempDir(), "tracked.json")})
}

func TestFileStoreCompactsJournal(t *testing.T) {
	t.Parallel()
	exercise(t, Config{Driver: "file", Path: filepath.Join(t.TempDir(), "tracked.json"), CompactEvery: 2})
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	t.Parallel()
	exercise(t, Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "tracked.db")})
}

func TestOpenDisabledAndUnknown(t *testing.T) {
	t.Parallel()
	st, err := Open(Config{Driver: "none"}, logx.Nop())
	assert.NoError(t, err)
	assert.Nil(t, st)

	_, err = Open(Config{Driver: "mongo"}, logx.Nop())
	assert.Error(t, err)

	_, err = Open(Config{Driver: "file"}, logx.Nop())
	assert.Error(t, err)
}

func TestFileStoreWorksAsTrackerBackend(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cfg := Config{Driver: "file", Path: filepath.Join(t.TempDir(), "tracked.json")}
	st, err := Open(cfg, logx.Nop())
	require.NoError(t, err)

	tr := tracking.NewTracker(tracking.WithGateway(st))
	k := tracking.Key{UserID: 77, Mode: osu.ModeFruits}
	_, err = tr.Add(ctx, k, time.Unix(1000, 0), 42, 25)
	require.NoError(t, err)
	_, err = tr.Add(ctx, k, time.Unix(1000, 0), 43, 30)
	require.NoError(t, err)
	_, err = tr.RemoveUser(ctx, 77, nil, 42)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	st, err = Open(cfg, logx.Nop())
	require.NoError(t, err)
	defer st.Close()
	tr2 := tracking.NewTracker()
	n, err := tr2.Load(ctx, st)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	e, ok := tr2.Get(k)
	require.True(t, ok)
	assert.Equal(t, tracking.Channels{43: 30}, e.Channels)
}
