package tracking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trackbot/internal/osu"
)

type gwCall struct {
	op       string
	key      Key
	channels Channels
	at       time.Time
}

type fakeGateway struct {
	mu    sync.Mutex
	calls []gwCall
	err   error
}

func (g *fakeGateway) record(c gwCall) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, c)
	return g.err
}

func (g *fakeGateway) Insert(_ context.Context, key Key, at time.Time, ch ChannelID, limit uint8) error {
	return g.record(gwCall{op: "insert", key: key, at: at, channels: Channels{ch: limit}})
}

func (g *fakeGateway) UpdateChannels(_ context.Context, key Key, chs Channels) error {
	return g.record(gwCall{op: "channels", key: key, channels: chs})
}

func (g *fakeGateway) UpdateLastSeen(_ context.Context, key Key, at time.Time) error {
	return g.record(gwCall{op: "last_seen", key: key, at: at})
}

func (g *fakeGateway) Delete(_ context.Context, key Key) error {
	return g.record(gwCall{op: "delete", key: key})
}

func (g *fakeGateway) ops() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, 0, len(g.calls))
	for _, c := range g.calls {
		out = append(out, c.op)
	}
	return out
}

type fakeLoader []Record

func (l fakeLoader) LoadTracked(context.Context) ([]Record, error) { return l, nil }

func newTestTracker(gw Gateway, opts ...Option) *Tracker {
	base := []Option{
		WithGateway(gw),
		WithInterval(time.Millisecond),
		WithIdleBackoff(time.Millisecond),
	}
	return NewTracker(append(base, opts...)...)
}

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func TestAddOutcomes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	gw := &fakeGateway{}
	tr := newTestTracker(gw)
	k := Key{UserID: 2, Mode: osu.ModeOsu}

	out, err := tr.Add(ctx, k, t0, 100, 50)
	require.NoError(t, err)
	assert.Equal(t, AddedNew, out)
	assert.Equal(t, []Listed{{Key: k, Limit: 50}}, tr.List(100))

	out, err = tr.Add(ctx, k, t0, 100, 50)
	require.NoError(t, err)
	assert.Equal(t, NotAdded, out)
	assert.Equal(t, []Listed{{Key: k, Limit: 50}}, tr.List(100))

	out, err = tr.Add(ctx, k, t0, 100, 10)
	require.NoError(t, err)
	assert.Equal(t, UpdatedLimit, out)
	assert.Equal(t, []Listed{{Key: k, Limit: 10}}, tr.List(100))

	out, err = tr.Add(ctx, k, t0, 200, 25)
	require.NoError(t, err)
	assert.Equal(t, Added, out)
	assert.Equal(t, []Listed{{Key: k, Limit: 25}}, tr.List(200))

	out, err = tr.Add(ctx, k, t0, 300, 0)
	require.NoError(t, err)
	assert.Equal(t, NotAdded, out)

	assert.Equal(t, []string{"insert", "channels", "channels"}, gw.ops())
	assert.Equal(t, 1, tr.queue.Len())
}

func TestRemoveLastChannelDeletesEntity(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	gw := &fakeGateway{}
	tr := newTestTracker(gw)
	k := Key{UserID: 5, Mode: osu.ModeTaiko}

	_, err := tr.Add(ctx, k, t0, 1, 10)
	require.NoError(t, err)

	res, err := tr.RemoveUser(ctx, 5, nil, 1)
	require.NoError(t, err)
	assert.Equal(t, []Removal{{Key: k, Untracked: true}}, res)
	assert.Empty(t, tr.List(1))
	_, ok := tr.Get(k)
	assert.False(t, ok)
	assert.False(t, tr.queue.contains(k))
	assert.Equal(t, []string{"insert", "delete"}, gw.ops())
}

func TestRemoveUserKeepsOtherChannels(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	gw := &fakeGateway{}
	tr := newTestTracker(gw)
	std := Key{UserID: 5, Mode: osu.ModeOsu}
	mania := Key{UserID: 5, Mode: osu.ModeMania}

	_, _ = tr.Add(ctx, std, t0, 1, 10)
	_, _ = tr.Add(ctx, std, t0, 2, 10)
	_, _ = tr.Add(ctx, mania, t0, 1, 10)

	mode := osu.ModeOsu
	res, err := tr.RemoveUser(ctx, 5, &mode, 1)
	require.NoError(t, err)
	assert.Equal(t, []Removal{{Key: std, Untracked: false}}, res)

	assert.Equal(t, []Listed{{Key: mania, Limit: 10}}, tr.List(1))
	assert.Equal(t, []Listed{{Key: std, Limit: 10}}, tr.List(2))

	// Removing a subscription that does not exist is an empty result.
	res, err = tr.RemoveUser(ctx, 99, nil, 1)
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestRemoveChannel(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tr := newTestTracker(&fakeGateway{})
	shared := Key{UserID: 1, Mode: osu.ModeOsu}
	only := Key{UserID: 2, Mode: osu.ModeFruits}
	other := Key{UserID: 3, Mode: osu.ModeOsu}

	_, _ = tr.Add(ctx, shared, t0, 10, 5)
	_, _ = tr.Add(ctx, shared, t0, 20, 5)
	_, _ = tr.Add(ctx, only, t0, 10, 5)
	_, _ = tr.Add(ctx, other, t0, 20, 5)

	n, err := tr.RemoveChannel(ctx, 10, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Empty(t, tr.List(10))

	_, ok := tr.Get(only)
	assert.False(t, ok)
	assert.Equal(t, []Listed{{Key: shared, Limit: 5}, {Key: other, Limit: 5}}, tr.List(20))
	assert.Equal(t, 2, tr.queue.Len())
}

func TestRemoveChannelModeFilter(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tr := newTestTracker(&fakeGateway{})
	std := Key{UserID: 1, Mode: osu.ModeOsu}
	taiko := Key{UserID: 1, Mode: osu.ModeTaiko}
	_, _ = tr.Add(ctx, std, t0, 10, 5)
	_, _ = tr.Add(ctx, taiko, t0, 10, 5)

	mode := osu.ModeTaiko
	n, err := tr.RemoveChannel(ctx, 10, &mode)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []Listed{{Key: std, Limit: 5}}, tr.List(10))
}

func TestRemoveUserAll(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	gw := &fakeGateway{}
	tr := newTestTracker(gw)
	_, _ = tr.Add(ctx, Key{UserID: 1, Mode: osu.ModeOsu}, t0, 10, 5)
	_, _ = tr.Add(ctx, Key{UserID: 1, Mode: osu.ModeMania}, t0, 20, 5)
	_, _ = tr.Add(ctx, Key{UserID: 2, Mode: osu.ModeOsu}, t0, 10, 5)

	modes, err := tr.RemoveUserAll(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []osu.Mode{osu.ModeOsu, osu.ModeMania}, modes)
	assert.Equal(t, 1, tr.Stats().Entities)
	assert.Equal(t, 1, tr.queue.Len())
}

func TestPopRoundRobin(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tr := newTestTracker(&fakeGateway{})
	a := Key{UserID: 1}
	b := Key{UserID: 2}
	c := Key{UserID: 3}
	for _, k := range []Key{a, b, c} {
		_, err := tr.Add(ctx, k, t0, 1, 10)
		require.NoError(t, err)
	}

	var got []Key
	for i := 0; i < 4; i++ {
		k, limit, ok := tr.Pop(ctx)
		require.True(t, ok)
		assert.Equal(t, uint8(10), limit)
		got = append(got, k)
		require.True(t, tr.Reset(k))
	}
	assert.Equal(t, []Key{a, b, c, a}, got)
}

func TestPopWithoutResetReturnsSameKey(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tr := newTestTracker(&fakeGateway{})
	a, b := Key{UserID: 1}, Key{UserID: 2}
	_, _ = tr.Add(ctx, a, t0, 1, 10)
	_, _ = tr.Add(ctx, b, t0, 1, 10)

	k1, _, _ := tr.Pop(ctx)
	k2, _, _ := tr.Pop(ctx)
	assert.Equal(t, a, k1)
	assert.Equal(t, a, k2)
}

func TestPopReturnsMaxLimit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tr := newTestTracker(&fakeGateway{})
	k := Key{UserID: 1}
	_, _ = tr.Add(ctx, k, t0, 1, 10)
	_, _ = tr.Add(ctx, k, t0, 2, 80)
	_, _ = tr.Add(ctx, k, t0, 3, 30)

	got, limit, ok := tr.Pop(ctx)
	require.True(t, ok)
	assert.Equal(t, k, got)
	assert.Equal(t, uint8(80), limit)
}

func TestPopEmptyAndPaused(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tr := newTestTracker(&fakeGateway{})

	_, _, ok := tr.Pop(ctx)
	assert.False(t, ok)

	_, _ = tr.Add(ctx, Key{UserID: 1}, t0, 1, 10)
	tr.SetPaused(true)
	for i := 0; i < 3; i++ {
		_, _, ok = tr.Pop(ctx)
		assert.False(t, ok)
	}

	assert.False(t, tr.TogglePaused())
	_, _, ok = tr.Pop(ctx)
	assert.True(t, ok)
}

func TestPopHonorsContext(t *testing.T) {
	t.Parallel()
	tr := NewTracker(WithInterval(time.Hour))
	_, _ = tr.Add(context.Background(), Key{UserID: 1}, t0, 1, 10)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, _, ok := tr.Pop(ctx)
	assert.False(t, ok)
	assert.Less(t, time.Since(start), time.Second)
}

func TestUpdateLastDateIsMonotonic(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	gw := &fakeGateway{}
	tr := newTestTracker(gw)
	k := Key{UserID: 1}
	_, _ = tr.Add(ctx, k, t0, 1, 10)

	changed, err := tr.UpdateLastDate(ctx, k, t0)
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = tr.UpdateLastDate(ctx, k, t0.Add(-time.Hour))
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = tr.UpdateLastDate(ctx, k, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, changed)

	e, _ := tr.Get(k)
	assert.Equal(t, t0.Add(time.Hour), e.LastUpdate)
	assert.Equal(t, []string{"insert", "last_seen"}, gw.ops())

	changed, err = tr.UpdateLastDate(ctx, Key{UserID: 42}, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestPersistenceFailureKeepsMemoryState(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	gw := &fakeGateway{err: errors.New("db down")}
	tr := newTestTracker(gw)
	k := Key{UserID: 1}

	out, err := tr.Add(ctx, k, t0, 1, 10)
	require.Error(t, err)
	assert.Equal(t, AddedNew, out)
	assert.Equal(t, []Listed{{Key: k, Limit: 10}}, tr.List(1))

	got, _, ok := tr.Pop(ctx)
	require.True(t, ok)
	assert.Equal(t, k, got)

	changed, err := tr.UpdateLastDate(ctx, k, t0.Add(time.Minute))
	require.Error(t, err)
	assert.True(t, changed)

	res, err := tr.RemoveUser(ctx, 1, nil, 1)
	require.Error(t, err)
	assert.Len(t, res, 1)
	_, ok = tr.Get(k)
	assert.False(t, ok)
}

func TestConcurrentAddsDistinctKeys(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tr := newTestTracker(&fakeGateway{})
	const n = 100

	var wg sync.WaitGroup
	outcomes := make([]AddOutcome, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := tr.Add(ctx, Key{UserID: uint32(i)}, t0, 7, 10)
			assert.NoError(t, err)
			outcomes[i] = out
		}(i)
	}
	wg.Wait()

	for _, out := range outcomes {
		assert.Equal(t, AddedNew, out)
	}
	assert.Len(t, tr.List(7), n)
	st := tr.Stats()
	assert.Equal(t, n, st.Entities)
	assert.Equal(t, n, st.Queued)
}

func TestConcurrentMutationKeepsStoreAndQueueInSync(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tr := newTestTracker(&fakeGateway{})

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				k := Key{UserID: uint32(i % 20), Mode: osu.Modes[i%4]}
				ch := ChannelID(w % 3)
				switch i % 3 {
				case 0:
					_, _ = tr.Add(ctx, k, t0, ch, uint8(i%100+1))
				case 1:
					_, _ = tr.RemoveUser(ctx, k.UserID, &k.Mode, ch)
				default:
					tr.Reset(k)
				}
			}
		}(w)
	}
	wg.Wait()

	st := tr.Stats()
	assert.Equal(t, st.Entities, st.Queued)
	tr.store.ForEach(func(k Key, e *Entity) bool {
		assert.NotEmpty(t, e.Channels)
		assert.True(t, tr.queue.contains(k))
		return true
	})
}

func TestStatsPacing(t *testing.T) {
	t.Parallel()
	now := t0
	tr := NewTracker(WithInterval(100*time.Second), WithClock(func() time.Time { return now }))
	for i := 0; i < 4; i++ {
		_, _ = tr.Add(context.Background(), Key{UserID: uint32(i + 1)}, t0, 1, 10)
	}

	st := tr.Stats()
	assert.True(t, st.HasNextDue)
	assert.Equal(t, Key{UserID: 1}, st.NextDue)
	assert.Equal(t, 4, st.Queued)
	assert.Equal(t, 100*time.Second, st.Remaining)
	assert.Equal(t, 25*time.Second, st.PerPop)

	now = t0.Add(60 * time.Second)
	st = tr.Stats()
	assert.Equal(t, 40*time.Second, st.Remaining)
	assert.Equal(t, 10*time.Second, st.PerPop)

	now = t0.Add(200 * time.Second)
	st = tr.Stats()
	assert.Equal(t, time.Duration(0), st.PerPop)

	tr.SetInterval(time.Hour)
	assert.Equal(t, time.Hour, tr.Stats().Interval)
	tr.SetInterval(0)
	assert.Equal(t, time.Hour, tr.Interval())
}

func TestLoad(t *testing.T) {
	t.Parallel()
	tr := newTestTracker(nil)
	recs := fakeLoader{
		{Key: Key{UserID: 3}, LastUpdate: t0, Channels: Channels{1: 5}},
		{Key: Key{UserID: 1}, LastUpdate: t0, Channels: Channels{1: 9, 2: 3}},
		{Key: Key{UserID: 2}, LastUpdate: t0},
	}
	n, err := tr.Load(context.Background(), recs)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, tr.queue.Len())

	k, limit, ok := tr.Pop(context.Background())
	require.True(t, ok)
	assert.Equal(t, Key{UserID: 1}, k)
	assert.Equal(t, uint8(9), limit)
}

// blockingDeleteGateway parks Delete until release is closed.
type blockingDeleteGateway struct {
	fakeGateway
	entered chan struct{}
	release chan struct{}
}

func (g *blockingDeleteGateway) Delete(ctx context.Context, key Key) error {
	close(g.entered)
	<-g.release
	return g.fakeGateway.Delete(ctx, key)
}

func TestPersistOrderFollowsMemoryOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	gw := &blockingDeleteGateway{entered: make(chan struct{}), release: make(chan struct{})}
	tr := newTestTracker(gw)
	k := Key{UserID: 8, Mode: osu.ModeOsu}

	_, err := tr.Add(ctx, k, t0, 1, 10)
	require.NoError(t, err)

	removed := make(chan error, 1)
	go func() {
		_, err := tr.RemoveUser(ctx, 8, nil, 1)
		removed <- err
	}()
	<-gw.entered

	added := make(chan AddOutcome, 1)
	go func() {
		out, err := tr.Add(ctx, k, t0, 2, 20)
		assert.NoError(t, err)
		added <- out
	}()

	// Add must wait for the pending delete to reach storage.
	select {
	case <-added:
		t.Fatal("add completed while the delete of the same key was in flight")
	case <-time.After(50 * time.Millisecond):
	}
	close(gw.release)

	require.NoError(t, <-removed)
	assert.Equal(t, AddedNew, <-added)
	assert.Equal(t, []string{"insert", "delete", "insert"}, gw.ops())
	_, ok := tr.Get(k)
	assert.True(t, ok)
}
