package tracking

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trackbot/internal/osu"
)

func TestStoreUpsertModifyRemove(t *testing.T) {
	t.Parallel()
	s := NewStore()
	k := Key{UserID: 7, Mode: osu.ModeMania}
	at := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	s.Upsert(k, func() Entity {
		return Entity{Channels: Channels{1: 10}, LastUpdate: at}
	}, func(e *Entity, created bool) {
		assert.True(t, created)
	})
	s.Upsert(k, func() Entity {
		t.Fatal("create must not run for an existing key")
		return Entity{}
	}, func(e *Entity, created bool) {
		assert.False(t, created)
		e.Channels[2] = 20
	})

	e, ok := s.Get(k)
	require.True(t, ok)
	assert.Equal(t, Channels{1: 10, 2: 20}, e.Channels)

	// Get returns a copy.
	e.Channels[3] = 30
	e2, _ := s.Get(k)
	assert.Len(t, e2.Channels, 2)

	assert.True(t, s.Modify(k, func(e *Entity) bool { return true }))
	_, ok = s.Get(k)
	assert.False(t, ok)
	assert.False(t, s.Modify(k, func(e *Entity) bool { return false }))
	assert.False(t, s.Remove(k))
}

func TestStoreForEachStopsEarly(t *testing.T) {
	t.Parallel()
	s := NewStore()
	for i := uint32(1); i <= 100; i++ {
		s.Upsert(Key{UserID: i}, func() Entity { return Entity{Channels: Channels{1: 1}} }, nil)
	}
	require.Equal(t, 100, s.Len())

	seen := 0
	s.ForEach(func(Key, *Entity) bool {
		seen++
		return seen < 5
	})
	assert.Equal(t, 5, seen)
}

func TestStoreConcurrentDistinctKeys(t *testing.T) {
	t.Parallel()
	s := NewStore()
	const n = 200
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id uint32) {
			defer wg.Done()
			k := Key{UserID: id}
			s.Upsert(k, func() Entity { return Entity{Channels: Channels{ChannelID(id): 1}} }, nil)
			s.Modify(k, func(e *Entity) bool {
				e.Channels[ChannelID(id)] = 2
				return false
			})
		}(uint32(i))
	}
	// Concurrent scans must never see a partially written entry.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			s.ForEach(func(k Key, e *Entity) bool {
				assert.Len(t, e.Channels, 1)
				return true
			})
		}
	}()
	wg.Wait()

	assert.Equal(t, n, s.Len())
	for i := 0; i < n; i++ {
		e, ok := s.Get(Key{UserID: uint32(i)})
		require.True(t, ok)
		assert.Equal(t, uint8(2), e.Channels[ChannelID(i)])
	}
}
