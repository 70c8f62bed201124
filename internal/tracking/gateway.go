package tracking

import (
	"context"
	"time"
)

// Gateway mirrors tracker mutations into durable storage.
//
// Calls happen after the in-memory change is done. A failing call is reported
// to the caller of the tracker operation; the in-memory change stays.
type Gateway interface {
	Insert(ctx context.Context, key Key, lastUpdate time.Time, channel ChannelID, limit uint8) error
	UpdateChannels(ctx context.Context, key Key, channels Channels) error
	UpdateLastSeen(ctx context.Context, key Key, lastUpdate time.Time) error
	Delete(ctx context.Context, key Key) error
}

// Loader returns every persisted tracked entity.
type Loader interface {
	LoadTracked(ctx context.Context) ([]Record, error)
}

type nopGateway struct{}

func (nopGateway) Insert(context.Context, Key, time.Time, ChannelID, uint8) error { return nil }
func (nopGateway) UpdateChannels(context.Context, Key, Channels) error            { return nil }
func (nopGateway) UpdateLastSeen(context.Context, Key, time.Time) error           { return nil }
func (nopGateway) Delete(context.Context, Key) error                              { return nil }
