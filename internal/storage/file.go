package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"trackbot/internal/osu"
	"trackbot/internal/tracking"
	logx "trackbot/pkg/logx"
)

// fileStore keeps every record in memory and mirrors changes to disk.
//
// Files:
//   - <prefix>.snapshot.json (full state, rewritten on compaction)
//   - <prefix>.journal.jsonl (append-only operations since the snapshot)
type fileStore struct {
	log logx.Logger

	mu           sync.Mutex
	snapshotPath string
	journal      *os.File
	records      map[tracking.Key]*fileRecord
	writes       int
	compactEvery int
}

type fileRecord struct {
	UserID     uint32          `json:"user_id"`
	Mode       string          `json:"mode"`
	LastUpdate time.Time       `json:"last_update"`
	Channels   map[int64]uint8 `json:"channels"`
}

type journalOp struct {
	Op         string          `json:"op"`
	UserID     uint32          `json:"user_id"`
	Mode       string          `json:"mode"`
	LastUpdate time.Time       `json:"last_update,omitempty"`
	Channels   map[int64]uint8 `json:"channels,omitempty"`
}

const (
	opInsert   = "insert"
	opChannels = "channels"
	opLastSeen = "last_seen"
	opDelete   = "delete"
)

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:          log,
		snapshotPath: prefix + ".snapshot.json",
		records:      map[tracking.Key]*fileRecord{},
		compactEvery: cfg.CompactEvery,
	}
	if s.compactEvery <= 0 {
		s.compactEvery = 500
	}
	if err := s.loadSnapshot(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	journalPath := prefix + ".journal.jsonl"
	replayed, err := s.replay(journalPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("replay journal: %w", err)
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	s.journal = jf
	if replayed > 0 {
		s.mu.Lock()
		err := s.compactLocked()
		s.mu.Unlock()
		if err != nil {
			log.Warn("journal compaction failed", logx.Err(err))
		}
	}
	log.Debug("file store opened", logx.String("path", prefix), logx.Int("records", len(s.records)))
	return s, nil
}

func (s *fileStore) loadSnapshot() error {
	b, err := os.ReadFile(s.snapshotPath)
	if err != nil {
		return err
	}
	var recs []fileRecord
	if err := json.Unmarshal(b, &recs); err != nil {
		return err
	}
	for i := range recs {
		r := recs[i]
		k, err := recordKey(r.UserID, r.Mode)
		if err != nil {
			s.log.Warn("skipping snapshot record", logx.Err(err))
			continue
		}
		s.records[k] = &r
	}
	return nil
}

// replay applies journal operations on top of the snapshot. A torn last line
// is ignored.
func (s *fileStore) replay(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	n := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var op journalOp
		if err := json.Unmarshal(sc.Bytes(), &op); err != nil {
			continue
		}
		if err := s.apply(op); err != nil {
			s.log.Warn("skipping journal op", logx.String("op", op.Op), logx.Err(err))
			continue
		}
		n++
	}
	return n, sc.Err()
}

func recordKey(userID uint32, mode string) (tracking.Key, error) {
	m, err := osu.ParseMode(mode)
	if err != nil {
		return tracking.Key{}, err
	}
	return tracking.Key{UserID: userID, Mode: m}, nil
}

func (s *fileStore) apply(op journalOp) error {
	k, err := recordKey(op.UserID, op.Mode)
	if err != nil {
		return err
	}
	switch op.Op {
	case opInsert:
		s.records[k] = &fileRecord{UserID: op.UserID, Mode: op.Mode, LastUpdate: op.LastUpdate, Channels: op.Channels}
	case opChannels:
		r := s.records[k]
		if r == nil {
			r = &fileRecord{UserID: op.UserID, Mode: op.Mode}
			s.records[k] = r
		}
		r.Channels = op.Channels
	case opLastSeen:
		if r := s.records[k]; r != nil {
			r.LastUpdate = op.LastUpdate
		}
	case opDelete:
		delete(s.records, k)
	default:
		return fmt.Errorf("unknown op %q", op.Op)
	}
	return nil
}

func (s *fileStore) write(ctx context.Context, op journalOp) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return errors.New("file store closed")
	}
	if err := s.apply(op); err != nil {
		return err
	}
	if err := json.NewEncoder(s.journal).Encode(op); err != nil {
		return err
	}
	s.writes++
	if s.writes%s.compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Warn("journal compaction failed", logx.Err(err))
		}
	}
	return nil
}

func channelsJSON(c tracking.Channels) map[int64]uint8 {
	out := make(map[int64]uint8, len(c))
	for ch, limit := range c {
		out[int64(ch)] = limit
	}
	return out
}

func (s *fileStore) Insert(ctx context.Context, key tracking.Key, lastUpdate time.Time, channel tracking.ChannelID, limit uint8) error {
	return s.write(ctx, journalOp{
		Op:         opInsert,
		UserID:     key.UserID,
		Mode:       key.Mode.String(),
		LastUpdate: lastUpdate.UTC(),
		Channels:   map[int64]uint8{int64(channel): limit},
	})
}

func (s *fileStore) UpdateChannels(ctx context.Context, key tracking.Key, channels tracking.Channels) error {
	return s.write(ctx, journalOp{Op: opChannels, UserID: key.UserID, Mode: key.Mode.String(), Channels: channelsJSON(channels)})
}

func (s *fileStore) UpdateLastSeen(ctx context.Context, key tracking.Key, lastUpdate time.Time) error {
	return s.write(ctx, journalOp{Op: opLastSeen, UserID: key.UserID, Mode: key.Mode.String(), LastUpdate: lastUpdate.UTC()})
}

func (s *fileStore) Delete(ctx context.Context, key tracking.Key) error {
	return s.write(ctx, journalOp{Op: opDelete, UserID: key.UserID, Mode: key.Mode.String()})
}

func (s *fileStore) LoadTracked(ctx context.Context) ([]tracking.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]tracking.Record, 0, len(s.records))
	for k, r := range s.records {
		chs := make(tracking.Channels, len(r.Channels))
		for ch, limit := range r.Channels {
			chs[tracking.ChannelID(ch)] = limit
		}
		out = append(out, tracking.Record{Key: k, LastUpdate: r.LastUpdate, Channels: chs})
	}
	return out, nil
}

// compactLocked writes the snapshot atomically and truncates the journal.
func (s *fileStore) compactLocked() error {
	recs := make([]fileRecord, 0, len(s.records))
	for _, r := range s.records {
		recs = append(recs, *r)
	}
	b, err := json.Marshal(recs)
	if err != nil {
		return err
	}
	tmp := s.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, io.SeekEnd)
	return err
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	err := s.compactLocked()
	if cerr := s.journal.Close(); err == nil {
		err = cerr
	}
	s.journal = nil
	return err
}
