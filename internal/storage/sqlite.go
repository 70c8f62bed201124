package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"trackbot/internal/osu"
	"trackbot/internal/tracking"
	logx "trackbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) tx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) Insert(ctx context.Context, key tracking.Key, lastUpdate time.Time, channel tracking.ChannelID, limit uint8) error {
	return s.tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO tracked(user_id, mode, last_update) VALUES(?,?,?)
			 ON CONFLICT(user_id, mode) DO UPDATE SET last_update=excluded.last_update`,
			key.UserID, uint8(key.Mode), lastUpdate.UnixMilli(),
		); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM subscriptions WHERE user_id = ? AND mode = ?`, key.UserID, uint8(key.Mode),
		); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO subscriptions(user_id, mode, chat_id, lim) VALUES(?,?,?,?)`,
			key.UserID, uint8(key.Mode), int64(channel), limit,
		)
		return err
	})
}

func (s *sqliteStore) UpdateChannels(ctx context.Context, key tracking.Key, channels tracking.Channels) error {
	return s.tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO tracked(user_id, mode, last_update) VALUES(?,?,0)
			 ON CONFLICT(user_id, mode) DO NOTHING`,
			key.UserID, uint8(key.Mode),
		); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM subscriptions WHERE user_id = ? AND mode = ?`, key.UserID, uint8(key.Mode),
		); err != nil {
			return err
		}
		for ch, limit := range channels {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO subscriptions(user_id, mode, chat_id, lim) VALUES(?,?,?,?)`,
				key.UserID, uint8(key.Mode), int64(ch), limit,
			); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *sqliteStore) UpdateLastSeen(ctx context.Context, key tracking.Key, lastUpdate time.Time) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE tracked SET last_update = ? WHERE user_id = ? AND mode = ?`,
		lastUpdate.UnixMilli(), key.UserID, uint8(key.Mode),
	)
	return err
}

func (s *sqliteStore) Delete(ctx context.Context, key tracking.Key) error {
	return s.tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM subscriptions WHERE user_id = ? AND mode = ?`, key.UserID, uint8(key.Mode),
		); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`DELETE FROM tracked WHERE user_id = ? AND mode = ?`, key.UserID, uint8(key.Mode),
		)
		return err
	})
}

func (s *sqliteStore) LoadTracked(ctx context.Context) ([]tracking.Record, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT t.user_id, t.mode, t.last_update, s.chat_id, s.lim
		 FROM tracked t JOIN subscriptions s ON s.user_id = t.user_id AND s.mode = t.mode
		 ORDER BY t.user_id, t.mode`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byKey := map[tracking.Key]*tracking.Record{}
	var order []tracking.Key
	for rows.Next() {
		var (
			userID     uint32
			mode       uint8
			lastUpdate int64
			chatID     int64
			limit      uint8
		)
		if err := rows.Scan(&userID, &mode, &lastUpdate, &chatID, &limit); err != nil {
			return nil, err
		}
		if !osu.Mode(mode).Valid() {
			s.log.Warn("skipping row with unknown mode", logx.Int("mode", int(mode)))
			continue
		}
		k := tracking.Key{UserID: userID, Mode: osu.Mode(mode)}
		r := byKey[k]
		if r == nil {
			r = &tracking.Record{Key: k, LastUpdate: time.UnixMilli(lastUpdate).UTC(), Channels: tracking.Channels{}}
			byKey[k] = r
			order = append(order, k)
		}
		r.Channels[tracking.ChannelID(chatID)] = limit
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out := make([]tracking.Record, 0, len(order))
	for _, k := range order {
		out = append(out, *byKey[k])
	}
	return out, nil
}
