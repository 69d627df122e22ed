package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"tablecast/internal/table"

	_ "modernc.org/sqlite"
)

// SQLite persists documents in a local database file. Changes are
// appended to a log table in the same transaction as the document
// write; streams are woken by the in-process notify hub and fall back
// to a slow poll.
type SQLite struct {
	db  *sql.DB
	hub *notifyHub
}

// NewSQLite opens (and if needed creates) the database at dbPath.
// ":memory:" is accepted for tests.
func NewSQLite(dbPath string) (*SQLite, error) {
	dbPath = strings.TrimSpace(dbPath)
	if dbPath == "" {
		return nil, fmt.Errorf("empty sqlite database path")
	}
	if dbPath != ":memory:" {
		parent := filepath.Dir(dbPath)
		if parent != "" && parent != "." {
			if err := os.MkdirAll(parent, 0o755); err != nil {
				return nil, err
			}
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, pragma := range []string{
		`PRAGMA busy_timeout = 5000;`,
		`PRAGMA journal_mode = WAL;`,
		`PRAGMA foreign_keys = ON;`,
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := ensureSQLiteSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLite{db: db, hub: newNotifyHub()}, nil
}

func ensureSQLiteSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tables (
    id            TEXT PRIMARY KEY,
    doc           TEXT NOT NULL,
    updated_at_ms INTEGER NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS table_changes (
    seq           INTEGER PRIMARY KEY AUTOINCREMENT,
    op            TEXT NOT NULL,
    table_id      TEXT NOT NULL,
    doc           TEXT,
    created_at_ms INTEGER NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_table_changes_table ON table_changes (table_id)`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLite) Get(ctx context.Context, id string) (*table.Table, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM tables WHERE id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return table.Decode([]byte(raw))
}

func (s *SQLite) FindOpen(ctx context.Context) (*table.Table, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `
SELECT doc FROM tables
WHERE json_extract(doc, '$.seats_available') >= 1
ORDER BY id
LIMIT 1`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return table.Decode([]byte(raw))
}

func (s *SQLite) Insert(ctx context.Context, t *table.Table) error {
	raw, err := table.Encode(t)
	if err != nil {
		return err
	}
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM tables WHERE id = ?`, t.ID).Scan(&exists); err != nil {
			return err
		}
		if exists > 0 {
			return ErrDuplicate
		}
		nowMs := time.Now().UTC().UnixMilli()
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO tables (id, doc, updated_at_ms) VALUES (?, ?, ?)`,
			t.ID, string(raw), nowMs); err != nil {
			return err
		}
		return appendSQLiteChange(ctx, tx, OpInsert, t.ID, raw, nowMs)
	})
	if err != nil {
		return err
	}
	s.hub.Signal()
	return nil
}

func (s *SQLite) ReplaceIf(ctx context.Context, observed, next *table.Table) error {
	raw, err := table.Encode(next)
	if err != nil {
		return err
	}
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		var cur string
		err := tx.QueryRowContext(ctx,
			`SELECT doc FROM tables WHERE id = ?`, observed.ID).Scan(&cur)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrConflict
		}
		if err != nil {
			return err
		}
		if !sameDoc([]byte(cur), observed) {
			return ErrConflict
		}
		nowMs := time.Now().UTC().UnixMilli()
		if _, err := tx.ExecContext(ctx,
			`UPDATE tables SET doc = ?, updated_at_ms = ? WHERE id = ?`,
			string(raw), nowMs, next.ID); err != nil {
			return err
		}
		return appendSQLiteChange(ctx, tx, OpReplace, next.ID, raw, nowMs)
	})
	if err != nil {
		return err
	}
	s.hub.Signal()
	return nil
}

func (s *SQLite) SetPlayerName(ctx context.Context, tableID, playerID, name string) error {
	changed := false
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var cur string
		err := tx.QueryRowContext(ctx,
			`SELECT doc FROM tables WHERE id = ?`, tableID).Scan(&cur)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		t, err := table.Decode([]byte(cur))
		if err != nil {
			return err
		}
		p := t.PlayerByID(playerID)
		if p == nil {
			return nil
		}
		p.Name = name
		raw, err := table.Encode(t)
		if err != nil {
			return err
		}
		nowMs := time.Now().UTC().UnixMilli()
		if _, err := tx.ExecContext(ctx,
			`UPDATE tables SET doc = ?, updated_at_ms = ? WHERE id = ?`,
			string(raw), nowMs, tableID); err != nil {
			return err
		}
		changed = true
		return appendSQLiteChange(ctx, tx, OpUpdate, tableID, nil, nowMs)
	})
	if err != nil {
		return err
	}
	if changed {
		s.hub.Signal()
	}
	return nil
}

func (s *SQLite) RemovePlayer(ctx context.Context, playerID string) error {
	changed := false
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT id, doc FROM tables`)
		if err != nil {
			return err
		}
		type pending struct {
			id  string
			raw []byte
		}
		var updates []pending
		for rows.Next() {
			var id, cur string
			if err := rows.Scan(&id, &cur); err != nil {
				rows.Close()
				return err
			}
			t, err := table.Decode([]byte(cur))
			if err != nil || !t.Seated(playerID) {
				continue
			}
			kept := make([]table.Player, 0, len(t.Players)-1)
			for _, p := range t.Players {
				if p.ID != playerID {
					kept = append(kept, p)
				}
			}
			t.Players = kept
			t.SeatsAvailable++
			raw, err := table.Encode(t)
			if err != nil {
				rows.Close()
				return err
			}
			updates = append(updates, pending{id: id, raw: raw})
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		nowMs := time.Now().UTC().UnixMilli()
		for _, u := range updates {
			if _, err := tx.ExecContext(ctx,
				`UPDATE tables SET doc = ?, updated_at_ms = ? WHERE id = ?`,
				string(u.raw), nowMs, u.id); err != nil {
				return err
			}
			if err := appendSQLiteChange(ctx, tx, OpUpdate, u.id, nil, nowMs); err != nil {
				return err
			}
			changed = true
		}
		return nil
	})
	if err != nil {
		return err
	}
	if changed {
		s.hub.Signal()
	}
	return nil
}

func appendSQLiteChange(ctx context.Context, tx *sql.Tx, op Op, tableID string, doc []byte, nowMs int64) error {
	var docVal any
	if doc != nil {
		docVal = string(doc)
	}
	_, err := tx.ExecContext(ctx, `
INSERT INTO table_changes (op, table_id, doc, created_at_ms)
VALUES (?, ?, ?, ?)`, string(op), tableID, docVal, nowMs)
	return err
}

func (s *SQLite) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
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

func (s *SQLite) Watch(ctx context.Context) (ChangeStream, error) {
	var pos uint64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM table_changes`).Scan(&pos); err != nil {
		return nil, err
	}
	return s.streamFrom(pos), nil
}

func (s *SQLite) WatchFrom(ctx context.Context, token ResumeToken) (ChangeStream, error) {
	pos, err := seqFromToken(token)
	if err != nil {
		return nil, err
	}
	return s.streamFrom(pos), nil
}

func (s *SQLite) streamFrom(pos uint64) *sqliteStream {
	return &sqliteStream{store: s, pos: pos, done: make(chan struct{})}
}

type sqliteStream struct {
	store *SQLite
	pos   uint64

	closeOnce sync.Once
	done      chan struct{}
}

// pollInterval is the safety-net poll for changes that raced a missed
// wakeup.
const sqlitePollInterval = 5 * time.Second

func (st *sqliteStream) Next(ctx context.Context) (Change, error) {
	wake, cancel := st.store.hub.Subscribe()
	defer cancel()

	ticker := time.NewTicker(sqlitePollInterval)
	defer ticker.Stop()

	for {
		c, ok, err := st.poll(ctx)
		if err != nil {
			return Change{}, err
		}
		if ok {
			return c, nil
		}
		select {
		case <-ctx.Done():
			return Change{}, ctx.Err()
		case <-st.done:
			return Change{}, ErrStreamClosed
		case <-wake:
		case <-ticker.C:
		}
	}
}

func (st *sqliteStream) poll(ctx context.Context) (Change, bool, error) {
	var (
		seq uint64
		op  string
		id  string
		doc sql.NullString
	)
	err := st.store.db.QueryRowContext(ctx, `
SELECT seq, op, table_id, doc FROM table_changes
WHERE seq > ?
ORDER BY seq
LIMIT 1`, st.pos).Scan(&seq, &op, &id, &doc)
	if errors.Is(err, sql.ErrNoRows) {
		return Change{}, false, nil
	}
	if err != nil {
		return Change{}, false, err
	}
	c := Change{Op: Op(op), TableID: id, Token: tokenFromSeq(seq)}
	if doc.Valid {
		if t, derr := table.Decode([]byte(doc.String)); derr == nil {
			c.Table = t
		}
	}
	st.pos = seq
	return c, true, nil
}

func (st *sqliteStream) Close() error {
	st.closeOnce.Do(func() { close(st.done) })
	return nil
}
