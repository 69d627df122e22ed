package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"tablecast/internal/table"

	"github.com/lib/pq"
)

const pgChangeChannel = "table_changes"

// Postgres persists documents in a jsonb column. Change streams are
// woken by LISTEN/NOTIFY, so the feed also sees writes from other
// processes sharing the database.
type Postgres struct {
	db  *sql.DB
	dsn string
}

// NewPostgres connects and ensures the schema.
func NewPostgres(dsn string) (*Postgres, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("empty postgres dsn")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := ensurePostgresSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Postgres{db: db, dsn: dsn}, nil
}

func ensurePostgresSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tables (
    id         TEXT PRIMARY KEY,
    doc        JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`CREATE TABLE IF NOT EXISTS table_changes (
    seq        BIGSERIAL PRIMARY KEY,
    op         TEXT NOT NULL,
    table_id   TEXT NOT NULL,
    doc        JSONB,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
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

func (s *Postgres) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Postgres) Get(ctx context.Context, id string) (*table.Table, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT doc::text FROM tables WHERE id = $1`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return table.Decode([]byte(raw))
}

func (s *Postgres) FindOpen(ctx context.Context) (*table.Table, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `
SELECT doc::text FROM tables
WHERE (doc->>'seats_available')::int >= 1
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

func (s *Postgres) Insert(ctx context.Context, t *table.Table) error {
	raw, err := table.Encode(t)
	if err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO tables (id, doc) VALUES ($1, $2::jsonb)`,
			t.ID, string(raw)); err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == "23505" {
				return ErrDuplicate
			}
			return err
		}
		return appendPostgresChange(ctx, tx, OpInsert, t.ID, raw)
	})
}

func (s *Postgres) ReplaceIf(ctx context.Context, observed, next *table.Table) error {
	raw, err := table.Encode(next)
	if err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var cur string
		err := tx.QueryRowContext(ctx,
			`SELECT doc::text FROM tables WHERE id = $1 FOR UPDATE`, observed.ID).Scan(&cur)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrConflict
		}
		if err != nil {
			return err
		}
		if !sameDoc([]byte(cur), observed) {
			return ErrConflict
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE tables SET doc = $1::jsonb, updated_at = now() WHERE id = $2`,
			string(raw), next.ID); err != nil {
			return err
		}
		return appendPostgresChange(ctx, tx, OpReplace, next.ID, raw)
	})
}

func (s *Postgres) SetPlayerName(ctx context.Context, tableID, playerID, name string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var cur string
		err := tx.QueryRowContext(ctx,
			`SELECT doc::text FROM tables WHERE id = $1 FOR UPDATE`, tableID).Scan(&cur)
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
		if _, err := tx.ExecContext(ctx,
			`UPDATE tables SET doc = $1::jsonb, updated_at = now() WHERE id = $2`,
			string(raw), tableID); err != nil {
			return err
		}
		return appendPostgresChange(ctx, tx, OpUpdate, tableID, nil)
	})
}

func (s *Postgres) RemovePlayer(ctx context.Context, playerID string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
SELECT id, doc::text FROM tables
WHERE doc->'players' @> jsonb_build_array(jsonb_build_object('id', $1::text))
FOR UPDATE`, playerID)
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
		for _, u := range updates {
			if _, err := tx.ExecContext(ctx,
				`UPDATE tables SET doc = $1::jsonb, updated_at = now() WHERE id = $2`,
				string(u.raw), u.id); err != nil {
				return err
			}
			if err := appendPostgresChange(ctx, tx, OpUpdate, u.id, nil); err != nil {
				return err
			}
		}
		return nil
	})
}

// appendPostgresChange logs the change and notifies listeners; the
// NOTIFY is delivered on commit, so no listener wakes for a rolled
// back write.
func appendPostgresChange(ctx context.Context, tx *sql.Tx, op Op, tableID string, doc []byte) error {
	var docVal any
	if doc != nil {
		docVal = string(doc)
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO table_changes (op, table_id, doc)
VALUES ($1, $2, $3::jsonb)`, string(op), tableID, docVal); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, pgChangeChannel, tableID)
	return err
}

func (s *Postgres) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
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

func (s *Postgres) Watch(ctx context.Context) (ChangeStream, error) {
	var pos uint64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM table_changes`).Scan(&pos); err != nil {
		return nil, err
	}
	return s.streamFrom(pos)
}

func (s *Postgres) WatchFrom(ctx context.Context, token ResumeToken) (ChangeStream, error) {
	pos, err := seqFromToken(token)
	if err != nil {
		return nil, err
	}
	return s.streamFrom(pos)
}

func (s *Postgres) streamFrom(pos uint64) (*postgresStream, error) {
	listener := pq.NewListener(s.dsn, 10*time.Second, time.Minute, nil)
	if err := listener.Listen(pgChangeChannel); err != nil {
		_ = listener.Close()
		return nil, err
	}
	return &postgresStream{
		store:    s,
		listener: listener,
		pos:      pos,
		done:     make(chan struct{}),
	}, nil
}

type postgresStream struct {
	store    *Postgres
	listener *pq.Listener
	pos      uint64

	closeOnce sync.Once
	done      chan struct{}
}

// pgPingInterval bounds how long a silent listener connection goes
// unchecked; a failed ping surfaces as a stream error the consumer
// resumes from.
const pgPingInterval = 90 * time.Second

func (st *postgresStream) Next(ctx context.Context) (Change, error) {
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
		case <-st.listener.Notify:
			// May be nil after a listener reconnect; poll either way,
			// rows written during the gap are still in the log.
		case <-time.After(pgPingInterval):
			if err := st.listener.Ping(); err != nil {
				return Change{}, fmt.Errorf("change listener ping: %w", err)
			}
		}
	}
}

func (st *postgresStream) poll(ctx context.Context) (Change, bool, error) {
	var (
		seq uint64
		op  string
		id  string
		doc sql.NullString
	)
	err := st.store.db.QueryRowContext(ctx, `
SELECT seq, op, table_id, doc::text FROM table_changes
WHERE seq > $1
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

func (st *postgresStream) Close() error {
	var err error
	st.closeOnce.Do(func() {
		close(st.done)
		err = st.listener.Close()
	})
	return err
}
