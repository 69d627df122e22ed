package pantry

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists pantry items in a local database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens (and if needed creates) the database at dbPath.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	dbPath = strings.TrimSpace(dbPath)
	if dbPath == "" {
		return nil, fmt.Errorf("empty sqlite database path")
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, `PRAGMA busy_timeout = 5000;`); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode = WAL;`); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS pantry_items (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    name          TEXT NOT NULL,
    location      TEXT NOT NULL,
    categories    TEXT NOT NULL,
    quantity      INTEGER NOT NULL,
    expiration_ms INTEGER NOT NULL
)`); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) List(ctx context.Context) ([]Item, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT name, location, categories, quantity, expiration_ms
FROM pantry_items
ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var (
			item         Item
			location     string
			categories   string
			expirationMs int64
		)
		if err := rows.Scan(&item.Name, &location, &categories, &item.Quantity, &expirationMs); err != nil {
			return nil, err
		}
		item.Location = splitCSV(location)
		item.Categories = splitCSV(categories)
		item.Expiration = time.UnixMilli(expirationMs).UTC()
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *SQLiteStore) Insert(ctx context.Context, item Item) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO pantry_items (name, location, categories, quantity, expiration_ms)
VALUES (?, ?, ?, ?, ?)`,
		item.Name,
		strings.Join(item.Location, ","),
		strings.Join(item.Categories, ","),
		item.Quantity,
		item.Expiration.UnixMilli())
	return err
}

func splitCSV(s string) []string {
	if s == "" {
		return []string{}
	}
	return strings.Split(s, ",")
}
