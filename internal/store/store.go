// Package store persists canonical table documents and emits an
// ordered change feed over them. Three backends share one contract:
// memory, sqlite and postgres.
package store

import (
	"context"
	"errors"

	"tablecast/internal/table"
)

// Op is the kind of mutation a change notification describes.
type Op string

const (
	OpInsert  Op = "insert"
	OpUpdate  Op = "update"
	OpReplace Op = "replace"
)

// ResumeToken is an opaque change feed position. Held only in the
// consumer's memory; it does not survive a process restart.
type ResumeToken string

// Change is one mutation notification. Table carries the resulting
// full document for insert and replace operations; it is nil for
// updates, whose deltas are not self-describing; consumers re-fetch
// by TableID.
type Change struct {
	Op      Op
	TableID string
	Table   *table.Table
	Token   ResumeToken
}

var (
	// ErrNotFound is returned when no table matches.
	ErrNotFound = errors.New("table not found")
	// ErrDuplicate is returned by Insert for an existing identifier.
	ErrDuplicate = errors.New("table already exists")
	// ErrConflict is returned by ReplaceIf when the stored document no
	// longer matches the observed one.
	ErrConflict = errors.New("table changed since read")
	// ErrStreamClosed is returned by Next after Close.
	ErrStreamClosed = errors.New("change stream closed")
)

// ChangeStream is an open change feed cursor. Next blocks until a
// change is available, the context is done, or the stream fails.
type ChangeStream interface {
	Next(ctx context.Context) (Change, error)
	Close() error
}

// TableStore is the document store contract. ReplaceIf is the sole
// concurrency-control mechanism: it succeeds only while the stored
// document still equals the previously observed one.
type TableStore interface {
	// Get returns the table with the given identifier, or ErrNotFound.
	Get(ctx context.Context, id string) (*table.Table, error)

	// FindOpen returns some table with at least one free seat, or
	// ErrNotFound.
	FindOpen(ctx context.Context) (*table.Table, error)

	// Insert stores a new table, or returns ErrDuplicate.
	Insert(ctx context.Context, t *table.Table) error

	// ReplaceIf replaces the stored document with next only if it
	// still equals observed; otherwise ErrConflict.
	ReplaceIf(ctx context.Context, observed, next *table.Table) error

	// SetPlayerName updates the name of the player matching both the
	// table and player identifiers. A miss on either predicate is a
	// no-op.
	SetPlayerName(ctx context.Context, tableID, playerID, name string) error

	// RemovePlayer removes the identity from every table it occupies,
	// restoring one free seat per removal. Fan-in disconnect cleanup.
	RemovePlayer(ctx context.Context, playerID string) error

	// Watch opens a change feed positioned at the current tail.
	Watch(ctx context.Context) (ChangeStream, error)

	// WatchFrom opens a change feed positioned just after the given
	// token, so no change observed before the token is replayed and
	// none after it is lost.
	WatchFrom(ctx context.Context, token ResumeToken) (ChangeStream, error)

	Close() error
}

// sameDoc reports whether a raw stored document equals the observed
// table. Comparison goes through decode/encode so both sides are in
// canonical field order regardless of how the backend stores JSON.
func sameDoc(raw []byte, observed *table.Table) bool {
	stored, err := table.Decode(raw)
	if err != nil {
		return false
	}
	return table.Equal(stored, observed)
}
