package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"tablecast/internal/table"
)

func newTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLite err: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLite_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)

	orig := newTestTable("t1", "a")
	if err := s.Insert(ctx, orig); err != nil {
		t.Fatalf("Insert err: %v", err)
	}
	got, err := s.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("Get err: %v", err)
	}
	if !table.Equal(orig, got) {
		t.Fatalf("stored table differs from inserted")
	}
	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLite_InsertDuplicate(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)
	if err := s.Insert(ctx, newTestTable("t1", "a")); err != nil {
		t.Fatalf("Insert err: %v", err)
	}
	if err := s.Insert(ctx, newTestTable("t1", "b")); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestSQLite_ReplaceIf_Conflict(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)
	orig := newTestTable("t1", "a")
	if err := s.Insert(ctx, orig); err != nil {
		t.Fatalf("Insert err: %v", err)
	}

	winner := orig.Clone()
	winner.Pot = 500
	if err := s.ReplaceIf(ctx, orig, winner); err != nil {
		t.Fatalf("first ReplaceIf err: %v", err)
	}
	loser := orig.Clone()
	loser.Pot = 999
	if err := s.ReplaceIf(ctx, orig, loser); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestSQLite_FindOpen(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)
	full := newTestTable("full")
	full.SeatsAvailable = 0
	if err := s.Insert(ctx, full); err != nil {
		t.Fatalf("Insert err: %v", err)
	}
	if _, err := s.FindOpen(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.Insert(ctx, newTestTable("open", "a")); err != nil {
		t.Fatalf("Insert err: %v", err)
	}
	got, err := s.FindOpen(ctx)
	if err != nil {
		t.Fatalf("FindOpen err: %v", err)
	}
	if got.ID != "open" {
		t.Fatalf("expected open table, got %s", got.ID)
	}
}

func TestSQLite_WatchAndResume(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)

	stream, err := s.Watch(ctx)
	if err != nil {
		t.Fatalf("Watch err: %v", err)
	}

	if err := s.Insert(ctx, newTestTable("t1", "a")); err != nil {
		t.Fatalf("Insert err: %v", err)
	}
	if err := s.SetPlayerName(ctx, "t1", "a", "Alice"); err != nil {
		t.Fatalf("SetPlayerName err: %v", err)
	}

	c1 := nextWithTimeout(t, stream)
	if c1.Op != OpInsert || c1.Table == nil {
		t.Fatalf("unexpected first change: %+v", c1)
	}
	c2 := nextWithTimeout(t, stream)
	if c2.Op != OpUpdate || c2.Table != nil {
		t.Fatalf("unexpected second change: %+v", c2)
	}
	stream.Close()

	// Resume after c1 replays only c2.
	resumed, err := s.WatchFrom(ctx, c1.Token)
	if err != nil {
		t.Fatalf("WatchFrom err: %v", err)
	}
	defer resumed.Close()
	rc := nextWithTimeout(t, resumed)
	if rc.Token != c2.Token {
		t.Fatalf("resume replayed wrong change: %+v", rc)
	}
}

func TestSQLite_RemovePlayer(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)
	if err := s.Insert(ctx, newTestTable("t1", "a", "b")); err != nil {
		t.Fatalf("Insert err: %v", err)
	}
	if err := s.RemovePlayer(ctx, "a"); err != nil {
		t.Fatalf("RemovePlayer err: %v", err)
	}
	got, err := s.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("Get err: %v", err)
	}
	if got.Seated("a") {
		t.Fatalf("player still seated after removal")
	}
	if got.SeatsAvailable != table.MaxSeats-1 {
		t.Fatalf("seat not restored: %d", got.SeatsAvailable)
	}
}
