package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"tablecast/internal/table"
)

func newTestTable(id string, players ...string) *table.Table {
	t := &table.Table{
		ID:                    id,
		SeatsAvailable:        table.MaxSeats - len(players),
		Players:               []table.Player{},
		RoundState:            table.RoundNotStarted,
		Bets:                  []int64{},
		SeatsStartingInRound:  []int{},
		SeatsCurrentlyInRound: []int{},
	}
	for i, p := range players {
		t.Players = append(t.Players, table.Player{ID: p, Seat: i, Stack: table.DefaultStack})
	}
	return t
}

func nextWithTimeout(t *testing.T, stream ChangeStream) Change {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := stream.Next(ctx)
	if err != nil {
		t.Fatalf("Next err: %v", err)
	}
	return c
}

func TestMemory_InsertDuplicate(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	if err := m.Insert(ctx, newTestTable("t1", "a")); err != nil {
		t.Fatalf("Insert err: %v", err)
	}
	if err := m.Insert(ctx, newTestTable("t1", "b")); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestMemory_ReplaceIf_Conflict(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	orig := newTestTable("t1", "a")
	if err := m.Insert(ctx, orig); err != nil {
		t.Fatalf("Insert err: %v", err)
	}

	winner := orig.Clone()
	winner.Pot = 500
	if err := m.ReplaceIf(ctx, orig, winner); err != nil {
		t.Fatalf("first ReplaceIf err: %v", err)
	}

	loser := orig.Clone()
	loser.Pot = 999
	if err := m.ReplaceIf(ctx, orig, loser); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	got, err := m.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("Get err: %v", err)
	}
	if got.Pot != 500 {
		t.Fatalf("conflicting write landed: pot=%d", got.Pot)
	}
}

func TestMemory_FindOpen(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	full := newTestTable("full")
	full.SeatsAvailable = 0
	if err := m.Insert(ctx, full); err != nil {
		t.Fatalf("Insert err: %v", err)
	}
	if _, err := m.FindOpen(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := m.Insert(ctx, newTestTable("open", "a")); err != nil {
		t.Fatalf("Insert err: %v", err)
	}
	got, err := m.FindOpen(ctx)
	if err != nil {
		t.Fatalf("FindOpen err: %v", err)
	}
	if got.ID != "open" {
		t.Fatalf("expected open table, got %s", got.ID)
	}
}

func TestMemory_SetPlayerName_DoublePredicate(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	if err := m.Insert(ctx, newTestTable("t1", "a")); err != nil {
		t.Fatalf("Insert err: %v", err)
	}
	// Wrong table: no-op.
	if err := m.SetPlayerName(ctx, "t2", "a", "Alice"); err != nil {
		t.Fatalf("SetPlayerName err: %v", err)
	}
	// Wrong player: no-op.
	if err := m.SetPlayerName(ctx, "t1", "b", "Bob"); err != nil {
		t.Fatalf("SetPlayerName err: %v", err)
	}
	got, _ := m.Get(ctx, "t1")
	if got.Players[0].Name != "" {
		t.Fatalf("predicate miss still wrote a name: %q", got.Players[0].Name)
	}

	if err := m.SetPlayerName(ctx, "t1", "a", "Alice"); err != nil {
		t.Fatalf("SetPlayerName err: %v", err)
	}
	got, _ = m.Get(ctx, "t1")
	if got.Players[0].Name != "Alice" {
		t.Fatalf("expected name update, got %q", got.Players[0].Name)
	}
}

func TestMemory_RemovePlayer_FanIn(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	if err := m.Insert(ctx, newTestTable("t1", "a", "b")); err != nil {
		t.Fatalf("Insert err: %v", err)
	}
	// Stale bookkeeping: the player somehow sits at two tables.
	if err := m.Insert(ctx, newTestTable("t2", "a")); err != nil {
		t.Fatalf("Insert err: %v", err)
	}

	if err := m.RemovePlayer(ctx, "a"); err != nil {
		t.Fatalf("RemovePlayer err: %v", err)
	}

	t1, _ := m.Get(ctx, "t1")
	if t1.Seated("a") || t1.SeatsAvailable != table.MaxSeats-1 {
		t.Fatalf("t1 not cleaned: %+v", t1)
	}
	t2, _ := m.Get(ctx, "t2")
	if t2.Seated("a") || t2.SeatsAvailable != table.MaxSeats {
		t.Fatalf("t2 not cleaned: %+v", t2)
	}
}

func TestMemory_Watch_DeliversInOrder(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	stream, err := m.Watch(ctx)
	if err != nil {
		t.Fatalf("Watch err: %v", err)
	}
	defer stream.Close()

	orig := newTestTable("t1", "a")
	if err := m.Insert(ctx, orig); err != nil {
		t.Fatalf("Insert err: %v", err)
	}
	next := orig.Clone()
	next.Pot = 100
	if err := m.ReplaceIf(ctx, orig, next); err != nil {
		t.Fatalf("ReplaceIf err: %v", err)
	}
	if err := m.SetPlayerName(ctx, "t1", "a", "Alice"); err != nil {
		t.Fatalf("SetPlayerName err: %v", err)
	}

	c1 := nextWithTimeout(t, stream)
	if c1.Op != OpInsert || c1.Table == nil || c1.Table.ID != "t1" {
		t.Fatalf("unexpected first change: %+v", c1)
	}
	c2 := nextWithTimeout(t, stream)
	if c2.Op != OpReplace || c2.Table == nil || c2.Table.Pot != 100 {
		t.Fatalf("unexpected second change: %+v", c2)
	}
	c3 := nextWithTimeout(t, stream)
	if c3.Op != OpUpdate {
		t.Fatalf("unexpected third change: %+v", c3)
	}
	if c3.Table != nil {
		t.Fatalf("update change should not carry a document")
	}
}

func TestMemory_WatchFrom_ResumesExactly(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	stream, err := m.Watch(ctx)
	if err != nil {
		t.Fatalf("Watch err: %v", err)
	}

	// Five mutations: e1..e5.
	for _, id := range []string{"t1", "t2", "t3", "t4", "t5"} {
		if err := m.Insert(ctx, newTestTable(id, "a")); err != nil {
			t.Fatalf("Insert %s err: %v", id, err)
		}
	}

	var t3Token ResumeToken
	for i := 0; i < 3; i++ {
		c := nextWithTimeout(t, stream)
		t3Token = c.Token
	}
	// Simulate a failure after fully processing e3.
	stream.Close()

	resumed, err := m.WatchFrom(ctx, t3Token)
	if err != nil {
		t.Fatalf("WatchFrom err: %v", err)
	}
	defer resumed.Close()

	c4 := nextWithTimeout(t, resumed)
	if c4.TableID != "t4" {
		t.Fatalf("expected e4 first after resume, got %s", c4.TableID)
	}
	c5 := nextWithTimeout(t, resumed)
	if c5.TableID != "t5" {
		t.Fatalf("expected e5 second after resume, got %s", c5.TableID)
	}

	// Nothing further: e1..e3 must not be replayed.
	shortCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	if _, err := resumed.Next(shortCtx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected no further changes, got err=%v", err)
	}
}

func TestMemory_WatchStartsAtTail(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	if err := m.Insert(ctx, newTestTable("old", "a")); err != nil {
		t.Fatalf("Insert err: %v", err)
	}

	stream, err := m.Watch(ctx)
	if err != nil {
		t.Fatalf("Watch err: %v", err)
	}
	defer stream.Close()

	if err := m.Insert(ctx, newTestTable("new", "b")); err != nil {
		t.Fatalf("Insert err: %v", err)
	}
	c := nextWithTimeout(t, stream)
	if c.TableID != "new" {
		t.Fatalf("expected only post-watch change, got %s", c.TableID)
	}
}
