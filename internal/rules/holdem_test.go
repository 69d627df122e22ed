package rules

import (
	"errors"
	"testing"

	"tablecast/internal/table"
)

func seededTable(t *testing.T, playerIDs ...string) *table.Table {
	t.Helper()
	eng := Default()
	tbl, err := eng.NewTable("t1", nil)
	if err != nil {
		t.Fatalf("NewTable err: %v", err)
	}
	for i, id := range playerIDs {
		tbl.Players = append(tbl.Players, table.Player{ID: id, Seat: i, Stack: table.DefaultStack})
		tbl.SeatsAvailable--
	}
	return tbl
}

func TestNewTable_SeedPlayer(t *testing.T) {
	eng := Default()
	tbl, err := eng.NewTable("t1", &table.Player{ID: "a", Name: "Alice"})
	if err != nil {
		t.Fatalf("NewTable err: %v", err)
	}
	if tbl.SeatsAvailable != table.MaxSeats-1 {
		t.Fatalf("expected %d seats available, got %d", table.MaxSeats-1, tbl.SeatsAvailable)
	}
	if len(tbl.Players) != 1 || tbl.Players[0].Seat != 0 {
		t.Fatalf("expected seed player in seat 0, got %+v", tbl.Players)
	}
	if tbl.Players[0].Stack != table.DefaultStack {
		t.Fatalf("expected default stack, got %d", tbl.Players[0].Stack)
	}
	if tbl.RoundState != table.RoundNotStarted {
		t.Fatalf("expected not_started, got %s", tbl.RoundState)
	}
}

func TestApply_StartGame_NilTable(t *testing.T) {
	_, err := Default().Apply(nil, StartGame{})
	var v *Violation
	if !errors.As(err, &v) {
		t.Fatalf("expected Violation, got %v", err)
	}
	if v.Reason != "table is null" {
		t.Fatalf("unexpected reason: %q", v.Reason)
	}
}

func TestApply_StartGame_NotEnoughPlayers(t *testing.T) {
	tbl := seededTable(t, "a")
	_, err := Default().Apply(tbl, StartGame{})
	var v *Violation
	if !errors.As(err, &v) {
		t.Fatalf("expected Violation, got %v", err)
	}
	if v.Reason != "not enough players to start" {
		t.Fatalf("unexpected reason: %q", v.Reason)
	}
}

func TestApply_StartGame_AlreadyStarted(t *testing.T) {
	tbl := seededTable(t, "a", "b")
	tbl.RoundState = table.RoundInProgress
	_, err := Default().Apply(tbl, StartGame{})
	var v *Violation
	if !errors.As(err, &v) {
		t.Fatalf("expected Violation, got %v", err)
	}
	if v.Reason != "game already started" {
		t.Fatalf("unexpected reason: %q", v.Reason)
	}
}

func TestApply_StartGame_DealsAndAdvances(t *testing.T) {
	tbl := seededTable(t, "a", "b", "c")
	next, err := Default().Apply(tbl, StartGame{})
	if err != nil {
		t.Fatalf("Apply err: %v", err)
	}
	if tbl.RoundState != table.RoundNotStarted {
		t.Fatalf("input table was mutated")
	}
	if next.RoundState != table.RoundInProgress {
		t.Fatalf("expected in_progress, got %s", next.RoundState)
	}
	seen := make(map[string]bool)
	for _, p := range next.Players {
		if len(p.Cards) != 2 {
			t.Fatalf("player %s has %d cards, want 2", p.ID, len(p.Cards))
		}
		for _, c := range p.Cards {
			if seen[c] {
				t.Fatalf("card %s dealt twice", c)
			}
			seen[c] = true
		}
	}
	if got := len(next.Deck); got != 52-2*len(next.Players) {
		t.Fatalf("deck has %d cards after deal, want %d", got, 52-2*len(next.Players))
	}
	if len(next.SeatsStartingInRound) != 3 {
		t.Fatalf("expected 3 seats starting, got %v", next.SeatsStartingInRound)
	}
	if next.ActionTo != 1 {
		t.Fatalf("expected action on seat after dealer, got %d", next.ActionTo)
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	tbl := seededTable(t, "a", "b")
	eng := Default()
	once, err := eng.Normalize(tbl)
	if err != nil {
		t.Fatalf("Normalize err: %v", err)
	}
	twice, err := eng.Normalize(once)
	if err != nil {
		t.Fatalf("Normalize err: %v", err)
	}
	if !table.Equal(once, twice) {
		t.Fatalf("normalize is not idempotent")
	}
}

func TestNormalize_RepairsSeatCount(t *testing.T) {
	tbl := seededTable(t, "a", "b")
	tbl.SeatsAvailable = 0 // stale bookkeeping
	fixed, err := Default().Normalize(tbl)
	if err != nil {
		t.Fatalf("Normalize err: %v", err)
	}
	if fixed.SeatsAvailable != table.MaxSeats-2 {
		t.Fatalf("expected %d seats, got %d", table.MaxSeats-2, fixed.SeatsAvailable)
	}
}

func TestNormalize_EndsShortHandedRound(t *testing.T) {
	tbl := seededTable(t, "a", "b")
	started, err := Default().Apply(tbl, StartGame{})
	if err != nil {
		t.Fatalf("Apply err: %v", err)
	}
	// Second player left mid-round.
	started.Players = started.Players[:1]
	fixed, err := Default().Normalize(started)
	if err != nil {
		t.Fatalf("Normalize err: %v", err)
	}
	if fixed.RoundState != table.RoundNotStarted {
		t.Fatalf("expected round reset, got %s", fixed.RoundState)
	}
	if len(fixed.Deck) != 0 {
		t.Fatalf("expected cleared deck")
	}
	if len(fixed.Players[0].Cards) != 0 {
		t.Fatalf("expected mucked cards")
	}
}
