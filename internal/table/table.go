package table

import "slices"

// MaxSeats is the fixed seat capacity of every table.
const MaxSeats = 9

// DefaultStack is the chip stack granted to a newly seated player.
const DefaultStack int64 = 10000

// RoundState enumerates the lifecycle of a table's current round.
type RoundState string

const (
	RoundNotStarted RoundState = "not_started"
	RoundInProgress RoundState = "in_progress"
)

// Player is a seated participant embedded in a Table document.
// Cards is hidden state: it must never leave the server except in the
// projection delivered to that player's own connection.
type Player struct {
	ID    string   `json:"id"`
	Name  string   `json:"name,omitempty"`
	Stack int64    `json:"stack"`
	Seat  int      `json:"seat"`
	Cards []string `json:"cards,omitempty"`
}

// Table is the canonical, store-owned table document. Deck is hidden
// state and must never appear in any externally sent representation.
type Table struct {
	ID                    string     `json:"_id"`
	SeatsAvailable        int        `json:"seats_available"`
	Players               []Player   `json:"players"`
	Dealer                int        `json:"dealer"`
	RoundState            RoundState `json:"round_state"`
	Bets                  []int64    `json:"bets"`
	Pot                   int64      `json:"pot"`
	ActionTo              int        `json:"action_to"`
	SeatsStartingInRound  []int      `json:"seats_starting_in_round"`
	SeatsCurrentlyInRound []int      `json:"seats_currently_in_round"`
	Deck                  []string   `json:"deck,omitempty"`
}

// Clone returns a deep copy of the table.
func (t *Table) Clone() *Table {
	if t == nil {
		return nil
	}
	cp := *t
	// slices.Clone preserves nil versus empty, which keeps clones
	// byte-identical to their originals under Encode.
	cp.Players = slices.Clone(t.Players)
	for i := range cp.Players {
		cp.Players[i].Cards = slices.Clone(cp.Players[i].Cards)
	}
	cp.Bets = slices.Clone(t.Bets)
	cp.SeatsStartingInRound = slices.Clone(t.SeatsStartingInRound)
	cp.SeatsCurrentlyInRound = slices.Clone(t.SeatsCurrentlyInRound)
	cp.Deck = slices.Clone(t.Deck)
	return &cp
}

// PlayerByID returns the seated player with the given identity, or nil.
func (t *Table) PlayerByID(id string) *Player {
	for i := range t.Players {
		if t.Players[i].ID == id {
			return &t.Players[i]
		}
	}
	return nil
}

// Seated reports whether the identity occupies a seat at this table.
func (t *Table) Seated(id string) bool {
	return t.PlayerByID(id) != nil
}

// LowestFreeSeat returns the smallest unoccupied seat index in
// [0, MaxSeats). ok is false when the table is full.
func (t *Table) LowestFreeSeat() (seat int, ok bool) {
	var taken [MaxSeats]bool
	for _, p := range t.Players {
		if p.Seat >= 0 && p.Seat < MaxSeats {
			taken[p.Seat] = true
		}
	}
	for i := 0; i < MaxSeats; i++ {
		if !taken[i] {
			return i, true
		}
	}
	return 0, false
}
