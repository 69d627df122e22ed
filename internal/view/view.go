// Package view builds the viewer-specific redacted copy of a canonical
// table. The view types have no deck field at all, so the hidden deck
// cannot leak even through a marshaling bug.
package view

import "tablecast/internal/table"

// Player is a redacted player as delivered to viewers. Cards is only
// populated for the viewer's own player; You marks that player.
type Player struct {
	ID    string   `json:"id"`
	Name  string   `json:"name,omitempty"`
	Stack int64    `json:"stack"`
	Seat  int      `json:"seat"`
	Cards []string `json:"cards,omitempty"`
	You   bool     `json:"you,omitempty"`
}

// Table is the outbound redacted table representation.
type Table struct {
	ID                    string           `json:"_id"`
	SeatsAvailable        int              `json:"seats_available"`
	Players               []Player         `json:"players"`
	Dealer                int              `json:"dealer"`
	RoundState            table.RoundState `json:"round_state"`
	Bets                  []int64          `json:"bets"`
	Pot                   int64            `json:"pot"`
	ActionTo              int              `json:"action_to"`
	SeatsStartingInRound  []int            `json:"seats_starting_in_round"`
	SeatsCurrentlyInRound []int            `json:"seats_currently_in_round"`
}

// Project returns the redaction of t for the given viewer. Only the
// player list is cloned; the static remainder of the document is
// shared, which keeps per-viewer fan-out cheap. Pure: t is not
// mutated.
func Project(t *table.Table, viewerID string) Table {
	out := Table{
		ID:                    t.ID,
		SeatsAvailable:        t.SeatsAvailable,
		Players:               make([]Player, len(t.Players)),
		Dealer:                t.Dealer,
		RoundState:            t.RoundState,
		Bets:                  t.Bets,
		Pot:                   t.Pot,
		ActionTo:              t.ActionTo,
		SeatsStartingInRound:  t.SeatsStartingInRound,
		SeatsCurrentlyInRound: t.SeatsCurrentlyInRound,
	}
	for i, p := range t.Players {
		vp := Player{
			ID:    p.ID,
			Name:  p.Name,
			Stack: p.Stack,
			Seat:  p.Seat,
		}
		if p.ID == viewerID {
			vp.Cards = append([]string(nil), p.Cards...)
			vp.You = true
		}
		out.Players[i] = vp
	}
	return out
}
