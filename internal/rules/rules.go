// Package rules defines the contract between the synchronization layer
// and the game rules engine. The server never assumes anything about
// the engine's internals beyond this interface; violations carry the
// reason text surfaced verbatim to the issuing connection.
package rules

import "tablecast/internal/table"

// Action is a closed set of state transitions a caller may request.
type Action interface {
	isAction()
}

// StartGame requests dealing the first hand of a not-yet-started table.
type StartGame struct{}

func (StartGame) isAction() {}

// Violation is a rules-level rejection of an action. Its reason is
// user-visible.
type Violation struct {
	Reason string
}

func (v *Violation) Error() string { return v.Reason }

// NewViolation builds a Violation with the given user-visible reason.
func NewViolation(reason string) *Violation { return &Violation{Reason: reason} }

// Engine encodes game-specific transition and validation logic.
type Engine interface {
	// Apply transitions a canonical table by one action, returning the
	// new canonical table or a *Violation. The input is not mutated.
	Apply(t *table.Table, action Action) (*table.Table, error)

	// Normalize repairs invariants that can only be checked after a
	// mutation has been observed. Idempotent: normalizing an already
	// normalized table returns it unchanged.
	Normalize(t *table.Table) (*table.Table, error)

	// NewTable constructs a valid initial canonical table, optionally
	// seeded with one player in the lowest seat.
	NewTable(id string, seed *table.Player) (*table.Table, error)
}
