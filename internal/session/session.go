// Package session owns the per-connection state machine and the
// command processor that mutates canonical tables under optimistic
// concurrency.
package session

import (
	"context"
	"errors"
	"log"

	"github.com/google/uuid"

	"tablecast/internal/registry"
	"tablecast/internal/rules"
	"tablecast/internal/store"
	"tablecast/internal/table"
	"tablecast/internal/wire"
)

// State is the session's position in its lifecycle. The only way back
// out of AtTable is disconnecting.
type State int

const (
	NoTable State = iota
	AtTable
	Disconnecting
)

// conflictRetries bounds how often a command re-reads and re-applies
// after a conditional write loses a race.
const conflictRetries = 3

const errConflict = "conflict, try again"

// Session is the per-connection runtime state. Owned exclusively by
// its connection goroutine; no method is safe for concurrent use.
type Session struct {
	id      string
	state   State
	tableID string

	store  store.TableStore
	reg    *registry.Registry
	engine rules.Engine
	sink   registry.Sink
}

// New creates a session in NoTable. The identity is fixed for the
// connection's lifetime.
func New(id string, st store.TableStore, reg *registry.Registry, engine rules.Engine, sink registry.Sink) *Session {
	return &Session{
		id:     id,
		state:  NoTable,
		store:  st,
		reg:    reg,
		engine: engine,
		sink:   sink,
	}
}

// ID returns the connection identity.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State { return s.state }

// TableID returns the joined table identifier, empty while NoTable.
func (s *Session) TableID() string { return s.tableID }

// HandleMessage processes one inbound application message, writing
// the reply envelope to the session's sink.
func (s *Session) HandleMessage(ctx context.Context, raw []byte) {
	cmd, err := parseCommand(raw)
	if err != nil {
		s.sendErr("invalid command")
		return
	}
	switch c := cmd.(type) {
	case getRandomTable:
		s.handleGetRandomTable(ctx)
	case changeName:
		s.handleChangeName(ctx, c)
	case startGame:
		s.handleStartGame(ctx)
	case joinTable:
		s.handleJoinTable(ctx, c)
	case unknownCommand:
		s.sendErr("unknown command")
	}
}

func (s *Session) handleGetRandomTable(ctx context.Context) {
	t, err := s.store.FindOpen(ctx)
	if err == nil {
		s.sendOK(wire.CmdFoundTable, t.ID)
		return
	}
	if !errors.Is(err, store.ErrNotFound) {
		s.internal("find table", err)
		return
	}

	// No table with a free seat exists: create an empty one and hand
	// it out.
	id := uuid.NewString()
	fresh, err := s.engine.NewTable(id, nil)
	if err != nil {
		s.internal("create table", err)
		return
	}
	if err := s.store.Insert(ctx, fresh); err != nil {
		s.internal("create table", err)
		return
	}
	s.sendOK(wire.CmdFoundTable, id)
}

func (s *Session) handleChangeName(ctx context.Context, c changeName) {
	if s.state != AtTable {
		s.sendErr("cannot change name if not at table")
		return
	}
	// Double predicate: the write only lands on the recorded table AND
	// this player, so stale session bookkeeping cannot rename someone
	// else.
	if err := s.store.SetPlayerName(ctx, s.tableID, s.id, c.Name); err != nil {
		s.internal("change name", err)
		return
	}
	s.sendOK(wire.CmdNameChanged, nil)
}

func (s *Session) handleStartGame(ctx context.Context) {
	if s.state != AtTable {
		s.sendErr("not at table")
		return
	}
	for attempt := 0; attempt < conflictRetries; attempt++ {
		observed := s.readStartable(ctx)
		next, err := s.engine.Apply(observed, rules.StartGame{})
		if err != nil {
			var v *rules.Violation
			if errors.As(err, &v) {
				s.sendErr(v.Reason)
				return
			}
			s.internal("start game", err)
			return
		}
		err = s.store.ReplaceIf(ctx, observed, next)
		if errors.Is(err, store.ErrConflict) {
			continue
		}
		if err != nil {
			s.internal("start game", err)
			return
		}
		s.sendOK(wire.CmdGameStarted, nil)
		return
	}
	s.sendErr(errConflict)
}

// readStartable returns the session's table only if it is still
// startable by this caller: not yet started and the caller seated. A
// filter miss yields nil, which the engine rejects cleanly.
func (s *Session) readStartable(ctx context.Context) *table.Table {
	t, err := s.store.Get(ctx, s.tableID)
	if err != nil {
		return nil
	}
	if t.RoundState != table.RoundNotStarted || !t.Seated(s.id) {
		return nil
	}
	return t
}

func (s *Session) handleJoinTable(ctx context.Context, c joinTable) {
	if s.state != NoTable {
		s.sendErr("already at a table")
		return
	}
	if c.TableID == "" {
		s.sendErr("invalid table id")
		return
	}

	me := table.Player{
		ID:    s.id,
		Name:  c.PlayerName,
		Stack: table.DefaultStack,
	}

	for attempt := 0; attempt < conflictRetries; attempt++ {
		t, err := s.store.Get(ctx, c.TableID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			if s.createAndJoin(ctx, c.TableID, me) {
				return
			}
			// Lost the creation race; re-read and join the winner's
			// table.
		case err != nil:
			s.internal("join table", err)
			return
		default:
			done, retry := s.joinExisting(ctx, t, me)
			if done {
				return
			}
			if !retry {
				return
			}
		}
	}
	s.sendErr(errConflict)
}

// createAndJoin seeds a fresh table with the caller. The subscription
// is registered before the insert commits (the self-triggered change
// event may race the reply) and rolled back if the insert fails.
func (s *Session) createAndJoin(ctx context.Context, tableID string, me table.Player) bool {
	fresh, err := s.engine.NewTable(tableID, &me)
	if err != nil {
		s.internal("create table", err)
		return true
	}
	s.reg.Subscribe(tableID, s.id, s.sink)
	if err := s.store.Insert(ctx, fresh); err != nil {
		s.reg.Unsubscribe(tableID, s.id, s.sink)
		if errors.Is(err, store.ErrDuplicate) {
			return false
		}
		s.internal("join table", err)
		return true
	}
	s.state = AtTable
	s.tableID = tableID
	s.sendOK(wire.CmdJoinedTable, nil)
	return true
}

// joinExisting seats the caller at t. done means a reply was sent;
// retry means the conditional write lost and the caller should
// re-read.
func (s *Session) joinExisting(ctx context.Context, t *table.Table, me table.Player) (done, retry bool) {
	if t.SeatsAvailable < 1 {
		s.sendErr("table full")
		return true, false
	}
	if t.Seated(s.id) {
		s.sendErr("already seated at table")
		return true, false
	}

	next := t.Clone()
	seat, ok := next.LowestFreeSeat()
	if !ok {
		s.sendErr("table full")
		return true, false
	}
	me.Seat = seat
	next.Players = append(next.Players, me)
	next.SeatsAvailable--

	s.reg.Subscribe(t.ID, s.id, s.sink)
	if err := s.store.ReplaceIf(ctx, t, next); err != nil {
		s.reg.Unsubscribe(t.ID, s.id, s.sink)
		if errors.Is(err, store.ErrConflict) {
			return false, true
		}
		s.internal("join table", err)
		return true, false
	}
	s.state = AtTable
	s.tableID = t.ID
	s.sendOK(wire.CmdJoinedTable, nil)
	return true, false
}

// Disconnect runs the fan-in cleanup: every registry entry carrying
// this sink goes, then the player is pulled from any table they occupy
// regardless of the session's recorded table. Terminal.
func (s *Session) Disconnect(ctx context.Context) {
	s.state = Disconnecting
	s.reg.RemoveSink(s.sink)
	if err := s.store.RemovePlayer(ctx, s.id); err != nil {
		log.Printf("[Session] cleanup %s: %v", s.id, err)
	}
}

func (s *Session) sendOK(cmd string, data any) {
	payload, err := wire.OK(cmd, data)
	if err != nil {
		log.Printf("[Session] encode %s: %v", cmd, err)
		return
	}
	if err := s.sink.Send(payload); err != nil {
		log.Printf("[Session] send %s to %s: %v", cmd, s.id, err)
	}
}

func (s *Session) sendErr(msg string) {
	if err := s.sink.Send(wire.Err(msg)); err != nil {
		log.Printf("[Session] send error to %s: %v", s.id, err)
	}
}

// internal logs the cause and sends a generic error; store failures
// are not user-actionable.
func (s *Session) internal(op string, err error) {
	log.Printf("[Session] %s for %s: %v", op, s.id, err)
	s.sendErr("internal error")
}
