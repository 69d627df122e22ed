package store

import (
	"context"
	"sort"
	"sync"

	"tablecast/internal/table"
)

// Memory is the in-process backend. The full change log is retained,
// which keeps resume semantics exact; fine for its dev/test role.
type Memory struct {
	mu   sync.Mutex
	docs map[string][]byte
	log  []memChange
	seq  uint64
	hub  *notifyHub
}

type memChange struct {
	seq     uint64
	op      Op
	tableID string
	doc     []byte // nil for updates
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		docs: make(map[string][]byte),
		hub:  newNotifyHub(),
	}
}

func (m *Memory) Close() error { return nil }

func (m *Memory) Get(ctx context.Context, id string) (*table.Table, error) {
	m.mu.Lock()
	raw, ok := m.docs[id]
	m.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	return table.Decode(raw)
}

func (m *Memory) FindOpen(ctx context.Context) (*table.Table, error) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.docs))
	for id := range m.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var raws [][]byte
	for _, id := range ids {
		raws = append(raws, m.docs[id])
	}
	m.mu.Unlock()

	for _, raw := range raws {
		t, err := table.Decode(raw)
		if err != nil {
			continue
		}
		if t.SeatsAvailable >= 1 {
			return t, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) Insert(ctx context.Context, t *table.Table) error {
	raw, err := table.Encode(t)
	if err != nil {
		return err
	}
	m.mu.Lock()
	if _, exists := m.docs[t.ID]; exists {
		m.mu.Unlock()
		return ErrDuplicate
	}
	m.docs[t.ID] = raw
	m.appendLocked(OpInsert, t.ID, raw)
	m.mu.Unlock()
	m.hub.Signal()
	return nil
}

func (m *Memory) ReplaceIf(ctx context.Context, observed, next *table.Table) error {
	raw, err := table.Encode(next)
	if err != nil {
		return err
	}
	m.mu.Lock()
	cur, ok := m.docs[observed.ID]
	if !ok || !sameDoc(cur, observed) {
		m.mu.Unlock()
		return ErrConflict
	}
	m.docs[next.ID] = raw
	m.appendLocked(OpReplace, next.ID, raw)
	m.mu.Unlock()
	m.hub.Signal()
	return nil
}

func (m *Memory) SetPlayerName(ctx context.Context, tableID, playerID, name string) error {
	m.mu.Lock()
	defer m.unlockAndSignal()
	raw, ok := m.docs[tableID]
	if !ok {
		return nil
	}
	t, err := table.Decode(raw)
	if err != nil {
		return err
	}
	p := t.PlayerByID(playerID)
	if p == nil {
		return nil
	}
	p.Name = name
	updated, err := table.Encode(t)
	if err != nil {
		return err
	}
	m.docs[tableID] = updated
	m.appendLocked(OpUpdate, tableID, nil)
	return nil
}

func (m *Memory) RemovePlayer(ctx context.Context, playerID string) error {
	m.mu.Lock()
	defer m.unlockAndSignal()
	for id, raw := range m.docs {
		t, err := table.Decode(raw)
		if err != nil {
			continue
		}
		if !t.Seated(playerID) {
			continue
		}
		kept := t.Players[:0:0]
		for _, p := range t.Players {
			if p.ID != playerID {
				kept = append(kept, p)
			}
		}
		if kept == nil {
			kept = []table.Player{}
		}
		t.Players = kept
		t.SeatsAvailable++
		updated, err := table.Encode(t)
		if err != nil {
			return err
		}
		m.docs[id] = updated
		m.appendLocked(OpUpdate, id, nil)
	}
	return nil
}

// appendLocked records a change; caller holds m.mu.
func (m *Memory) appendLocked(op Op, tableID string, doc []byte) {
	m.seq++
	m.log = append(m.log, memChange{seq: m.seq, op: op, tableID: tableID, doc: doc})
}

// unlockAndSignal pairs with a deferred mutation path that may or may
// not have appended; a spurious wakeup is harmless.
func (m *Memory) unlockAndSignal() {
	m.mu.Unlock()
	m.hub.Signal()
}

func (m *Memory) Watch(ctx context.Context) (ChangeStream, error) {
	m.mu.Lock()
	pos := m.seq
	m.mu.Unlock()
	return m.streamFrom(pos), nil
}

func (m *Memory) WatchFrom(ctx context.Context, token ResumeToken) (ChangeStream, error) {
	pos, err := seqFromToken(token)
	if err != nil {
		return nil, err
	}
	return m.streamFrom(pos), nil
}

func (m *Memory) streamFrom(pos uint64) *memStream {
	return &memStream{store: m, pos: pos, done: make(chan struct{})}
}

type memStream struct {
	store *Memory
	pos   uint64

	closeOnce sync.Once
	done      chan struct{}
}

func (s *memStream) Next(ctx context.Context) (Change, error) {
	wake, cancel := s.store.hub.Subscribe()
	defer cancel()

	for {
		if c, ok := s.poll(); ok {
			return c, nil
		}
		select {
		case <-ctx.Done():
			return Change{}, ctx.Err()
		case <-s.done:
			return Change{}, ErrStreamClosed
		case <-wake:
		}
	}
}

func (s *memStream) poll() (Change, bool) {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	for _, entry := range s.store.log {
		if entry.seq <= s.pos {
			continue
		}
		c := Change{
			Op:      entry.op,
			TableID: entry.tableID,
			Token:   tokenFromSeq(entry.seq),
		}
		if entry.doc != nil {
			t, err := table.Decode(entry.doc)
			if err == nil {
				c.Table = t
			}
		}
		s.pos = entry.seq
		return c, true
	}
	return Change{}, false
}

func (s *memStream) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}
