// Package registry indexes which connections are watching which
// tables. It only routes messages; it never owns a sink's lifecycle.
package registry

import "sync"

// Sink delivers one outbound message to a connection. Implementations
// must be safe for concurrent use; a Sink is compared by identity, so
// implementations are expected to be pointers.
type Sink interface {
	Send(msg []byte) error
}

// Entry is one (viewer identity, message sink) subscription.
type Entry struct {
	ViewerID string
	Sink     Sink
}

// Registry is a multimap from table identifier to subscription
// entries. Safe for concurrent use by the feed consumer and every
// session goroutine; reads return snapshots so iteration can never be
// invalidated by a concurrent removal.
type Registry struct {
	mu       sync.RWMutex
	watchers map[string][]Entry
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{watchers: make(map[string][]Entry)}
}

// Subscribe adds an entry for the table. Idempotent per identical
// (viewer, sink) pair.
func (r *Registry) Subscribe(tableID, viewerID string, sink Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.watchers[tableID] {
		if e.ViewerID == viewerID && e.Sink == sink {
			return
		}
	}
	r.watchers[tableID] = append(r.watchers[tableID], Entry{ViewerID: viewerID, Sink: sink})
}

// Unsubscribe removes the entry for the table; no-op if absent.
func (r *Registry) Unsubscribe(tableID, viewerID string, sink Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := r.watchers[tableID]
	for i, e := range entries {
		if e.ViewerID == viewerID && e.Sink == sink {
			r.watchers[tableID] = append(entries[:i:i], entries[i+1:]...)
			break
		}
	}
	if len(r.watchers[tableID]) == 0 {
		delete(r.watchers, tableID)
	}
}

// SubscribersOf returns a snapshot copy of the table's current
// entries.
func (r *Registry) SubscribersOf(tableID string) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := r.watchers[tableID]
	if len(entries) == 0 {
		return nil
	}
	return append([]Entry(nil), entries...)
}

// RemoveSink removes every entry carrying the given sink, across all
// tables. Used by disconnect cleanup, which is intentionally not
// scoped to the session's recorded table.
func (r *Registry) RemoveSink(sink Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for tableID, entries := range r.watchers {
		kept := entries[:0]
		for _, e := range entries {
			if e.Sink != sink {
				kept = append(kept, e)
			}
		}
		if len(kept) == 0 {
			delete(r.watchers, tableID)
		} else {
			r.watchers[tableID] = kept
		}
	}
}

// Drain removes every entry. Shutdown hook.
func (r *Registry) Drain() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.watchers = make(map[string][]Entry)
}
