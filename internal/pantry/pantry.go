// Package pantry is the inventory-tracking websocket demo: plain CRUD
// over a socket, no concurrency or consistency machinery, kept apart
// from the table synchronization core on purpose.
package pantry

import (
	"context"
	"sort"
	"sync"
	"time"
)

// ExpirationLayout is the wire date format for item expirations.
const ExpirationLayout = "01/02/2006"

// Item is one pantry entry.
type Item struct {
	Name       string
	Location   []string
	Categories []string
	Quantity   int
	Expiration time.Time
}

// Store persists pantry items.
type Store interface {
	List(ctx context.Context) ([]Item, error)
	Insert(ctx context.Context, item Item) error
	Close() error
}

// Memory is the in-process pantry store.
type Memory struct {
	mu    sync.Mutex
	items []Item
}

// NewMemory returns an empty in-memory pantry store.
func NewMemory() *Memory { return &Memory{} }

func (m *Memory) List(ctx context.Context) ([]Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]Item(nil), m.items...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) Insert(ctx context.Context, item Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = append(m.items, item)
	return nil
}

func (m *Memory) Close() error { return nil }
