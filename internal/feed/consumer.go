// Package feed tails the store's change stream and fans redacted
// table views out to subscribed connections.
package feed

import (
	"context"
	"errors"
	"log"
	"sync"

	"golang.org/x/sync/errgroup"

	"tablecast/internal/registry"
	"tablecast/internal/rules"
	"tablecast/internal/store"
	"tablecast/internal/table"
	"tablecast/internal/view"
	"tablecast/internal/wire"
)

// State is the consumer's lifecycle state.
type State int

const (
	StateInit State = iota
	StateStreaming
	StateResuming
	// StateFatal means the stream failed with no usable resume token
	// (or resuming itself failed); live updates are halted for the
	// process and a supervising restart is required.
	StateFatal
	// StateStopped means the run context was cancelled.
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateStreaming:
		return "streaming"
	case StateResuming:
		return "resuming"
	case StateFatal:
		return "fatal"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Consumer is the process-wide change feed task. One per process; Run
// blocks for the process lifetime.
type Consumer struct {
	store  store.TableStore
	reg    *registry.Registry
	engine rules.Engine

	mu    sync.Mutex
	state State
	token store.ResumeToken
	err   error
}

// New builds a consumer over the given collaborators.
func New(st store.TableStore, reg *registry.Registry, engine rules.Engine) *Consumer {
	return &Consumer{store: st, reg: reg, engine: engine, state: StateInit}
}

// State returns the current lifecycle state.
func (c *Consumer) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the cause of a fatal halt, or nil.
func (c *Consumer) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Consumer) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Consumer) fatal(err error) {
	c.mu.Lock()
	c.state = StateFatal
	c.err = err
	c.mu.Unlock()
	log.Printf("[Feed] fatal: %v", err)
}

func (c *Consumer) resumeToken() store.ResumeToken {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

func (c *Consumer) setToken(t store.ResumeToken) {
	c.mu.Lock()
	c.token = t
	c.mu.Unlock()
}

// Run tails the change feed until ctx is done or the feed fails
// fatally. A recoverable stream error reopens the feed just after the
// last fully processed change, so nothing already delivered is
// replayed and nothing after it is lost.
func (c *Consumer) Run(ctx context.Context) {
	stream, err := c.store.Watch(ctx)
	if err != nil {
		// Failure during stream initialization: no token to resume
		// from.
		c.fatal(err)
		return
	}
	defer func() { _ = stream.Close() }()
	c.setState(StateStreaming)
	log.Printf("[Feed] streaming")

	for {
		change, err := stream.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.setState(StateStopped)
				return
			}
			token := c.resumeToken()
			if token == "" {
				c.fatal(err)
				return
			}
			c.setState(StateResuming)
			log.Printf("[Feed] stream error, resuming after %q: %v", token, err)
			_ = stream.Close()
			stream, err = c.store.WatchFrom(ctx, token)
			if err != nil {
				c.fatal(err)
				return
			}
			c.setState(StateStreaming)
			continue
		}
		c.handle(ctx, change)
		c.setToken(change.Token)
	}
}

// handle processes one change end to end: resolve, fan out, reconcile.
func (c *Consumer) handle(ctx context.Context, change store.Change) {
	doc := change.Table
	if doc == nil {
		// Update deltas are not self-describing; fetch the full
		// document.
		var err error
		doc, err = c.store.Get(ctx, change.TableID)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				log.Printf("[Feed] resolve %s: %v", change.TableID, err)
			}
			return
		}
	}

	c.fanOut(doc, change.TableID)

	normalized, err := c.engine.Normalize(doc)
	if err != nil {
		log.Printf("[Feed] normalize %s: %v", change.TableID, err)
		return
	}
	if table.Equal(doc, normalized) {
		return
	}
	if err := c.store.ReplaceIf(ctx, doc, normalized); err != nil {
		if errors.Is(err, store.ErrConflict) {
			// Someone mutated the table since this change; their write
			// shows up as its own change, so skip.
			log.Printf("[Feed] reconcile %s skipped: concurrent write", change.TableID)
			return
		}
		log.Printf("[Feed] reconcile %s: %v", change.TableID, err)
	}
}

// fanOut sends each subscriber its projection. All sends for one
// change run concurrently and are joined before the next change is
// processed, which keeps per-viewer delivery order equal to feed
// order. A failing sink is logged and never aborts the others.
func (c *Consumer) fanOut(doc *table.Table, tableID string) {
	entries := c.reg.SubscribersOf(tableID)
	if len(entries) == 0 {
		return
	}
	var g errgroup.Group
	for _, e := range entries {
		e := e
		g.Go(func() error {
			payload, err := wire.OK(wire.CmdTableUpdate, view.Project(doc, e.ViewerID))
			if err != nil {
				log.Printf("[Feed] encode update for %s: %v", e.ViewerID, err)
				return nil
			}
			if err := e.Sink.Send(payload); err != nil {
				log.Printf("[Feed] send to %s: %v", e.ViewerID, err)
			}
			return nil
		})
	}
	_ = g.Wait()
}
