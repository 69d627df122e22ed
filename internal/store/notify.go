package store

import "sync"

// notifyHub wakes blocked change streams after a commit. Signals are
// lightweight edge triggers: streams pull the actual rows from the
// change log, so a coalesced signal loses nothing.
type notifyHub struct {
	mu   sync.Mutex
	subs map[chan struct{}]struct{}
}

func newNotifyHub() *notifyHub {
	return &notifyHub{subs: make(map[chan struct{}]struct{})}
}

// Signal wakes every subscriber without blocking the writer.
func (h *notifyHub) Signal() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Subscribe registers a wakeup channel; cancel unregisters it.
func (h *notifyHub) Subscribe() (ch chan struct{}, cancel func()) {
	ch = make(chan struct{}, 1)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch, func() {
		h.mu.Lock()
		delete(h.subs, ch)
		h.mu.Unlock()
	}
}
