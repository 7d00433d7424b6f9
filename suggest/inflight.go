package suggest

import (
	"context"
	"sync"
)

// Kind names a logical operation of which at most one call may be in flight.
type Kind string

const (
	KindTips        Kind = "tips"
	KindSuggestions Kind = "suggestions"
)

type inflightCall struct {
	id     uint64
	cancel context.CancelFunc
}

// Inflight tracks the in-flight call of each kind. Starting a call cancels
// the previous one of the same kind, and Close cancels them all when the
// owner goes away.
type Inflight struct {
	mu     sync.Mutex
	calls  map[Kind]inflightCall
	seq    uint64
	closed bool
}

// NewInflight returns an empty tracker.
func NewInflight() *Inflight {
	return &Inflight{calls: make(map[Kind]inflightCall)}
}

// Begin cancels the in-flight call of the given kind, if any, and returns
// the context of the new call along with the function that must be called
// when it completes. After Close the returned context is already cancelled.
func (f *Inflight) Begin(ctx context.Context, kind Kind) (context.Context, func()) {
	callCtx, cancel := context.WithCancel(ctx)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		cancel()
		return callCtx, func() {}
	}
	if prev, ok := f.calls[kind]; ok {
		prev.cancel()
	}
	f.seq++
	id := f.seq
	f.calls[kind] = inflightCall{id: id, cancel: cancel}

	return callCtx, func() {
		cancel()
		f.mu.Lock()
		defer f.mu.Unlock()
		if cur, ok := f.calls[kind]; ok && cur.id == id {
			delete(f.calls, kind)
		}
	}
}

// Cancel cancels the in-flight call of the given kind.
func (f *Inflight) Cancel(kind Kind) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cur, ok := f.calls[kind]; ok {
		cur.cancel()
		delete(f.calls, kind)
	}
}

// Pending returns how many calls are in flight.
func (f *Inflight) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// Close cancels every in-flight call. Calls begun afterwards are cancelled
// immediately.
func (f *Inflight) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for kind, c := range f.calls {
		c.cancel()
		delete(f.calls, kind)
	}
	f.closed = true
}
