// Package cancel implements the one-shot cancellation token that cuts
// across a single processing cycle of the agent core. The Turn-Loop
// Controller owns one token per cycle; the streaming consumer and tool
// orchestrator hold references for the duration of that cycle only.
package cancel

import (
	"context"
	"sync"
)

// Token is a one-shot, push-based abort signal with registerable callbacks.
// Cancel is idempotent and each registered callback is invoked exactly once.
type Token struct {
	mu        sync.Mutex
	cancelled bool
	done      chan struct{}
	callbacks []func()
}

// NewToken creates a fresh, uncancelled token.
func NewToken() *Token {
	return &Token{done: make(chan struct{})}
}

// Cancel fires the token. The first call closes the done channel and runs
// every registered callback; subsequent calls do nothing.
func (t *Token) Cancel() {
	t.mu.Lock()
	if t.cancelled {
		t.mu.Unlock()
		return
	}
	t.cancelled = true
	callbacks := t.callbacks
	t.callbacks = nil
	close(t.done)
	t.mu.Unlock()

	for _, fn := range callbacks {
		fn()
	}
}

// Cancelled reports whether the token has fired.
func (t *Token) Cancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

// Done returns a channel closed when the token fires, for use in select
// statements.
func (t *Token) Done() <-chan struct{} {
	return t.done
}

// OnCancel registers a callback to run when the token fires. If the token
// already fired, the callback runs immediately on the calling goroutine.
func (t *Token) OnCancel(fn func()) {
	if fn == nil {
		return
	}
	t.mu.Lock()
	if t.cancelled {
		t.mu.Unlock()
		fn()
		return
	}
	t.callbacks = append(t.callbacks, fn)
	t.mu.Unlock()
}

// Context derives a context.Context that is cancelled when either the token
// fires or the returned CancelFunc is called. Attach it to suspending
// operations such as the streaming HTTP request.
func (t *Token) Context(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancelCtx := context.WithCancel(parent)
	t.OnCancel(cancelCtx)
	return ctx, cancelCtx
}
