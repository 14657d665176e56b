package agent

import (
	"context"
	"sync"
)

// turnLocks serializes turns per conversation. Entries are dropped when no turn
// holds or waits on them.
type turnLocks struct {
	mu    sync.Mutex
	locks map[string]*turnLock
}

type turnLock struct {
	sem  chan struct{}
	refs int
}

// acquire blocks until the conversation is free or ctx is done.
func (t *turnLocks) acquire(ctx context.Context, conversation string) (release func(), err error) {
	t.mu.Lock()
	if t.locks == nil {
		t.locks = make(map[string]*turnLock)
	}
	l, ok := t.locks[conversation]
	if !ok {
		l = &turnLock{sem: make(chan struct{}, 1)}
		t.locks[conversation] = l
	}
	l.refs++
	t.mu.Unlock()

	select {
	case l.sem <- struct{}{}:
		return func() {
			<-l.sem
			t.unref(conversation, l)
		}, nil
	case <-ctx.Done():
		t.unref(conversation, l)
		return nil, ctx.Err()
	}
}

func (t *turnLocks) unref(conversation string, l *turnLock) {
	t.mu.Lock()
	defer t.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(t.locks, conversation)
	}
}

func (t *turnLocks) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}
