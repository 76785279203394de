package lock

import (
	"context"
	"sync"
)

type memEntry struct {
	ch   chan struct{}
	refs int
}

// MemoryLocker is an in-process keyed lock for single-instance deployments
// and tests. Entries are dropped once nobody holds or waits on them.
type MemoryLocker struct {
	mu      sync.Mutex
	entries map[string]*memEntry
	opts    Options
}

func NewMemoryLocker(opts Options) *MemoryLocker {
	return &MemoryLocker{entries: make(map[string]*memEntry), opts: opts.withDefaults()}
}

func (l *MemoryLocker) ref(key string) *memEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	if !ok {
		e = &memEntry{ch: make(chan struct{}, 1)}
		l.entries[key] = e
	}
	e.refs++
	return e
}

func (l *MemoryLocker) unref(key string, e *memEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
}

func (l *MemoryLocker) Acquire(ctx context.Context, key string) (func(), error) {
	e := l.ref(key)

	waitCtx, cancel := waitContext(ctx, l.opts.Wait)
	defer cancel()

	select {
	case e.ch <- struct{}{}:
	case <-waitCtx.Done():
		l.unref(key, e)
		return nil, acquireErr(ctx, waitCtx)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			l.unref(key, e)
		})
	}, nil
}

// Ping always succeeds; it lets the readiness probe treat both backends alike.
func (l *MemoryLocker) Ping(context.Context) error { return nil }

func (l *MemoryLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
