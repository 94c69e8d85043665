package manager

import (
	"context"
	"strconv"
	"sync"
)

// instanceKey identifies one connector instance
type instanceKey struct {
	tenantID      int64
	connectorType string
}

func (k instanceKey) String() string {
	return strconv.FormatInt(k.tenantID, 10) + ":" + k.connectorType
}

// keyLock serializes work per instance key. Waiting honours context
// cancellation; slots are dropped once nobody holds or waits on them.
type keyLock struct {
	mu    sync.Mutex
	slots map[instanceKey]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

func newKeyLock() *keyLock {
	return &keyLock{slots: make(map[instanceKey]*slot)}
}

// Lock blocks until k is free or ctx is done. The returned func releases it.
func (l *keyLock) Lock(ctx context.Context, k instanceKey) (func(), error) {
	l.mu.Lock()
	s, ok := l.slots[k]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[k] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-s.ch
				l.release(k, s)
			})
		}, nil
	case <-ctx.Done():
		l.release(k, s)
		return nil, ctx.Err()
	}
}

// Held reports whether k is currently locked
func (l *keyLock) Held(k instanceKey) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[k]
	return ok && len(s.ch) > 0
}

func (l *keyLock) release(k instanceKey, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, k)
	}
}
