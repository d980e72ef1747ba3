package relay

import (
	"sync"

	"github.com/ashureev/chatrelay/internal/pending"
)

// keyedLocks serializes work per conversation. Entries are reference
// counted and removed once nobody holds or waits on them.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[pending.Key]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{locks: make(map[pending.Key]*keyLock)}
}

// lock blocks until key is held and returns the matching unlock func.
func (k *keyedLocks) lock(key pending.Key) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func (k *keyedLocks) len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
