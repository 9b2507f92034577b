package monitor

import (
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// DefaultLockIdleTTL is how long an unused subject lock stays in the registry
const DefaultLockIdleTTL = 10 * time.Minute

type subjectLock struct {
	mu   sync.Mutex
	refs int
}

// SubjectLocker serializes work per subject key while letting distinct keys run concurrently.
// Locks in use never expire; a released lock is evicted after the idle TTL.
type SubjectLocker struct {
	registry *cache.Cache
	mu       sync.Mutex
	idleTTL  time.Duration
}

// NewSubjectLocker creates a lock registry. idleTTL <= 0 selects DefaultLockIdleTTL.
func NewSubjectLocker(idleTTL time.Duration) *SubjectLocker {
	if idleTTL <= 0 {
		idleTTL = DefaultLockIdleTTL
	}
	return &SubjectLocker{
		registry: cache.New(idleTTL, idleTTL*2),
		idleTTL:  idleTTL,
	}
}

func (l *SubjectLocker) acquire(key string) *subjectLock {
	l.mu.Lock()
	defer l.mu.Unlock()

	var entry *subjectLock
	if cached, found := l.registry.Get(key); found {
		entry = cached.(*subjectLock)
	} else {
		entry = &subjectLock{}
	}
	entry.refs++
	l.registry.Set(key, entry, cache.NoExpiration)
	return entry
}

func (l *SubjectLocker) release(key string, entry *subjectLock) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry.refs--
	if entry.refs == 0 {
		l.registry.Set(key, entry, l.idleTTL)
	}
}

// Lock blocks until key is free and returns the matching unlock function
func (l *SubjectLocker) Lock(key string) (unlock func()) {
	entry := l.acquire(key)
	entry.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			entry.mu.Unlock()
			l.release(key, entry)
		})
	}
}

// Len reports how many subject locks are currently registered
func (l *SubjectLocker) Len() int {
	return l.registry.ItemCount()
}
