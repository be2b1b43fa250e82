package services

import (
	"sync"
)

// userLocks hands out one mutex per user id. Entries are reference counted
// and dropped once no caller holds or waits on them.
type userLocks struct {
	mu    sync.Mutex
	locks map[string]*userLock
}

type userLock struct {
	sync.Mutex
	refs int
}

func newUserLocks() *userLocks {
	return &userLocks{locks: make(map[string]*userLock)}
}

func (l *userLocks) acquire(userID string) *userLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	ul, ok := l.locks[userID]
	if !ok {
		ul = &userLock{}
		l.locks[userID] = ul
	}
	ul.refs++
	return ul
}

func (l *userLocks) release(userID string, ul *userLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ul.refs--
	if ul.refs == 0 {
		delete(l.locks, userID)
	}
}

// Lock blocks until userID's lock is held and returns its unlock func.
func (l *userLocks) Lock(userID string) func() {
	ul := l.acquire(userID)
	ul.Lock()
	return func() {
		ul.Unlock()
		l.release(userID, ul)
	}
}

// TryLock takes userID's lock only if it is free.
func (l *userLocks) TryLock(userID string) (func(), bool) {
	ul := l.acquire(userID)
	if !ul.TryLock() {
		l.release(userID, ul)
		return nil, false
	}
	return func() {
		ul.Unlock()
		l.release(userID, ul)
	}, true
}
