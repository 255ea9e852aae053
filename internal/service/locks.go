package service

import (
	"path/filepath"
	"sync"
)

// pathLocks hands out one mutex per sync directory. Entries are dropped once
// nobody holds or waits for them.
type pathLocks struct {
	mu    sync.Mutex
	locks map[string]*pathLock
}

type pathLock struct {
	sync.Mutex
	refs int
}

func newPathLocks() *pathLocks {
	return &pathLocks{locks: make(map[string]*pathLock)}
}

// Lock blocks until the directory is free and returns the function releasing
// it.
func (l *pathLocks) Lock(dir string) (unlock func()) {
	key := pathKey(dir)

	l.mu.Lock()
	lock, ok := l.locks[key]
	if !ok {
		lock = &pathLock{}
		l.locks[key] = lock
	}
	lock.refs++
	l.mu.Unlock()

	lock.Lock()

	return func() {
		lock.Unlock()

		l.mu.Lock()
		defer l.mu.Unlock()
		lock.refs--
		if lock.refs == 0 {
			delete(l.locks, key)
		}
	}
}

// pathKey identifies a sync directory independently of how it is spelled.
func pathKey(dir string) string {
	if abs, err := filepath.Abs(dir); err == nil {
		return abs
	}
	return filepath.Clean(dir)
}
