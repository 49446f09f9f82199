package indexer

import "sync/atomic"

// IndexLock refuses overlapping runs instead of queueing them: a caller that
// loses the race gets false back immediately.
type IndexLock struct {
	held atomic.Bool
}

// TryAcquire takes the lock if it is free
func (l *IndexLock) TryAcquire() bool {
	return l.held.CompareAndSwap(false, true)
}

// Release frees the lock. Only the holder may call it.
func (l *IndexLock) Release() {
	l.held.Store(false)
}

// Held reports whether a run currently owns the lock
func (l *IndexLock) Held() bool {
	return l.held.Load()
}
