package service

import (
	"sync"
)

// Locks hands out one RWMutex per conversation id. Each conversation is an
// independently serializable unit of work: mutating operations take the write
// lock, readers take the read lock so a read marker and message count are
// always observed from one consistent snapshot. Operations on different
// conversations never contend.
type Locks struct {
	mu    sync.Mutex
	table map[string]*sync.RWMutex
}

// NewLocks creates an empty lock table.
func NewLocks() *Locks {
	return &Locks{table: make(map[string]*sync.RWMutex)}
}

// Get returns the lock for a conversation, creating it on first use.
func (l *Locks) Get(conversationID string) *sync.RWMutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	lock, ok := l.table[conversationID]
	if !ok {
		lock = &sync.RWMutex{}
		l.table[conversationID] = lock
	}
	return lock
}

// Drop forgets the lock for a deleted conversation. Holders of the old lock
// finish normally; later operations on the id fail not-found before locking
// matters.
func (l *Locks) Drop(conversationID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.table, conversationID)
}
