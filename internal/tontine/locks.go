package tontine

import "sync"

// GroupLocks serializes mutation per group. Every read-modify-write of a
// group document and its ledger entries runs under the group's lock, whether
// it originates from a request handler or the scheduler. Operations on
// different groups never contend.
//
// The store's unguarded fetch-mutate-save cycle would otherwise race between
// the scheduler and concurrent API requests; the version check in the store
// is the backstop, this lock is the contract.
type GroupLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewGroupLocks creates an empty lock table.
func NewGroupLocks() *GroupLocks {
	return &GroupLocks{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the mutex for groupID, creating it on first use, and returns
// the unlock function.
//
//	defer locks.Lock(groupID)()
func (l *GroupLocks) Lock(groupID string) func() {
	l.mu.Lock()
	m, ok := l.locks[groupID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[groupID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
