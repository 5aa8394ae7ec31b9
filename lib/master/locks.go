package master

import (
	"fmt"
	"sync"
)

// entityKind separates the node and relationship lock spaces
type entityKind uint8

const (
	entityNode entityKind = iota
	entityRelationship
)

func (k entityKind) String() string {
	if k == entityNode {
		return "node"
	}
	return "relationship"
}

type lockKey struct {
	kind entityKind
	id   int64
}

// entityLock is the lock state of one entity. A session holding the write
// lock may also hold read locks; other sessions may not hold anything.
type entityLock struct {
	writer  *SessionID
	readers map[SessionID]struct{}
}

// lockTable is a non-blocking read/write lock table keyed by entity.
// Requests never wait: a conflicting request is answered with
// LockStatusNotLocked and acquires nothing.
type lockTable struct {
	mu    sync.Mutex
	locks map[lockKey]*entityLock
	held  map[SessionID]map[lockKey]struct{}
}

func newLockTable() *lockTable {
	return &lockTable{
		locks: make(map[lockKey]*entityLock),
		held:  make(map[SessionID]map[lockKey]struct{}),
	}
}

// acquire grants all requested locks or none of them
func (t *lockTable) acquire(session SessionID, kind entityKind, write bool, ids []int64) LockResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	// check all entities first (all-or-nothing)
	for _, id := range ids {
		l, ok := t.locks[lockKey{kind, id}]
		if !ok {
			continue
		}
		if l.writer != nil && *l.writer != session {
			return LockResult{Status: LockStatusNotLocked}
		}
		if write {
			for reader := range l.readers {
				if reader != session {
					return LockResult{Status: LockStatusNotLocked}
				}
			}
		}
	}

	// grant
	held, ok := t.held[session]
	if !ok {
		held = make(map[lockKey]struct{})
		t.held[session] = held
	}
	for _, id := range ids {
		key := lockKey{kind, id}
		l, ok := t.locks[key]
		if !ok {
			l = &entityLock{readers: make(map[SessionID]struct{})}
			t.locks[key] = l
		}
		if write {
			s := session
			l.writer = &s
		} else {
			l.readers[session] = struct{}{}
		}
		held[key] = struct{}{}
	}
	return LockResult{Status: LockStatusOkLocked}
}

// releaseAll releases every lock of the session and returns how many entities
// were unlocked
func (t *lockTable) releaseAll(session SessionID) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	held := t.held[session]
	for key := range held {
		l := t.locks[key]
		if l == nil {
			continue
		}
		if l.writer != nil && *l.writer == session {
			l.writer = nil
		}
		delete(l.readers, session)
		if l.writer == nil && len(l.readers) == 0 {
			delete(t.locks, key)
		}
	}
	delete(t.held, session)
	return len(held)
}

// describe returns a human readable owner description of an entity (debugging)
func (t *lockTable) describe(kind entityKind, id int64) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	l, ok := t.locks[lockKey{kind, id}]
	if !ok {
		return fmt.Sprintf("%s %d: unlocked", kind, id)
	}
	writer := "-"
	if l.writer != nil {
		writer = l.writer.String()
	}
	return fmt.Sprintf("%s %d: writer=%s readers=%d", kind, id, writer, len(l.readers))
}
