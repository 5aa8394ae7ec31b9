package master

import "fmt"

// --------------------------------------------------------------------------
// Slave Context
// --------------------------------------------------------------------------

// ResourceVersion is the last transaction a slave applied for one resource.
type ResourceVersion struct {
	Resource string
	TxID     int64
}

// SessionID identifies one session of one slave machine.
type SessionID struct {
	MachineID       int32
	EventIdentifier int32
}

func (s SessionID) String() string {
	return fmt.Sprintf("%d/%d", s.MachineID, s.EventIdentifier)
}

// SlaveContext is sent with every context-bearing request. Besides the
// session identity it describes the slave's view of every resource so the
// master can decide which transactions the slave still has to apply.
type SlaveContext struct {
	MachineID               int32
	EventIdentifier         int32
	LastAppliedTransactions []ResourceVersion
}

// SessionID returns the session the context belongs to
func (c SlaveContext) SessionID() SessionID {
	return SessionID{MachineID: c.MachineID, EventIdentifier: c.EventIdentifier}
}

// LastApplied returns the last applied transaction for resource, 0 if the
// slave did not report the resource.
func (c SlaveContext) LastApplied(resource string) int64 {
	for _, v := range c.LastAppliedTransactions {
		if v.Resource == resource {
			return v.TxID
		}
	}
	return 0
}

// --------------------------------------------------------------------------
// Id allocation
// --------------------------------------------------------------------------

// IdType selects the id space of an allocation.
type IdType uint8

const (
	IdTypeNode IdType = iota
	IdTypeRelationship
	IdTypeProperty
	IdTypeStringBlock
	IdTypeArrayBlock
	IdTypePropertyIndex
	IdTypePropertyIndexBlock
	IdTypeRelationshipType
	IdTypeRelationshipTypeBlock
	IdTypeNeoStoreBlock

	// NumIdTypes is the number of defined id types
	NumIdTypes int = iota
)

// Valid reports whether t is a defined id type
func (t IdType) Valid() bool {
	return int(t) < NumIdTypes
}

func (t IdType) String() string {
	switch t {
	case IdTypeNode:
		return "node"
	case IdTypeRelationship:
		return "relationship"
	case IdTypeProperty:
		return "property"
	case IdTypeStringBlock:
		return "string_block"
	case IdTypeArrayBlock:
		return "array_block"
	case IdTypePropertyIndex:
		return "property_index"
	case IdTypePropertyIndexBlock:
		return "property_index_block"
	case IdTypeRelationshipType:
		return "relationship_type"
	case IdTypeRelationshipTypeBlock:
		return "relationship_type_block"
	case IdTypeNeoStoreBlock:
		return "neostore_block"
	default:
		return "unknown"
	}
}

// ParseIdType is the inverse of IdType.String
func ParseIdType(s string) (IdType, error) {
	for t := IdType(0); t.Valid(); t++ {
		if t.String() == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown id type: %s", s)
}

// IdRange is a set of ids handed out by the master: reusable (defragmented)
// ids followed by a contiguous range.
type IdRange struct {
	DefragIDs   []int64
	RangeStart  int64
	RangeLength int32
}

// IdAllocation is the result of an id allocation.
type IdAllocation struct {
	Range          IdRange
	HighestIDInUse int64
	DefragCount    int64
}

// --------------------------------------------------------------------------
// Locks
// --------------------------------------------------------------------------

// LockStatus is the outcome of a lock request.
type LockStatus uint8

const (
	LockStatusOkLocked LockStatus = iota
	LockStatusNotLocked
	LockStatusDeadLocked
)

// Valid reports whether s is a defined lock status
func (s LockStatus) Valid() bool {
	return s <= LockStatusDeadLocked
}

func (s LockStatus) String() string {
	switch s {
	case LockStatusOkLocked:
		return "ok_locked"
	case LockStatusNotLocked:
		return "not_locked"
	case LockStatusDeadLocked:
		return "dead_locked"
	default:
		return "unknown"
	}
}

// LockResult is the result of a lock request. DeadlockMessage is only set
// for LockStatusDeadLocked.
type LockResult struct {
	Status          LockStatus
	DeadlockMessage string
}

// --------------------------------------------------------------------------
// Response
// --------------------------------------------------------------------------

// Void is the result type of operations without a result value
type Void = struct{}

// Response is the result of a context-bearing operation together with the
// transactions the slave has to apply.
type Response[T any] struct {
	Value   T
	Streams TransactionStreams
}

// NewResponse creates a response. A nil streams value is replaced by an
// empty stream set.
func NewResponse[T any](value T, streams TransactionStreams) Response[T] {
	if streams == nil {
		streams = EmptyStreams()
	}
	return Response[T]{Value: value, Streams: streams}
}
