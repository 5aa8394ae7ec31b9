package common

import (
	"encoding/json"
	"fmt"
)

// --------------------------------------------------------------------------
// Request Type Definition
// --------------------------------------------------------------------------

// RequestType identifies an operation on the wire. The value is written as the
// first byte of every request payload.
type RequestType uint8

const (
	// Id and schema operations

	ReqTAllocateIds            RequestType = iota // Allocate a batch of ids for an id type
	ReqTCreateRelationshipType                    // Create (or look up) a relationship type

	// Lock operations

	ReqTAcquireNodeWriteLock         // Acquire write locks on nodes
	ReqTAcquireNodeReadLock          // Acquire read locks on nodes
	ReqTAcquireRelationshipWriteLock // Acquire write locks on relationships
	ReqTAcquireRelationshipReadLock  // Acquire read locks on relationships

	// Transaction operations

	ReqTCommit           // Commit a single resource transaction
	ReqTPullUpdates      // Pull transactions the slave has not applied yet
	ReqTFinish           // Finish the session (terminating)
	ReqTGetMasterIdForTx // Look up the master that committed a transaction

	// NumRequestTypes is the number of defined request types
	NumRequestTypes int = iota
)

// Valid reports whether t is a defined request type.
func (t RequestType) Valid() bool {
	return int(t) < NumRequestTypes
}

// IncludesSlaveContext reports whether requests of this type carry a slave
// context block and responses of this type carry trailing transaction streams.
func (t RequestType) IncludesSlaveContext() bool {
	switch t {
	case ReqTAllocateIds, ReqTGetMasterIdForTx:
		return false
	default:
		return t.Valid()
	}
}

// Terminating reports whether a successful or failed call of this type ends
// the session and gives the leased channel back to the pool.
func (t RequestType) Terminating() bool {
	return t == ReqTFinish
}

// String returns the string representation of a RequestType.
func (t RequestType) String() string {
	switch t {
	case ReqTAllocateIds:
		return "allocateIds"
	case ReqTCreateRelationshipType:
		return "createRelationshipType"
	case ReqTAcquireNodeWriteLock:
		return "acquireNodeWriteLock"
	case ReqTAcquireNodeReadLock:
		return "acquireNodeReadLock"
	case ReqTAcquireRelationshipWriteLock:
		return "acquireRelationshipWriteLock"
	case ReqTAcquireRelationshipReadLock:
		return "acquireRelationshipReadLock"
	case ReqTCommit:
		return "commit"
	case ReqTPullUpdates:
		return "pullUpdates"
	case ReqTFinish:
		return "finish"
	case ReqTGetMasterIdForTx:
		return "getMasterIdForTx"
	default:
		return "unknown"
	}
}

// ParseRequestType is the inverse of RequestType.String.
func ParseRequestType(s string) (RequestType, error) {
	for t := RequestType(0); t.Valid(); t++ {
		if t.String() == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown request type: %s", s)
}

// MarshalJSON implements the json.Marshaller interface for RequestType.
// This allows RequestType to be serialized as a string in JSON.
func (t RequestType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for RequestType.
func (t *RequestType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseRequestType(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
