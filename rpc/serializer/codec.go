package serializer

import (
	"bytes"
	"fmt"
	"math"

	"github.com/ValentinKolb/dHA/lib/master"
	"github.com/ValentinKolb/dHA/rpc/common"
)

// --------------------------------------------------------------------------
// Request / Result
// --------------------------------------------------------------------------

// Request is a single request to the master. Which fields are used depends
// on the type of the request.
type Request struct {
	// Type of request
	Type common.RequestType

	// Context is only written for context-bearing request types
	Context master.SlaveContext

	IdType   master.IdType            // Used for: AllocateIds
	Name     string                   // Used for: CreateRelationshipType
	Entities []int64                  // Used for: Acquire*Lock
	Resource string                   // Used for: Commit
	Tx       master.TransactionStream // Used for: Commit
	TxID     int64                    // Used for: GetMasterIdForTx
}

// Result is the result section of a response. Which fields are used depends
// on the type of the request it answers.
type Result struct {
	IdAllocation master.IdAllocation // Used for: AllocateIds
	Int          int32               // Used for: CreateRelationshipType, GetMasterIdForTx
	TxID         int64               // Used for: Commit
	Lock         master.LockResult   // Used for: Acquire*Lock
}

// --------------------------------------------------------------------------
// Operation table
// --------------------------------------------------------------------------

// operation is the encode/decode pair of one request type
type operation struct {
	writeBody   func(w *bytes.Buffer, req *Request) error
	readBody    func(r *reader, req *Request)
	writeResult func(w *bytes.Buffer, res *Result) error
	readResult  func(r *reader, res *Result)
}

// operations is indexed by request type. Every request type must have an entry.
var operations = [common.NumRequestTypes]operation{
	common.ReqTAllocateIds: {
		writeBody: func(w *bytes.Buffer, req *Request) error {
			if !req.IdType.Valid() {
				return fmt.Errorf("invalid id type %d", req.IdType)
			}
			writeByte(w, byte(req.IdType))
			return nil
		},
		readBody: func(r *reader, req *Request) {
			req.IdType = master.IdType(r.byte("id type"))
			if r.err == nil && !req.IdType.Valid() {
				r.fail("unknown id type %d", req.IdType)
			}
		},
		writeResult: func(w *bytes.Buffer, res *Result) error {
			return writeIdAllocation(w, res.IdAllocation)
		},
		readResult: func(r *reader, res *Result) {
			res.IdAllocation = readIdAllocation(r)
		},
	},
	common.ReqTCreateRelationshipType: {
		writeBody: func(w *bytes.Buffer, req *Request) error {
			return writeString(w, req.Name)
		},
		readBody: func(r *reader, req *Request) {
			req.Name = r.string("relationship type name")
		},
		writeResult: writeIntResult,
		readResult:  readIntResult,
	},
	common.ReqTAcquireNodeWriteLock:         lockOperation,
	common.ReqTAcquireNodeReadLock:          lockOperation,
	common.ReqTAcquireRelationshipWriteLock: lockOperation,
	common.ReqTAcquireRelationshipReadLock:  lockOperation,
	common.ReqTCommit: {
		writeBody: func(w *bytes.Buffer, req *Request) error {
			if err := writeString(w, req.Resource); err != nil {
				return err
			}
			return writeTransactionStream(w, req.Tx)
		},
		readBody: func(r *reader, req *Request) {
			req.Resource = r.string("resource")
			req.Tx = readTransactionStream(r)
		},
		writeResult: func(w *bytes.Buffer, res *Result) error {
			writeInt64(w, res.TxID)
			return nil
		},
		readResult: func(r *reader, res *Result) {
			res.TxID = r.int64("tx id")
		},
	},
	common.ReqTPullUpdates: voidOperation,
	common.ReqTFinish:      voidOperation,
	common.ReqTGetMasterIdForTx: {
		writeBody: func(w *bytes.Buffer, req *Request) error {
			writeInt64(w, req.TxID)
			return nil
		},
		readBody: func(r *reader, req *Request) {
			req.TxID = r.int64("tx id")
		},
		writeResult: writeIntResult,
		readResult:  readIntResult,
	},
}

// voidOperation has neither a request body nor a result
var voidOperation = operation{
	writeBody:   func(*bytes.Buffer, *Request) error { return nil },
	readBody:    func(*reader, *Request) {},
	writeResult: func(*bytes.Buffer, *Result) error { return nil },
	readResult:  func(*reader, *Result) {},
}

// lockOperation is shared by all four lock request types
var lockOperation = operation{
	writeBody: func(w *bytes.Buffer, req *Request) error {
		if len(req.Entities) > math.MaxInt32 {
			return fmt.Errorf("too many entities: %d", len(req.Entities))
		}
		writeInt32(w, int32(len(req.Entities)))
		for _, id := range req.Entities {
			writeInt64(w, id)
		}
		return nil
	},
	readBody: func(r *reader, req *Request) {
		n := r.length("entities", 8)
		req.Entities = make([]int64, n)
		for i := range req.Entities {
			req.Entities[i] = r.int64("entity id")
		}
	},
	writeResult: func(w *bytes.Buffer, res *Result) error {
		if !res.Lock.Status.Valid() {
			return fmt.Errorf("invalid lock status %d", res.Lock.Status)
		}
		writeByte(w, byte(res.Lock.Status))
		if res.Lock.Status == master.LockStatusDeadLocked {
			return writeString(w, res.Lock.DeadlockMessage)
		}
		return nil
	},
	readResult: func(r *reader, res *Result) {
		res.Lock.Status = master.LockStatus(r.byte("lock status"))
		if r.err == nil && !res.Lock.Status.Valid() {
			r.fail("unknown lock status %d", res.Lock.Status)
			return
		}
		if res.Lock.Status == master.LockStatusDeadLocked {
			res.Lock.DeadlockMessage = r.string("deadlock message")
		}
	},
}

func writeIntResult(w *bytes.Buffer, res *Result) error {
	writeInt32(w, res.Int)
	return nil
}

func readIntResult(r *reader, res *Result) {
	res.Int = r.int32("int result")
}

func init() {
	for t, op := range operations {
		if op.writeBody == nil || op.readBody == nil || op.writeResult == nil || op.readResult == nil {
			panic(fmt.Sprintf("serializer: incomplete codec for request type %s", common.RequestType(t)))
		}
	}
}

func lookup(t common.RequestType) (*operation, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: unknown request type %d", common.ErrMalformedFrame, t)
	}
	return &operations[t], nil
}

// --------------------------------------------------------------------------
// Public encode / decode functions
// --------------------------------------------------------------------------

// EncodeRequest appends the payload of req (opcode, optional slave context and
// body) to w.
func EncodeRequest(w *bytes.Buffer, req *Request) error {
	op, err := lookup(req.Type)
	if err != nil {
		return err
	}
	writeByte(w, byte(req.Type))
	if req.Type.IncludesSlaveContext() {
		if err := writeSlaveContext(w, req.Context); err != nil {
			return err
		}
	}
	return op.writeBody(w, req)
}

// DecodeRequest decodes a request payload into req. Slices and streams in req
// alias data.
func DecodeRequest(data []byte, req *Request) error {
	r := reader{data: data}
	*req = Request{Type: common.RequestType(r.byte("request type"))}
	if r.err != nil {
		return r.err
	}
	op, err := lookup(req.Type)
	if err != nil {
		return err
	}
	if req.Type.IncludesSlaveContext() {
		req.Context = readSlaveContext(&r)
	}
	op.readBody(&r, req)
	return r.finish()
}

// EncodeResponse appends the response payload for a request of type t to w.
// For context-bearing types the streams are appended after the result; a nil
// streams value is written as an empty section.
func EncodeResponse(w *bytes.Buffer, t common.RequestType, res *Result, streams master.TransactionStreams) error {
	op, err := lookup(t)
	if err != nil {
		return err
	}
	if err := op.writeResult(w, res); err != nil {
		return err
	}
	if t.IncludesSlaveContext() {
		return writeTransactionStreams(w, streams)
	}
	return nil
}

// DecodeResponse decodes the response payload of a request of type t. The
// trailing streams are validated eagerly but decoded lazily; their data
// aliases data. Non context-bearing types return empty streams.
func DecodeResponse(data []byte, t common.RequestType, res *Result) (master.TransactionStreams, error) {
	op, err := lookup(t)
	if err != nil {
		return nil, err
	}
	r := reader{data: data}
	*res = Result{}
	op.readResult(&r, res)

	streams := master.EmptyStreams()
	if t.IncludesSlaveContext() {
		streams = readTransactionStreams(&r)
	}
	if err := r.finish(); err != nil {
		return nil, err
	}
	return streams, nil
}

// --------------------------------------------------------------------------
// Shared sections
// --------------------------------------------------------------------------

// writeSlaveContext writes machine id, event identifier and the last applied
// transaction of every resource (at most 255 resources)
func writeSlaveContext(w *bytes.Buffer, sc master.SlaveContext) error {
	if len(sc.LastAppliedTransactions) > math.MaxUint8 {
		return fmt.Errorf("slave context has too many resources: %d", len(sc.LastAppliedTransactions))
	}
	writeInt32(w, sc.MachineID)
	writeInt32(w, sc.EventIdentifier)
	writeByte(w, byte(len(sc.LastAppliedTransactions)))
	for _, v := range sc.LastAppliedTransactions {
		if err := writeString(w, v.Resource); err != nil {
			return err
		}
		writeInt64(w, v.TxID)
	}
	return nil
}

func readSlaveContext(r *reader) master.SlaveContext {
	sc := master.SlaveContext{
		MachineID:       r.int32("machine id"),
		EventIdentifier: r.int32("event identifier"),
	}
	n := int(r.byte("resource count"))
	if r.err != nil {
		return sc
	}
	sc.LastAppliedTransactions = make([]master.ResourceVersion, 0, n)
	for i := 0; i < n && r.err == nil; i++ {
		resource := r.string("resource")
		txID := r.int64("last applied tx id")
		sc.LastAppliedTransactions = append(sc.LastAppliedTransactions, master.ResourceVersion{Resource: resource, TxID: txID})
	}
	return sc
}

func writeIdAllocation(w *bytes.Buffer, a master.IdAllocation) error {
	if len(a.Range.DefragIDs) > math.MaxInt32 {
		return fmt.Errorf("too many defragmented ids: %d", len(a.Range.DefragIDs))
	}
	writeInt32(w, int32(len(a.Range.DefragIDs)))
	for _, id := range a.Range.DefragIDs {
		writeInt64(w, id)
	}
	writeInt64(w, a.Range.RangeStart)
	writeInt32(w, a.Range.RangeLength)
	writeInt64(w, a.HighestIDInUse)
	writeInt64(w, a.DefragCount)
	return nil
}

func readIdAllocation(r *reader) master.IdAllocation {
	n := r.length("defragmented ids", 8)
	defrag := make([]int64, n)
	for i := range defrag {
		defrag[i] = r.int64("defragmented id")
	}
	var a master.IdAllocation
	a.Range.DefragIDs = defrag
	a.Range.RangeStart = r.int64("range start")
	a.Range.RangeLength = r.int32("range length")
	a.HighestIDInUse = r.int64("highest id in use")
	a.DefragCount = r.int64("defrag count")
	return a
}
