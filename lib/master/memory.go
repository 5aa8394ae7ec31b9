package master

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	gometrics "github.com/rcrowley/go-metrics"
)

var Logger = logger.GetLogger("master")

var _ IMaster = (*MemoryMaster)(nil)

// firstTxID is the id of the first transaction committed on a master
const firstTxID int64 = 2

// MemoryMaster is a single node, in-memory IMaster. It is the reference peer
// of the protocol: nothing is persisted.
type MemoryMaster struct {
	masterID int32
	grabSize int

	// id allocation
	idMu    sync.Mutex
	nextIDs [NumIdTypes]int64

	// relationship types
	relTypes    *xsync.MapOf[string, int32]
	nextRelType atomic.Int32

	// sessions and their locks
	sessions *xsync.MapOf[SessionID, time.Time]
	locks    *lockTable

	// transaction log
	txMu      sync.RWMutex
	lastTxID  int64
	txLog     map[string][]CommittedTransaction
	txMasters map[int64]int32

	// metrics
	registry     gometrics.Registry
	commits      gometrics.Meter
	commitTimer  gometrics.Timer
	locksGranted gometrics.Meter
	locksDenied  gometrics.Meter
	finished     gometrics.Counter
	rolledBack   gometrics.Counter
	idsAllocated gometrics.Counter
}

// NewMemoryMaster creates an in-memory master reporting masterID for all
// transactions it commits and handing out grabSize ids per allocation.
func NewMemoryMaster(masterID int32, grabSize int) *MemoryMaster {
	if grabSize <= 0 {
		grabSize = 1000
	}
	registry := gometrics.NewRegistry()
	return &MemoryMaster{
		masterID:     masterID,
		grabSize:     grabSize,
		relTypes:     xsync.NewMapOf[string, int32](),
		sessions:     xsync.NewMapOf[SessionID, time.Time](),
		locks:        newLockTable(),
		lastTxID:     firstTxID - 1,
		txLog:        make(map[string][]CommittedTransaction),
		txMasters:    make(map[int64]int32),
		registry:     registry,
		commits:      gometrics.NewRegisteredMeter("master.commits", registry),
		commitTimer:  gometrics.NewRegisteredTimer("master.commit.duration", registry),
		locksGranted: gometrics.NewRegisteredMeter("master.locks.granted", registry),
		locksDenied:  gometrics.NewRegisteredMeter("master.locks.denied", registry),
		finished:     gometrics.NewRegisteredCounter("master.sessions.finished", registry),
		rolledBack:   gometrics.NewRegisteredCounter("master.sessions.rolledback", registry),
		idsAllocated: gometrics.NewRegisteredCounter("master.ids.allocated", registry),
	}
}

// Registry returns the metrics registry of the master
func (m *MemoryMaster) Registry() gometrics.Registry {
	return m.registry
}

// ActiveSessions returns the number of sessions that were not finished yet
func (m *MemoryMaster) ActiveSessions() int {
	return m.sessions.Size()
}

// --------------------------------------------------------------------------
// Interface Methods (docu see master.IMaster)
// --------------------------------------------------------------------------

func (m *MemoryMaster) AllocateIds(_ context.Context, idType IdType) (IdAllocation, error) {
	if !idType.Valid() {
		return IdAllocation{}, fmt.Errorf("invalid id type %d", idType)
	}

	m.idMu.Lock()
	start := m.nextIDs[idType]
	m.nextIDs[idType] += int64(m.grabSize)
	highest := m.nextIDs[idType]
	m.idMu.Unlock()

	m.idsAllocated.Inc(int64(m.grabSize))
	return IdAllocation{
		Range: IdRange{
			DefragIDs:   []int64{},
			RangeStart:  start,
			RangeLength: int32(m.grabSize),
		},
		HighestIDInUse: highest,
		DefragCount:    0,
	}, nil
}

func (m *MemoryMaster) CreateRelationshipType(_ context.Context, sc SlaveContext, name string) (Response[int32], error) {
	m.touch(sc)
	if name == "" {
		return Response[int32]{}, fmt.Errorf("relationship type name must not be empty")
	}
	id, loaded := m.relTypes.LoadOrCompute(name, func() int32 {
		return m.nextRelType.Add(1) - 1
	})
	if !loaded {
		Logger.Debugf("created relationship type %q with id %d", name, id)
	}
	return NewResponse(id, m.updates(sc, 0)), nil
}

func (m *MemoryMaster) AcquireNodeWriteLock(_ context.Context, sc SlaveContext, nodes ...int64) (Response[LockResult], error) {
	return m.acquire(sc, entityNode, true, nodes), nil
}

func (m *MemoryMaster) AcquireNodeReadLock(_ context.Context, sc SlaveContext, nodes ...int64) (Response[LockResult], error) {
	return m.acquire(sc, entityNode, false, nodes), nil
}

func (m *MemoryMaster) AcquireRelationshipWriteLock(_ context.Context, sc SlaveContext, relationships ...int64) (Response[LockResult], error) {
	return m.acquire(sc, entityRelationship, true, relationships), nil
}

func (m *MemoryMaster) AcquireRelationshipReadLock(_ context.Context, sc SlaveContext, relationships ...int64) (Response[LockResult], error) {
	return m.acquire(sc, entityRelationship, false, relationships), nil
}

func (m *MemoryMaster) CommitSingleResourceTransaction(_ context.Context, sc SlaveContext, resource string, tx TransactionStream) (Response[int64], error) {
	m.touch(sc)
	if resource == "" {
		return Response[int64]{}, fmt.Errorf("resource name must not be empty")
	}
	start := time.Now()

	// drain (and copy) the stream before taking the log lock
	data, err := ReadTransaction(tx)
	if err != nil {
		return Response[int64]{}, fmt.Errorf("failed to read transaction stream: %w", err)
	}

	m.txMu.Lock()
	m.lastTxID++
	txID := m.lastTxID
	m.txLog[resource] = append(m.txLog[resource], CommittedTransaction{
		Resource: resource,
		TxID:     txID,
		Data:     data,
	})
	m.txMasters[txID] = m.masterID
	m.txMu.Unlock()

	m.commits.Mark(1)
	m.commitTimer.UpdateSince(start)
	Logger.Debugf("session %s committed tx %d on %s (%d bytes)", sc.SessionID(), txID, resource, len(data))

	return NewResponse(txID, m.updates(sc, txID)), nil
}

func (m *MemoryMaster) FinishTransaction(_ context.Context, sc SlaveContext) (Response[Void], error) {
	released := m.locks.releaseAll(sc.SessionID())
	m.sessions.Delete(sc.SessionID())
	m.finished.Inc(1)
	Logger.Debugf("session %s finished, released %d locks", sc.SessionID(), released)
	return NewResponse(Void{}, m.updates(sc, 0)), nil
}

func (m *MemoryMaster) RollbackOngoingTransactions(_ context.Context, sc SlaveContext) error {
	released := m.locks.releaseAll(sc.SessionID())
	m.sessions.Delete(sc.SessionID())
	m.rolledBack.Inc(1)
	Logger.Infof("rolled back session %s, released %d locks", sc.SessionID(), released)
	return nil
}

func (m *MemoryMaster) PullUpdates(_ context.Context, sc SlaveContext) (Response[Void], error) {
	m.touch(sc)
	return NewResponse(Void{}, m.updates(sc, 0)), nil
}

func (m *MemoryMaster) GetMasterIdForCommittedTx(_ context.Context, txID int64) (int32, error) {
	m.txMu.RLock()
	defer m.txMu.RUnlock()
	id, ok := m.txMasters[txID]
	if !ok {
		return 0, fmt.Errorf("no transaction with id %d", txID)
	}
	return id, nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// touch registers the session of sc if it is not known yet
func (m *MemoryMaster) touch(sc SlaveContext) {
	m.sessions.LoadOrStore(sc.SessionID(), time.Now())
}

func (m *MemoryMaster) acquire(sc SlaveContext, kind entityKind, write bool, ids []int64) Response[LockResult] {
	m.touch(sc)
	result := m.locks.acquire(sc.SessionID(), kind, write, ids)
	if result.Status == LockStatusOkLocked {
		m.locksGranted.Mark(int64(len(ids)))
	} else {
		m.locksDenied.Mark(1)
		if len(ids) > 0 {
			Logger.Debugf("session %s denied lock, %s", sc.SessionID(), m.locks.describe(kind, ids[0]))
		}
	}
	return NewResponse(result, m.updates(sc, 0))
}

// updates returns all transactions newer than the slave's view, ordered by
// resource name and transaction id. The transaction exclude is skipped (the
// slave committed it itself).
func (m *MemoryMaster) updates(sc SlaveContext, exclude int64) TransactionStreams {
	m.txMu.RLock()
	defer m.txMu.RUnlock()

	resources := make([]string, 0, len(m.txLog))
	for resource := range m.txLog {
		resources = append(resources, resource)
	}
	sort.Strings(resources)

	var txs []CommittedTransaction
	for _, resource := range resources {
		last := sc.LastApplied(resource)
		log := m.txLog[resource]
		// the log is ordered by tx id
		i := sort.Search(len(log), func(i int) bool { return log[i].TxID > last })
		for _, tx := range log[i:] {
			if tx.TxID != exclude {
				txs = append(txs, tx)
			}
		}
	}
	return NewTransactionStreams(txs...)
}
