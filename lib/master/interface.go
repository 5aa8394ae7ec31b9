package master

import "context"

// IMaster is the set of operations a slave forwards to its master.
//
// Context-bearing operations take the caller's SlaveContext and return a
// Response whose Streams carry transactions the slave has not applied yet.
// The slave context identifies the session; a session ends with
// FinishTransaction.
type IMaster interface {
	// AllocateIds hands out a batch of ids for the given id type
	AllocateIds(ctx context.Context, idType IdType) (IdAllocation, error)

	// CreateRelationshipType returns the id of the named relationship type,
	// creating it if it does not exist yet
	CreateRelationshipType(ctx context.Context, sc SlaveContext, name string) (Response[int32], error)

	// AcquireNodeWriteLock acquires write locks on all given nodes
	AcquireNodeWriteLock(ctx context.Context, sc SlaveContext, nodes ...int64) (Response[LockResult], error)
	// AcquireNodeReadLock acquires read locks on all given nodes
	AcquireNodeReadLock(ctx context.Context, sc SlaveContext, nodes ...int64) (Response[LockResult], error)
	// AcquireRelationshipWriteLock acquires write locks on all given relationships
	AcquireRelationshipWriteLock(ctx context.Context, sc SlaveContext, relationships ...int64) (Response[LockResult], error)
	// AcquireRelationshipReadLock acquires read locks on all given relationships
	AcquireRelationshipReadLock(ctx context.Context, sc SlaveContext, relationships ...int64) (Response[LockResult], error)

	// CommitSingleResourceTransaction commits the encoded transaction for the
	// given resource and returns the assigned transaction id
	CommitSingleResourceTransaction(ctx context.Context, sc SlaveContext, resource string, tx TransactionStream) (Response[int64], error)

	// FinishTransaction ends the session: locks are released on the master
	FinishTransaction(ctx context.Context, sc SlaveContext) (Response[Void], error)

	// RollbackOngoingTransactions rolls back everything the session holds
	RollbackOngoingTransactions(ctx context.Context, sc SlaveContext) error

	// PullUpdates returns the transactions the slave has not applied yet
	PullUpdates(ctx context.Context, sc SlaveContext) (Response[Void], error)

	// GetMasterIdForCommittedTx returns the machine id of the master that
	// committed the given transaction
	GetMasterIdForCommittedTx(ctx context.Context, txID int64) (int32, error)
}
