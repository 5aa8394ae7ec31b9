// Package master defines the operations a slave forwards to the master of an
// HA cluster, the data types exchanged with it, and an in-memory reference
// master.
//
// Key Components:
//
//   - IMaster: The master interface. It is implemented by the RPC client in
//     rpc/client (forwarding every call over the wire) and by MemoryMaster
//     (executing it locally). The RPC server in rpc/server exposes any IMaster
//     over the wire protocol.
//
//   - SlaveContext: Session identity (machine id + event identifier) plus the
//     last transaction the slave applied per resource. The master uses it to
//     piggy-back missing transactions on every context-bearing response.
//
//   - TransactionStream / TransactionStreams: Lazy, forward-only sequences of
//     encoded transaction data. A TransactionStream is the payload of a commit,
//     TransactionStreams trail the responses of context-bearing operations.
//
//   - MemoryMaster: Single node master without persistence. Ids are handed out
//     in grab-size batches, locks are non-blocking read/write locks per entity
//     owned by a session and released by FinishTransaction or
//     RollbackOngoingTransactions, and committed transactions are kept in a per
//     resource log with globally increasing transaction ids.
//
// Thread Safety:
//
//	MemoryMaster is safe for concurrent use. Relationship types and sessions
//	live in xsync maps, the lock table and the transaction log are guarded by
//	their own mutexes.
package master
