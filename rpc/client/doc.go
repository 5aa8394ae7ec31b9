// Package client implements the slave side of the master protocol. The
// MasterClient implements the master.IMaster interface and forwards every
// operation to a remote master over a pool of channels.
//
// The package focuses on:
//   - Transparent access to a remote master through master.IMaster
//   - Session affinity: all requests of one slave session use the same channel
//   - Translation of all failures into common.CommunicationError
//
// Key Components:
//
//   - NewMasterClient: Factory function that creates a client for the master
//     configured in a common.ClientConfig. Channels are opened lazily through
//     the given transport.IClientConnector.
//
//   - Session: Scopes the operations of one slave session and finishes it on
//     Close, which gives the leased channel back.
//
// Usage Example:
//
//	config := common.NewClientConfig("master.local", 6361)
//	c, err := client.NewMasterClient(config, tcp.NewTCPClientConnector())
//	if err != nil {
//	  log.Fatal(err)
//	}
//	defer c.Shutdown()
//
//	s := c.BeginSession(master.SlaveContext{MachineID: 2, EventIdentifier: 1})
//	defer s.Close()
//
//	lock, err := s.AcquireNodeWriteLock(ctx, 42)
//	if err == nil && lock.Value.Status == master.LockStatusOkLocked {
//	  txID, _ := s.Commit(ctx, "neostore.nodestore.db", master.NewChunkStream(tx))
//	  s.Applied("neostore.nodestore.db", txID.Value)
//	}
//
// Channel Accounting:
//
//	A session leases a channel with its first request and keeps it until
//	FinishTransaction. At most MaxConcurrentChannels channels exist at once,
//	further sessions wait for a release (bounded by the context and by
//	LeaseTimeout). RollbackOngoingTransactions is not supported and fails
//	without any network activity.
//
// Thread Safety:
//
//	The MasterClient is safe for concurrent use. The requests of one session
//	must not be made concurrently.
package client
