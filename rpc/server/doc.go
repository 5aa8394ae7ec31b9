// Package server implements the server side of the master protocol. It is the
// reference peer of the client: it reads request frames with a server
// transport, executes them on a master.IMaster and writes the responses.
//
// The package focuses on:
//   - Server-side request handling for all request types
//   - Adapter pattern to decouple the master logic from the RPC mechanisms
//
// Key Components:
//
//   - IRPCServerAdapter: Interface defining the contract for server adapters,
//     with the Handle method that executes a decoded request against a master.
//
//   - NewMasterServerAdapter: Factory function creating the adapter translating
//     requests to master.IMaster method calls.
//
//   - NewRPCServer: Factory function creating a configured server with the specified
//     transport and master.
//
// Usage Example:
//
//	config := common.ServerConfig{Endpoint: "0.0.0.0:6361", MasterID: 1}.WithDefaults()
//
//	s := server.NewRPCServer(
//	  config,
//	  tcp.NewTCPServerTransport(config),
//	  master.NewMemoryMaster(config.MasterID, config.IdGrabSize),
//	)
//
//	if err := s.Serve(); err != nil {
//	  log.Fatalf("Server error: %v", err)
//	}
//
// Error Handling:
//
//	The protocol has no error response. If a request cannot be decoded or the
//	master fails to execute it, the connection is closed and the client sees a
//	connectivity error.
//
// Thread Safety:
//
//	The server handles the connections concurrently, the requests of one
//	connection are handled in order. The master must be safe for concurrent use.
package server
