// Package rpc provides the communication layer between the slaves of a high
// availability cluster and their master.
//
// The package is organized into several subpackages:
//
//   - common: Core data structures used across the RPC system, including the
//     request types, the error taxonomy, configuration structures and logging.
//
//   - transport: Network communication abstractions: framing, the channel
//     pool of the client and the server loop, with a TCP implementation.
//
//   - serializer: The binary codec for requests and responses, including the
//     chunked transaction stream of commits and the trailing transaction
//     streams of context-bearing responses.
//
//   - client: The MasterClient implementing master.IMaster over the network.
//
//   - server: The server side that executes requests on a master.IMaster.
package rpc
