// Package common provides core data structures and utilities shared across
// the HA master client, its transport layer and the reference master server.
//
// The package focuses on:
//   - The request type catalogue of the master protocol
//   - Configuration structures for client and server components
//   - The error taxonomy surfaced by the client
//   - Custom logging implementation integrated with Dragonboat's logger facade
//
// Key Components:
//
//   - RequestType: Enumeration of all operations on the wire. The numeric value
//     is the opcode written as the first byte of a request payload. The type
//     also knows whether an operation is context-bearing (carries a slave
//     context and returns trailing transaction streams) and whether it
//     terminates a session.
//
//   - ClientConfig: Connection parameters of a master client (host, port,
//     pool capacity, idle cache size, buffer sizes and timeouts).
//
//   - ServerConfig: Configuration of the reference master server.
//
//   - CommunicationError: The umbrella error returned by every dispatched
//     operation. It wraps ErrConnectivity, ErrProtocolTimeout,
//     ErrMalformedFrame, ErrPoolClosed, ErrLeaseTimeout or a context error.
//
//   - Logger: Custom logging implementation that integrates with Dragonboat's
//     logging system while providing consistent formatting across the application.
package common
