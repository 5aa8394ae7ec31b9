// Package transport defines the interfaces for the connection layer between a
// slave and its master. It provides a common contract for transport
// implementations so the channel pool and the server loop stay independent of
// the network protocol.
//
// The package focuses on:
//   - Separating connection establishment (connectors) from connection usage
//   - Defining the server side request handling contract
//
// Key Components:
//
//   - IClientConnector: Dials a single connection to the master and applies
//     protocol-specific socket options. Used by the channel pool in the base package.
//
//   - IServerConnector: Creates the listener of a server transport.
//
//   - IRPCServerTransport: Interface for server-side transport implementations that
//     read request frames and pass them to a handler.
//
//   - ServerHandleFunc: Function type for request handling callbacks.
package transport
