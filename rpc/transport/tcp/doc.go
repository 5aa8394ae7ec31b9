// Package tcp implements the TCP connectors of the master protocol. It provides
// concrete implementations of the transport package's connector interfaces,
// the channel pool and the server loop live in the base package.
//
// Key Components:
//
//   - clientConnector: Dials the master with a context bounded dial (the pool
//     passes the connect timeout) and applies TCP_NODELAY and keep-alive
//     settings from common.TCPConf.
//
//   - serverConnector: Creates the TCP listener of the reference master server.
package tcp
