package transport

import (
	"bytes"
	"context"
	"net"

	"github.com/ValentinKolb/dHA/rpc/common"
)

// --------------------------------------------------------------------------
// Server Transport
// --------------------------------------------------------------------------

// ServerHandleFunc is a function type that handles incoming requests.
// It is called by a server transport for every request payload it reads and
// must append the response payload to resp. Returning an error closes the
// connection without sending a response.
type ServerHandleFunc func(req []byte, resp *bytes.Buffer) error

// IRPCServerTransport is the interface for the RPC server transport layer
type IRPCServerTransport interface {
	// RegisterHandler registers the handler that is called for every request.
	// It must be called before Listen or Serve.
	RegisterHandler(handler ServerHandleFunc)

	// Listen creates a listener for config.Endpoint and serves it until Close
	// is called
	Listen(config common.ServerConfig) error

	// Serve accepts connections on an existing listener until Close is called
	Serve(listener net.Listener, config common.ServerConfig) error

	// Close stops accepting connections and closes all open connections
	Close() error
}

// IServerConnector defines the interface for transport-specific server operations
type IServerConnector interface {
	// Listen creates a listener and returns it
	Listen(config common.ServerConfig) (net.Listener, error)

	// GetName returns the name of the transport type (e.g. "tcp")
	GetName() string
}

// --------------------------------------------------------------------------
// Client Transport
// --------------------------------------------------------------------------

// IClientConnector defines the interface for transport-specific connection operations
type IClientConnector interface {
	// Connect establishes a single connection to endpoint. The dial is bounded
	// by ctx.
	Connect(ctx context.Context, endpoint string) (net.Conn, error)

	// GetName returns the name of the transport type (e.g. "tcp")
	GetName() string

	// UpgradeConnection applies protocol-specific settings to an established connection
	UpgradeConnection(conn net.Conn, config common.ClientConfig) error
}
