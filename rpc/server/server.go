package server

import (
	"bytes"
	"context"
	"fmt"
	"net"

	"github.com/ValentinKolb/dHA/lib/master"
	"github.com/ValentinKolb/dHA/rpc/common"
	"github.com/ValentinKolb/dHA/rpc/serializer"
	"github.com/ValentinKolb/dHA/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("server")

// NewRPCServer creates a new RPC server answering requests with m.
// It takes a config, transport and the master as parameters
//
// Usage:
//
//	s := server.NewRPCServer(
//		config,
//		tcp.NewTCPServerTransport(config),
//		master.NewMemoryMaster(config.MasterID, config.IdGrabSize),
//	)
//
//	if err := s.Serve(); err != nil {
//		panic(err)
//	}
func NewRPCServer(
	config common.ServerConfig,
	transport transport.IRPCServerTransport,
	m master.IMaster,
) *RPCServer {
	config = config.WithDefaults()

	Logger.Infof("Created RPC Server")
	Logger.Infof(config.String())

	s := &RPCServer{
		config:    config,
		transport: transport,
		master:    m,
		adapter:   NewMasterServerAdapter(),
	}
	s.registerTransportHandler()
	return s
}

// RPCServer decodes requests read by a server transport, executes them on a
// master and encodes the responses
type RPCServer struct {
	config    common.ServerConfig
	transport transport.IRPCServerTransport
	master    master.IMaster
	adapter   IRPCServerAdapter
}

func (s *RPCServer) registerTransportHandler() {
	s.transport.RegisterHandler(func(payload []byte, resp *bytes.Buffer) error {
		// Decode the request (the request aliases the read buffer)
		var req serializer.Request
		if err := serializer.DecodeRequest(payload, &req); err != nil {
			return fmt.Errorf("failed to decode request: %w", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), s.config.Timeout)
		defer cancel()

		// Let the adapter handle the request
		res, streams, err := s.adapter.Handle(ctx, &req, s.master)
		if err != nil {
			return fmt.Errorf("%s request failed: %w", req.Type, err)
		}

		// Encode the response
		if err := serializer.EncodeResponse(resp, req.Type, &res, streams); err != nil {
			return fmt.Errorf("failed to encode %s response: %w", req.Type, err)
		}
		return nil
	})
}

// Serve creates the listener of the transport and serves it until Close is called
func (s *RPCServer) Serve() error {
	return s.transport.Listen(s.config)
}

// ServeListener serves an existing listener until Close is called
func (s *RPCServer) ServeListener(listener net.Listener) error {
	return s.transport.Serve(listener, s.config)
}

// Close stops the server and closes all connections
func (s *RPCServer) Close() error {
	return s.transport.Close()
}
