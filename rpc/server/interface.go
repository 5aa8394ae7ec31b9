package server

import (
	"context"

	"github.com/ValentinKolb/dHA/lib/master"
	"github.com/ValentinKolb/dHA/rpc/serializer"
)

// IRPCServerAdapter is the interface for all RPC server adapters
// It is responsible for executing decoded requests against a master
type IRPCServerAdapter interface {
	// Handle executes req against m and returns the result and, for
	// context-bearing requests, the transactions to send back.
	// An error means no response can be sent for the request.
	Handle(ctx context.Context, req *serializer.Request, m master.IMaster) (serializer.Result, master.TransactionStreams, error)
}
