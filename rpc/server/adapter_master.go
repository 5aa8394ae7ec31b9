package server

import (
	"context"
	"fmt"

	"github.com/ValentinKolb/dHA/lib/master"
	"github.com/ValentinKolb/dHA/rpc/common"
	"github.com/ValentinKolb/dHA/rpc/serializer"
)

func NewMasterServerAdapter() IRPCServerAdapter {
	return &masterServerAdapterImpl{}
}

type masterServerAdapterImpl struct{}

func (adapter *masterServerAdapterImpl) Handle(ctx context.Context, req *serializer.Request, m master.IMaster) (serializer.Result, master.TransactionStreams, error) {
	var res serializer.Result

	// Check for nil master
	if m == nil {
		return res, nil, fmt.Errorf("handler: master is nil")
	}

	// Handle different request types
	switch req.Type {
	case common.ReqTAllocateIds:
		alloc, err := m.AllocateIds(ctx, req.IdType)
		res.IdAllocation = alloc
		return res, nil, err
	case common.ReqTCreateRelationshipType:
		resp, err := m.CreateRelationshipType(ctx, req.Context, req.Name)
		res.Int = resp.Value
		return res, resp.Streams, err
	case common.ReqTAcquireNodeWriteLock:
		return lockResult(m.AcquireNodeWriteLock(ctx, req.Context, req.Entities...))
	case common.ReqTAcquireNodeReadLock:
		return lockResult(m.AcquireNodeReadLock(ctx, req.Context, req.Entities...))
	case common.ReqTAcquireRelationshipWriteLock:
		return lockResult(m.AcquireRelationshipWriteLock(ctx, req.Context, req.Entities...))
	case common.ReqTAcquireRelationshipReadLock:
		return lockResult(m.AcquireRelationshipReadLock(ctx, req.Context, req.Entities...))
	case common.ReqTCommit:
		resp, err := m.CommitSingleResourceTransaction(ctx, req.Context, req.Resource, req.Tx)
		res.TxID = resp.Value
		return res, resp.Streams, err
	case common.ReqTPullUpdates:
		resp, err := m.PullUpdates(ctx, req.Context)
		return res, resp.Streams, err
	case common.ReqTFinish:
		resp, err := m.FinishTransaction(ctx, req.Context)
		return res, resp.Streams, err
	case common.ReqTGetMasterIdForTx:
		id, err := m.GetMasterIdForCommittedTx(ctx, req.TxID)
		res.Int = id
		return res, nil, err
	default:
		return res, nil, fmt.Errorf("master adapter - unsupported request type: %s", req.Type)
	}
}

func lockResult(resp master.Response[master.LockResult], err error) (serializer.Result, master.TransactionStreams, error) {
	return serializer.Result{Lock: resp.Value}, resp.Streams, err
}
