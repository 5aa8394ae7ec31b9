package client

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/ValentinKolb/dHA/lib/master"
	"github.com/ValentinKolb/dHA/rpc/common"
	"github.com/ValentinKolb/dHA/rpc/serializer"
	"github.com/ValentinKolb/dHA/rpc/transport"
	"github.com/ValentinKolb/dHA/rpc/transport/base"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
)

var _ master.IMaster = (*MasterClient)(nil)

// MasterClient forwards the operations of a slave to its master. It is safe
// for concurrent use by many sessions; the calls of one session must be made
// one after another.
//
// A context-bearing operation leases a channel for the session of its slave
// context. The session keeps that channel until FinishTransaction is called,
// so every session must end with FinishTransaction (or use a Session, which
// guarantees it). Context-less operations lease a channel only for their own
// duration.
type MasterClient struct {
	config         common.ClientConfig
	pool           *base.ChannelPool[leaseKey]
	set            *metrics.Set
	requestMetrics [common.NumRequestTypes]requestMetrics
	nextEphemeral  atomic.Uint64
	shutdown       atomic.Bool
	log            logger.ILogger
}

// NewMasterClient creates a client for the master configured in config.
// Connections are opened lazily by the first requests.
func NewMasterClient(config common.ClientConfig, connector transport.IClientConnector) (*MasterClient, error) {
	config = config.WithDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid client configuration: %w", err)
	}

	set := metrics.NewSet()
	c := &MasterClient{
		config:         config,
		pool:           base.NewChannelPool[leaseKey](connector, config, set),
		set:            set,
		requestMetrics: newRequestMetrics(set),
		log:            common.Tagged(Logger, config.LocalID),
	}

	c.log.Infof("client connected to %s using %s transport (max %d channels)",
		config.Endpoint(), connector.GetName(), config.MaxConcurrentChannels)
	return c, nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see master.IMaster)
// --------------------------------------------------------------------------

func (c *MasterClient) AllocateIds(ctx context.Context, idType master.IdType) (master.IdAllocation, error) {
	res, err := c.ephemeralRequest(ctx, &serializer.Request{
		Type:   common.ReqTAllocateIds,
		IdType: idType,
	})
	return res.IdAllocation, err
}

func (c *MasterClient) CreateRelationshipType(ctx context.Context, sc master.SlaveContext, name string) (master.Response[int32], error) {
	res, streams, err := c.sessionRequest(ctx, &serializer.Request{
		Type:    common.ReqTCreateRelationshipType,
		Context: sc,
		Name:    name,
	})
	return sessionResponse(res.Int, streams, err)
}

func (c *MasterClient) AcquireNodeWriteLock(ctx context.Context, sc master.SlaveContext, nodes ...int64) (master.Response[master.LockResult], error) {
	return c.acquireLock(ctx, common.ReqTAcquireNodeWriteLock, sc, nodes)
}

func (c *MasterClient) AcquireNodeReadLock(ctx context.Context, sc master.SlaveContext, nodes ...int64) (master.Response[master.LockResult], error) {
	return c.acquireLock(ctx, common.ReqTAcquireNodeReadLock, sc, nodes)
}

func (c *MasterClient) AcquireRelationshipWriteLock(ctx context.Context, sc master.SlaveContext, relationships ...int64) (master.Response[master.LockResult], error) {
	return c.acquireLock(ctx, common.ReqTAcquireRelationshipWriteLock, sc, relationships)
}

func (c *MasterClient) AcquireRelationshipReadLock(ctx context.Context, sc master.SlaveContext, relationships ...int64) (master.Response[master.LockResult], error) {
	return c.acquireLock(ctx, common.ReqTAcquireRelationshipReadLock, sc, relationships)
}

func (c *MasterClient) CommitSingleResourceTransaction(ctx context.Context, sc master.SlaveContext, resource string, tx master.TransactionStream) (master.Response[int64], error) {
	res, streams, err := c.sessionRequest(ctx, &serializer.Request{
		Type:     common.ReqTCommit,
		Context:  sc,
		Resource: resource,
		Tx:       tx,
	})
	return sessionResponse(res.TxID, streams, err)
}

// FinishTransaction ends the session of sc and releases its channel, also
// when the request fails. The returned streams are copied out of the channel
// buffers since the channel may be leased by another session right away.
func (c *MasterClient) FinishTransaction(ctx context.Context, sc master.SlaveContext) (master.Response[master.Void], error) {
	key := sessionKey(sc)
	defer c.pool.Release(key)

	_, streams, err := c.invokeRPCRequest(ctx, key, &serializer.Request{
		Type:    common.ReqTFinish,
		Context: sc,
	})
	if err != nil {
		return master.Response[master.Void]{}, err
	}

	txs, err := master.CollectTransactions(streams)
	if err != nil {
		return master.Response[master.Void]{}, common.NewCommunicationError(common.ReqTFinish, err)
	}
	return master.NewResponse(master.Void{}, master.NewTransactionStreams(txs...)), nil
}

// RollbackOngoingTransactions is not supported by the client, it always fails
// without any network activity
func (c *MasterClient) RollbackOngoingTransactions(_ context.Context, sc master.SlaveContext) error {
	return fmt.Errorf("%w: rollback of session %s must be handled by the master itself",
		common.ErrUnsupportedOperation, sc.SessionID())
}

func (c *MasterClient) PullUpdates(ctx context.Context, sc master.SlaveContext) (master.Response[master.Void], error) {
	_, streams, err := c.sessionRequest(ctx, &serializer.Request{
		Type:    common.ReqTPullUpdates,
		Context: sc,
	})
	return sessionResponse(master.Void{}, streams, err)
}

func (c *MasterClient) GetMasterIdForCommittedTx(ctx context.Context, txID int64) (int32, error) {
	res, err := c.ephemeralRequest(ctx, &serializer.Request{
		Type: common.ReqTGetMasterIdForTx,
		TxID: txID,
	})
	return res.Int, err
}

// --------------------------------------------------------------------------
// Public Methods
// --------------------------------------------------------------------------

// BeginSession returns a Session for sc. Closing the session finishes it on
// the master if it still holds a channel.
func (c *MasterClient) BeginSession(sc master.SlaveContext) *Session {
	sc.LastAppliedTransactions = append([]master.ResourceVersion(nil), sc.LastAppliedTransactions...)
	return &Session{client: c, sc: sc}
}

// Shutdown closes all channels. Calls that are in progress fail, later calls
// fail with common.ErrPoolClosed. Calling Shutdown more than once is safe.
func (c *MasterClient) Shutdown() {
	if c.shutdown.Swap(true) {
		return
	}
	c.pool.Shutdown()
	c.log.Infof("client shutdown, connection to %s closed", c.config.Endpoint())
}

// PoolStats returns a snapshot of the channel pool accounting
func (c *MasterClient) PoolStats() base.PoolStats {
	return c.pool.Stats()
}

// WriteMetrics writes the metrics of the client (pool and requests) in
// Prometheus text format to w
func (c *MasterClient) WriteMetrics(w io.Writer) {
	c.set.WritePrometheus(w)
}

// Config returns the effective configuration of the client
func (c *MasterClient) Config() common.ClientConfig {
	return c.config
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (c *MasterClient) acquireLock(ctx context.Context, reqType common.RequestType, sc master.SlaveContext, ids []int64) (master.Response[master.LockResult], error) {
	res, streams, err := c.sessionRequest(ctx, &serializer.Request{
		Type:     reqType,
		Context:  sc,
		Entities: ids,
	})
	return sessionResponse(res.Lock, streams, err)
}
