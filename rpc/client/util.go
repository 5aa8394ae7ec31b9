package client

import (
	"context"
	"fmt"
	"time"

	"github.com/ValentinKolb/dHA/lib/master"
	"github.com/ValentinKolb/dHA/rpc/common"
	"github.com/ValentinKolb/dHA/rpc/serializer"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
)

var (
	Logger = logger.GetLogger("rpc")
)

// leaseKey identifies the holder of a channel lease. Context-bearing
// operations lease for their session, context-less operations use a unique
// ephemeral key that is released when the operation completes.
type leaseKey struct {
	session   master.SessionID
	ephemeral uint64
}

func sessionKey(sc master.SlaveContext) leaseKey {
	return leaseKey{session: sc.SessionID()}
}

// requestMetrics are the metrics of one request type
type requestMetrics struct {
	requests *metrics.Counter
	errors   *metrics.Counter
	duration *metrics.Histogram
}

func newRequestMetrics(set *metrics.Set) [common.NumRequestTypes]requestMetrics {
	var m [common.NumRequestTypes]requestMetrics
	for i := range m {
		op := common.RequestType(i).String()
		m[i] = requestMetrics{
			requests: set.NewCounter(fmt.Sprintf(`dha_client_requests_total{op=%q}`, op)),
			errors:   set.NewCounter(fmt.Sprintf(`dha_client_request_errors_total{op=%q}`, op)),
			duration: set.NewHistogram(fmt.Sprintf(`dha_client_request_duration_seconds{op=%q}`, op)),
		}
	}
	return m
}

// invokeRPCRequest sends req on the channel leased to key and decodes the
// response. Every error is returned as a *common.CommunicationError. The lease
// is never released here.
func (c *MasterClient) invokeRPCRequest(ctx context.Context, key leaseKey, req *serializer.Request) (serializer.Result, master.TransactionStreams, error) {
	m := &c.requestMetrics[req.Type]
	m.requests.Inc()
	start := time.Now()

	res, streams, err := c.dispatch(ctx, key, req)
	m.duration.UpdateDuration(start)
	if err != nil {
		m.errors.Inc()
		c.log.Warningf("%s request for session %s failed: %v", req.Type, key.session, err)
		return res, nil, common.NewCommunicationError(req.Type, err)
	}
	return res, streams, nil
}

// dispatch runs the steps of one request: lease, encode, call, decode
func (c *MasterClient) dispatch(ctx context.Context, key leaseKey, req *serializer.Request) (serializer.Result, master.TransactionStreams, error) {
	var res serializer.Result

	ch, err := c.pool.Lease(ctx, key)
	if err != nil {
		return res, nil, err
	}

	// nothing was sent if encoding fails, the channel stays usable
	if err := serializer.EncodeRequest(ch.WriteBuffer(), req); err != nil {
		return res, nil, fmt.Errorf("failed to encode request: %w", err)
	}

	payload, err := ch.Call(ctx, c.config.ResponseTimeout)
	if err != nil {
		return res, nil, err
	}

	streams, err := serializer.DecodeResponse(payload, req.Type, &res)
	if err != nil {
		ch.MarkBroken()
		return res, nil, err
	}
	return res, streams, nil
}

// sessionRequest sends a context-bearing request on the lease of its session
func (c *MasterClient) sessionRequest(ctx context.Context, req *serializer.Request) (serializer.Result, master.TransactionStreams, error) {
	return c.invokeRPCRequest(ctx, sessionKey(req.Context), req)
}

// ephemeralRequest sends a context-less request on a lease that only lives
// for this request
func (c *MasterClient) ephemeralRequest(ctx context.Context, req *serializer.Request) (serializer.Result, error) {
	key := leaseKey{ephemeral: c.nextEphemeral.Add(1)}
	defer c.pool.Release(key)

	res, _, err := c.invokeRPCRequest(ctx, key, req)
	return res, err
}

// sessionResponse builds the response of a context-bearing request
func sessionResponse[T any](value T, streams master.TransactionStreams, err error) (master.Response[T], error) {
	if err != nil {
		return master.Response[T]{}, err
	}
	return master.NewResponse(value, streams), nil
}
