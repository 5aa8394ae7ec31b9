package base

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dHA/rpc/common"
	"github.com/ValentinKolb/dHA/rpc/transport"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("transport/rpc")

// PoolStats is a snapshot of the channel accounting of a pool
type PoolStats struct {
	// Active is the number of open channels (leased, idle and being opened)
	Active int
	// Idle is the number of channels in the idle cache
	Idle int
	// Leased is the number of channels leased to a key
	Leased int
}

// ChannelPool is a bounded pool of channels to one master. Channels are leased
// to a key (a session) and stay leased until Release is called for that key,
// leasing again with the same key returns the same channel.
//
// Invariants:
//   - Active never exceeds config.MaxConcurrentChannels
//   - a channel is either leased, idle or being opened/checked, never two of them
//   - every channel that leaves the pool is closed and decrements Active
type ChannelPool[K comparable] struct {
	connector transport.IClientConnector
	config    common.ClientConfig
	endpoint  string

	// mu guards active, idle, closed and changed. Sockets are never dialed,
	// checked or closed while holding it.
	mu      sync.Mutex
	active  int
	idle    []*Channel
	closed  bool
	changed chan struct{} // closed and replaced on every change

	leases *xsync.MapOf[K, *Channel]
	nextID atomic.Uint64
	log    logger.ILogger

	// metrics
	opened    *metrics.Counter
	stale     *metrics.Counter
	overflow  *metrics.Counter
	dialFails *metrics.Counter
}

// NewChannelPool creates a pool dialing config.Endpoint() with connector. The
// pool metrics are registered in set (which may be shared with other
// components of the same client).
func NewChannelPool[K comparable](connector transport.IClientConnector, config common.ClientConfig, set *metrics.Set) *ChannelPool[K] {
	config = config.WithDefaults()
	p := &ChannelPool[K]{
		connector: connector,
		config:    config,
		endpoint:  config.Endpoint(),
		idle:      make([]*Channel, 0, config.IdleCacheSize),
		changed:   make(chan struct{}),
		leases:    xsync.NewMapOf[K, *Channel](),
		log:       common.Tagged(Logger, config.LocalID),
		opened:    set.NewCounter(`dha_pool_channels_opened_total`),
		stale:     set.NewCounter(`dha_pool_channels_stale_total`),
		overflow:  set.NewCounter(`dha_pool_channels_overflow_total`),
		dialFails: set.NewCounter(`dha_pool_dial_errors_total`),
	}
	set.NewGauge(`dha_pool_channels_active`, func() float64 { return float64(p.Stats().Active) })
	set.NewGauge(`dha_pool_channels_idle`, func() float64 { return float64(p.Stats().Idle) })
	set.NewGauge(`dha_pool_channels_leased`, func() float64 { return float64(p.Stats().Leased) })
	return p
}

// --------------------------------------------------------------------------
// Public Methods
// --------------------------------------------------------------------------

// Lease returns the channel leased to key. If key holds no lease yet, an idle
// channel is reused or a new one is opened. When all channels are in use,
// Lease waits until a channel is released, ctx is done or the configured lease
// timeout expired.
func (p *ChannelPool[K]) Lease(ctx context.Context, key K) (*Channel, error) {
	if ch, ok := p.leases.Load(key); ok {
		return ch, nil
	}

	var timeout <-chan time.Time
	if p.config.LeaseTimeout > 0 {
		timer := time.NewTimer(p.config.LeaseTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, common.ErrPoolClosed
		}

		// reuse the most recently released channel
		if n := len(p.idle); n > 0 {
			ch := p.idle[n-1]
			p.idle[n-1] = nil
			p.idle = p.idle[:n-1]
			p.mu.Unlock()

			if ch.isConnected() {
				p.log.Debugf("found unused (and still connected) channel %d", ch.id)
				return p.lease(key, ch)
			}
			p.log.Infof("found unused stale channel %d, discarding it", ch.id)
			p.stale.Inc()
			p.discard(ch)
			continue
		}

		// open a new channel if the cap allows it (the slot is reserved first)
		if p.active < p.config.MaxConcurrentChannels {
			p.active++
			p.mu.Unlock()

			ch, err := p.open(ctx)
			if err != nil {
				p.mu.Lock()
				p.active--
				p.notifyLocked()
				p.mu.Unlock()
				return nil, err
			}
			return p.lease(key, ch)
		}

		// wait for a change and re-evaluate from scratch
		changed := p.changed
		p.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timeout:
			return nil, fmt.Errorf("%w: no channel to %s available within %s", common.ErrLeaseTimeout, p.endpoint, p.config.LeaseTimeout)
		}
	}
}

// Release ends the lease of key. The channel is put into the idle cache if it
// is not broken and the cache has room, otherwise it is closed. Releasing a
// key without a lease does nothing.
func (p *ChannelPool[K]) Release(key K) {
	ch, ok := p.leases.LoadAndDelete(key)
	if !ok {
		return
	}

	p.mu.Lock()
	keep := !p.closed && !ch.Broken() && len(p.idle) < p.config.IdleCacheSize
	if keep {
		p.idle = append(p.idle, ch)
	} else {
		p.active--
	}
	p.notifyLocked()
	p.mu.Unlock()

	if !keep {
		if !ch.Broken() {
			p.overflow.Inc()
			p.log.Debugf("idle cache full, closing channel %d", ch.id)
		}
		ch.MarkBroken()
	}
}

// Holds reports whether key currently holds a lease
func (p *ChannelPool[K]) Holds(key K) bool {
	_, ok := p.leases.Load(key)
	return ok
}

// Shutdown closes all channels and rejects further leases with
// common.ErrPoolClosed. Waiting callers are woken up. Leased channels are
// closed as well, their leases are accounted for when they are released.
// Calling Shutdown more than once is safe.
func (p *ChannelPool[K]) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.active -= len(idle)
	p.notifyLocked()
	p.mu.Unlock()

	for _, ch := range idle {
		ch.MarkBroken()
	}
	p.leases.Range(func(_ K, ch *Channel) bool {
		ch.MarkBroken()
		return true
	})
}

// Stats returns a snapshot of the channel accounting
func (p *ChannelPool[K]) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{
		Active: p.active,
		Idle:   len(p.idle),
		Leased: p.leases.Size(),
	}
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// notifyLocked wakes up all waiting callers, p.mu must be held
func (p *ChannelPool[K]) notifyLocked() {
	close(p.changed)
	p.changed = make(chan struct{})
}

// lease stores the lease of ch for key unless the pool was shut down meanwhile.
// If a concurrent call leased a channel for the same key first, ch is given
// back and the existing channel is returned.
func (p *ChannelPool[K]) lease(key K, ch *Channel) (*Channel, error) {
	p.mu.Lock()
	if p.closed {
		p.active--
		p.notifyLocked()
		p.mu.Unlock()
		ch.MarkBroken()
		return nil, common.ErrPoolClosed
	}
	existing, loaded := p.leases.LoadOrStore(key, ch)
	if !loaded {
		p.mu.Unlock()
		return ch, nil
	}

	keep := !ch.Broken() && len(p.idle) < p.config.IdleCacheSize
	if keep {
		p.idle = append(p.idle, ch)
	} else {
		p.active--
	}
	p.notifyLocked()
	p.mu.Unlock()

	if !keep {
		ch.MarkBroken()
	}
	p.log.Debugf("channel %d already leased for the caller, returning channel %d", existing.id, ch.id)
	return existing, nil
}

// discard closes a channel that was taken out of the idle cache
func (p *ChannelPool[K]) discard(ch *Channel) {
	ch.MarkBroken()
	p.mu.Lock()
	p.active--
	p.notifyLocked()
	p.mu.Unlock()
}

// open dials a new channel, the dial is bounded by the connect timeout
func (p *ChannelPool[K]) open(ctx context.Context) (*Channel, error) {
	dialCtx, cancel := context.WithTimeout(ctx, p.config.ConnectTimeout)
	defer cancel()

	conn, err := p.connector.Connect(dialCtx, p.endpoint)
	if err != nil {
		p.dialFails.Inc()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: failed to connect to %s: %v", common.ErrConnectivity, p.endpoint, err)
	}

	if err := p.connector.UpgradeConnection(conn, p.config); err != nil {
		_ = conn.Close()
		p.dialFails.Inc()
		return nil, fmt.Errorf("%w: failed to upgrade %s connection to %s: %v", common.ErrConnectivity, p.connector.GetName(), p.endpoint, err)
	}

	ch := newChannel(p.nextID.Add(1), conn, p.config)
	p.opened.Inc()
	p.log.Infof("opened a new channel to %s (channel %d)", p.endpoint, ch.id)
	return ch, nil
}
