package base

import (
	"bytes"
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/dHA/rpc/common"
	"github.com/VictoriaMetrics/metrics"
	"golang.org/x/sync/errgroup"
)

// --------------------------------------------------------------------------
// Test helpers
// --------------------------------------------------------------------------

// testConnector dials plain TCP connections
type testConnector struct {
	dialer net.Dialer
	dials  atomic.Int32
}

func (c *testConnector) Connect(ctx context.Context, endpoint string) (net.Conn, error) {
	c.dials.Add(1)
	return c.dialer.DialContext(ctx, "tcp", endpoint)
}

func (c *testConnector) GetName() string {
	return "test"
}

func (c *testConnector) UpgradeConnection(net.Conn, common.ClientConfig) error {
	return nil
}

// testPeer is a loopback master that echoes every frame (or never answers if
// silent is set)
type testPeer struct {
	listener net.Listener
	silent   bool
	accepted atomic.Int32

	mu    sync.Mutex
	conns []net.Conn
}

func newTestPeer(t *testing.T, silent bool) *testPeer {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	p := &testPeer{listener: l, silent: silent}
	go p.serve()
	t.Cleanup(p.close)
	return p
}

func (p *testPeer) serve() {
	for {
		conn, err := p.listener.Accept()
		if err != nil {
			return
		}
		p.accepted.Add(1)
		p.mu.Lock()
		p.conns = append(p.conns, conn)
		p.mu.Unlock()
		go p.handle(conn)
	}
}

func (p *testPeer) handle(conn net.Conn) {
	defer conn.Close()
	for {
		payload, err := readFrame(conn, nil, 0)
		if err != nil {
			return
		}
		if p.silent {
			continue
		}
		if err := writeFrame(conn, payload); err != nil {
			return
		}
	}
}

// dropConnections closes all server side connections
func (p *testPeer) dropConnections() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, conn := range p.conns {
		conn.Close()
	}
	p.conns = nil
}

func (p *testPeer) close() {
	p.listener.Close()
	p.dropConnections()
}

// config returns a client configuration pointing to the peer
func (p *testPeer) config() common.ClientConfig {
	host, port, _ := net.SplitHostPort(p.listener.Addr().String())
	portNum, _ := strconv.Atoi(port)
	return common.NewClientConfig(host, portNum)
}

func newTestPool(t *testing.T, config common.ClientConfig) (*ChannelPool[int], *metrics.Set) {
	t.Helper()
	set := metrics.NewSet()
	pool := NewChannelPool[int](&testConnector{}, config, set)
	t.Cleanup(pool.Shutdown)
	return pool, set
}

// call sends payload over ch and returns the echoed payload
func call(ch *Channel, payload string) (string, error) {
	ch.WriteBuffer().WriteString(payload)
	resp, err := ch.Call(context.Background(), time.Second)
	return string(resp), err
}

func expectStats(t *testing.T, pool *ChannelPool[int], expected PoolStats) {
	t.Helper()
	if stats := pool.Stats(); stats != expected {
		t.Errorf("Expected stats %+v, got %+v", expected, stats)
	}
}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

// TestLeaseReentrant tests that a key gets the same channel until it is released
func TestLeaseReentrant(t *testing.T) {
	peer := newTestPeer(t, false)
	pool, _ := newTestPool(t, peer.config())
	ctx := context.Background()

	first, err := pool.Lease(ctx, 1)
	if err != nil {
		t.Fatalf("Failed to lease: %v", err)
	}
	second, err := pool.Lease(ctx, 1)
	if err != nil {
		t.Fatalf("Failed to lease again: %v", err)
	}
	if first != second {
		t.Errorf("Expected the same channel for the same key, got %d and %d", first.ID(), second.ID())
	}
	if !pool.Holds(1) {
		t.Errorf("Expected key 1 to hold a lease")
	}
	expectStats(t, pool, PoolStats{Active: 1, Idle: 0, Leased: 1})

	other, err := pool.Lease(ctx, 2)
	if err != nil {
		t.Fatalf("Failed to lease for key 2: %v", err)
	}
	if other == first {
		t.Errorf("Expected different channels for different keys")
	}
	expectStats(t, pool, PoolStats{Active: 2, Idle: 0, Leased: 2})

	resp, err := call(first, "ping")
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if resp != "ping" {
		t.Errorf("Expected echo 'ping', got %q", resp)
	}
}

// TestConcurrentLeaseSameKey tests that concurrent first leases of one key share
// a single channel and that no channel is lost once the key is released
func TestConcurrentLeaseSameKey(t *testing.T) {
	peer := newTestPeer(t, false)
	config := peer.config()
	config.MaxConcurrentChannels = 4
	config.IdleCacheSize = 4
	pool, _ := newTestPool(t, config)

	const callers = 4
	for round := 0; round < 50; round++ {
		key := round
		channels := make([]*Channel, callers)

		start := make(chan struct{})
		g, ctx := errgroup.WithContext(context.Background())
		for i := 0; i < callers; i++ {
			i := i
			g.Go(func() error {
				<-start
				ch, err := pool.Lease(ctx, key)
				channels[i] = ch
				return err
			})
		}
		close(start)
		if err := g.Wait(); err != nil {
			t.Fatalf("Round %d: lease failed: %v", round, err)
		}

		for i := 1; i < callers; i++ {
			if channels[i] != channels[0] {
				t.Fatalf("Round %d: expected one channel for key %d, got %d and %d", round, key, channels[0].ID(), channels[i].ID())
			}
		}
		if stats := pool.Stats(); stats.Leased != 1 {
			t.Fatalf("Round %d: expected 1 lease, got %+v", round, stats)
		}

		pool.Release(key)
		stats := pool.Stats()
		if stats.Leased != 0 || stats.Active != stats.Idle {
			t.Fatalf("Round %d: expected only idle channels after release, got %+v", round, stats)
		}
		if stats.Active > config.MaxConcurrentChannels {
			t.Fatalf("Round %d: active channels %d exceed cap %d", round, stats.Active, config.MaxConcurrentChannels)
		}
	}

	resp, err := func() (string, error) {
		ch, err := pool.Lease(context.Background(), -1)
		if err != nil {
			return "", err
		}
		defer pool.Release(-1)
		return call(ch, "after")
	}()
	if err != nil {
		t.Fatalf("Call after concurrent leases failed: %v", err)
	}
	if resp != "after" {
		t.Errorf("Expected echo 'after', got %q", resp)
	}
}

// TestCapNeverExceeded tests that concurrent sessions never hold more channels than the cap
func TestCapNeverExceeded(t *testing.T) {
	peer := newTestPeer(t, false)
	config := peer.config()
	config.MaxConcurrentChannels = 3
	pool, _ := newTestPool(t, config)

	const sessions = 20
	var inFlight, maxInFlight atomic.Int32

	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < sessions; i++ {
		key := i
		g.Go(func() error {
			for round := 0; round < 5; round++ {
				ch, err := pool.Lease(ctx, key)
				if err != nil {
					return err
				}

				n := inFlight.Add(1)
				for {
					prev := maxInFlight.Load()
					if n <= prev || maxInFlight.CompareAndSwap(prev, n) {
						break
					}
				}
				if active := pool.Stats().Active; active > config.MaxConcurrentChannels {
					t.Errorf("Active channels %d exceed cap %d", active, config.MaxConcurrentChannels)
				}

				payload := "session-" + strconv.Itoa(key)
				resp, err := call(ch, payload)
				if err != nil {
					return err
				}
				if resp != payload {
					t.Errorf("Expected echo %q, got %q", payload, resp)
				}

				inFlight.Add(-1)
				pool.Release(key)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("Session failed: %v", err)
	}

	if peak := maxInFlight.Load(); peak > int32(config.MaxConcurrentChannels) {
		t.Errorf("Expected at most %d sessions in flight, got %d", config.MaxConcurrentChannels, peak)
	}
	if accepted := peer.accepted.Load(); accepted > int32(config.MaxConcurrentChannels) {
		t.Errorf("Expected at most %d connections, master accepted %d", config.MaxConcurrentChannels, accepted)
	}
	stats := pool.Stats()
	if stats.Leased != 0 || stats.Active != stats.Idle {
		t.Errorf("Expected only idle channels after all sessions, got %+v", stats)
	}
}

// TestReleaseCaching tests that released channels are cached until the idle cache is full
func TestReleaseCaching(t *testing.T) {
	peer := newTestPeer(t, false)
	config := peer.config()
	config.IdleCacheSize = 2
	pool, set := newTestPool(t, config)
	ctx := context.Background()

	for key := 0; key < 4; key++ {
		if _, err := pool.Lease(ctx, key); err != nil {
			t.Fatalf("Failed to lease for key %d: %v", key, err)
		}
	}
	expectStats(t, pool, PoolStats{Active: 4, Idle: 0, Leased: 4})

	pool.Release(0)
	pool.Release(1)
	expectStats(t, pool, PoolStats{Active: 4, Idle: 2, Leased: 2})

	// the cache is full: released channels are closed
	pool.Release(2)
	pool.Release(3)
	expectStats(t, pool, PoolStats{Active: 2, Idle: 2, Leased: 0})

	// releasing a key without a lease does nothing
	pool.Release(3)
	expectStats(t, pool, PoolStats{Active: 2, Idle: 2, Leased: 0})

	var buf bytes.Buffer
	set.WritePrometheus(&buf)
	for _, line := range []string{
		"dha_pool_channels_active 2",
		"dha_pool_channels_idle 2",
		"dha_pool_channels_opened_total 4",
		"dha_pool_channels_overflow_total 2",
	} {
		if !strings.Contains(buf.String(), line) {
			t.Errorf("Expected metrics to contain %q, got:\n%s", line, buf.String())
		}
	}
}

// TestIdleReuseLIFO tests that the most recently released channel is reused first
func TestIdleReuseLIFO(t *testing.T) {
	peer := newTestPeer(t, false)
	pool, _ := newTestPool(t, peer.config())
	ctx := context.Background()

	first, _ := pool.Lease(ctx, 1)
	second, err := pool.Lease(ctx, 2)
	if err != nil {
		t.Fatalf("Failed to lease: %v", err)
	}
	pool.Release(1)
	pool.Release(2)

	reused, err := pool.Lease(ctx, 3)
	if err != nil {
		t.Fatalf("Failed to lease: %v", err)
	}
	if reused != second {
		t.Errorf("Expected channel %d (released last), got %d", second.ID(), reused.ID())
	}
	if reused == first {
		t.Errorf("Expected the first channel to stay idle")
	}
	if dials := peer.accepted.Load(); dials != 2 {
		t.Errorf("Expected 2 connections, got %d", dials)
	}
}

// TestStaleIdleDiscarded tests that idle channels closed by the master are discarded on scan
func TestStaleIdleDiscarded(t *testing.T) {
	peer := newTestPeer(t, false)
	pool, set := newTestPool(t, peer.config())
	ctx := context.Background()

	first, err := pool.Lease(ctx, 1)
	if err != nil {
		t.Fatalf("Failed to lease: %v", err)
	}
	pool.Release(1)
	expectStats(t, pool, PoolStats{Active: 1, Idle: 1, Leased: 0})

	// the master goes away, the idle channel becomes stale
	peer.dropConnections()
	time.Sleep(50 * time.Millisecond)

	ch, err := pool.Lease(ctx, 2)
	if err != nil {
		t.Fatalf("Failed to lease: %v", err)
	}
	if ch == first {
		t.Fatalf("Expected a new channel instead of the stale one")
	}
	if !first.Broken() {
		t.Errorf("Expected the stale channel to be closed")
	}
	expectStats(t, pool, PoolStats{Active: 1, Idle: 0, Leased: 1})

	if resp, err := call(ch, "alive"); err != nil || resp != "alive" {
		t.Errorf("Expected working channel, got %q, %v", resp, err)
	}

	var buf bytes.Buffer
	set.WritePrometheus(&buf)
	if !strings.Contains(buf.String(), "dha_pool_channels_stale_total 1") {
		t.Errorf("Expected one stale channel in metrics, got:\n%s", buf.String())
	}
}

// TestCallTimeout tests that a missing response fails with ErrProtocolTimeout without leaking capacity
func TestCallTimeout(t *testing.T) {
	peer := newTestPeer(t, true)
	config := peer.config()
	config.MaxConcurrentChannels = 1
	pool, _ := newTestPool(t, config)
	ctx := context.Background()

	ch, err := pool.Lease(ctx, 1)
	if err != nil {
		t.Fatalf("Failed to lease: %v", err)
	}
	ch.WriteBuffer().WriteString("no answer")

	start := time.Now()
	_, err = ch.Call(ctx, 50*time.Millisecond)
	if !errors.Is(err, common.ErrProtocolTimeout) {
		t.Fatalf("Expected ErrProtocolTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Timeout took too long: %s", elapsed)
	}
	if !ch.Broken() {
		t.Errorf("Expected the channel to be marked broken")
	}

	// the broken channel still occupies its slot until it is released
	expectStats(t, pool, PoolStats{Active: 1, Idle: 0, Leased: 1})
	pool.Release(1)
	expectStats(t, pool, PoolStats{Active: 0, Idle: 0, Leased: 0})

	// the slot is usable again
	next, err := pool.Lease(ctx, 2)
	if err != nil {
		t.Fatalf("Failed to lease after timeout: %v", err)
	}
	if next == ch {
		t.Errorf("Expected a new channel after a timeout")
	}
	expectStats(t, pool, PoolStats{Active: 1, Idle: 0, Leased: 1})
}

// TestCallInterrupted tests that cancelling the context interrupts a blocked call
func TestCallInterrupted(t *testing.T) {
	peer := newTestPeer(t, true)
	pool, _ := newTestPool(t, peer.config())

	ch, err := pool.Lease(context.Background(), 1)
	if err != nil {
		t.Fatalf("Failed to lease: %v", err)
	}
	ch.WriteBuffer().WriteString("no answer")

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	_, err = ch.Call(ctx, 10*time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Interrupt took too long: %s", elapsed)
	}
	if !ch.Broken() {
		t.Errorf("Expected the interrupted channel to be marked broken")
	}
}

// TestCallPeerClosed tests that a connection closed by the master is a connectivity error
func TestCallPeerClosed(t *testing.T) {
	peer := newTestPeer(t, true)
	pool, _ := newTestPool(t, peer.config())

	ch, err := pool.Lease(context.Background(), 1)
	if err != nil {
		t.Fatalf("Failed to lease: %v", err)
	}
	ch.WriteBuffer().WriteString("dropped")
	time.AfterFunc(50*time.Millisecond, peer.dropConnections)

	_, err = ch.Call(context.Background(), 5*time.Second)
	if !errors.Is(err, common.ErrConnectivity) {
		t.Fatalf("Expected ErrConnectivity, got %v", err)
	}

	// further calls fail without I/O
	ch.WriteBuffer().WriteString("again")
	if _, err := ch.Call(context.Background(), time.Second); !errors.Is(err, common.ErrConnectivity) {
		t.Errorf("Expected ErrConnectivity on a broken channel, got %v", err)
	}
}

// TestConnectFailure tests that a failed dial returns the reserved slot
func TestConnectFailure(t *testing.T) {
	// reserve a port without a listener
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	host, port, _ := net.SplitHostPort(l.Addr().String())
	l.Close()
	portNum, _ := strconv.Atoi(port)

	config := common.NewClientConfig(host, portNum)
	config.MaxConcurrentChannels = 1
	pool, _ := newTestPool(t, config)

	for i := 0; i < 3; i++ {
		_, err := pool.Lease(context.Background(), i)
		if !errors.Is(err, common.ErrConnectivity) {
			t.Fatalf("Expected ErrConnectivity, got %v", err)
		}
	}
	expectStats(t, pool, PoolStats{Active: 0, Idle: 0, Leased: 0})
}

// TestLeaseWaitsForRelease tests that a caller at the cap gets the released channel
func TestLeaseWaitsForRelease(t *testing.T) {
	peer := newTestPeer(t, false)
	config := peer.config()
	config.MaxConcurrentChannels = 1
	pool, _ := newTestPool(t, config)
	ctx := context.Background()

	first, err := pool.Lease(ctx, 1)
	if err != nil {
		t.Fatalf("Failed to lease: %v", err)
	}

	type result struct {
		ch  *Channel
		err error
	}
	done := make(chan result, 1)
	go func() {
		ch, err := pool.Lease(ctx, 2)
		done <- result{ch, err}
	}()

	select {
	case r := <-done:
		t.Fatalf("Expected the second lease to wait, got %v", r.err)
	case <-time.After(50 * time.Millisecond):
	}

	pool.Release(1)

	select {
	case r := <-done:
		if r.err != nil {
			t.Fatalf("Waiting lease failed: %v", r.err)
		}
		if r.ch != first {
			t.Errorf("Expected the released channel to be reused")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Timeout waiting for the second lease")
	}
	expectStats(t, pool, PoolStats{Active: 1, Idle: 0, Leased: 1})
}

// TestLeaseBounded tests the lease timeout and context bounds of the admission wait
func TestLeaseBounded(t *testing.T) {
	peer := newTestPeer(t, false)

	t.Run("Lease timeout", func(t *testing.T) {
		config := peer.config()
		config.MaxConcurrentChannels = 1
		config.LeaseTimeout = 50 * time.Millisecond
		pool, _ := newTestPool(t, config)

		if _, err := pool.Lease(context.Background(), 1); err != nil {
			t.Fatalf("Failed to lease: %v", err)
		}
		_, err := pool.Lease(context.Background(), 2)
		if !errors.Is(err, common.ErrLeaseTimeout) {
			t.Errorf("Expected ErrLeaseTimeout, got %v", err)
		}
		expectStats(t, pool, PoolStats{Active: 1, Idle: 0, Leased: 1})
	})

	t.Run("Context deadline", func(t *testing.T) {
		config := peer.config()
		config.MaxConcurrentChannels = 1
		pool, _ := newTestPool(t, config)

		if _, err := pool.Lease(context.Background(), 1); err != nil {
			t.Fatalf("Failed to lease: %v", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, err := pool.Lease(ctx, 2)
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("Expected context.DeadlineExceeded, got %v", err)
		}
	})
}

// TestShutdown tests that shutdown wakes waiters, rejects leases and is idempotent
func TestShutdown(t *testing.T) {
	peer := newTestPeer(t, false)
	config := peer.config()
	config.MaxConcurrentChannels = 2
	pool, _ := newTestPool(t, config)
	ctx := context.Background()

	leased, err := pool.Lease(ctx, 1)
	if err != nil {
		t.Fatalf("Failed to lease: %v", err)
	}
	if _, err := pool.Lease(ctx, 2); err != nil {
		t.Fatalf("Failed to lease: %v", err)
	}
	pool.Release(2)
	expectStats(t, pool, PoolStats{Active: 2, Idle: 1, Leased: 1})

	// occupy the second slot so the next caller has to wait
	if _, err := pool.Lease(ctx, 3); err != nil {
		t.Fatalf("Failed to lease: %v", err)
	}
	waiter := make(chan error, 1)
	go func() {
		_, err := pool.Lease(ctx, 4)
		waiter <- err
	}()
	time.Sleep(50 * time.Millisecond)

	pool.Shutdown()
	pool.Shutdown()

	select {
	case err := <-waiter:
		if !errors.Is(err, common.ErrPoolClosed) {
			t.Errorf("Expected ErrPoolClosed for the waiter, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Waiter was not woken up by shutdown")
	}

	if _, err := pool.Lease(ctx, 5); !errors.Is(err, common.ErrPoolClosed) {
		t.Errorf("Expected ErrPoolClosed after shutdown, got %v", err)
	}
	if !leased.Broken() {
		t.Errorf("Expected leased channels to be closed by shutdown")
	}

	pool.Release(1)
	pool.Release(3)
	expectStats(t, pool, PoolStats{Active: 0, Idle: 0, Leased: 0})
}
