package base

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dHA/rpc/common"
	"github.com/ValentinKolb/dHA/rpc/transport"
	"github.com/puzpuzpuz/xsync/v3"
)

// -----------------------------------------------------------
// Helper Types
// -----------------------------------------------------------

// serverTransport implements the core server transport functionality.
// Requests of one connection are handled one after another (the protocol has
// no request ids), the number of requests handled concurrently over all
// connections is limited by a worker semaphore.
type serverTransport struct {
	connector  transport.IServerConnector
	handler    transport.ServerHandleFunc
	config     common.ServerConfig
	listener   net.Listener
	listenerMu sync.Mutex
	closed     atomic.Bool

	workers     chan struct{}
	bufferPool  *sync.Pool
	connections *xsync.MapOf[net.Conn, struct{}]
	wg          sync.WaitGroup
}

// connBuffers are the read and write buffers of one connection
type connBuffers struct {
	read  []byte
	write bytes.Buffer
}

// -----------------------------------------------------------
// Transport Factory Method (used for tcp)
// -----------------------------------------------------------

// NewBaseServerTransport creates a new base server transport handling at most
// maxWorkers requests at the same time.
func NewBaseServerTransport(connector transport.IServerConnector, bufferSize int, maxWorkers int) transport.IRPCServerTransport {
	// minimum one worker
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	if bufferSize <= 0 {
		bufferSize = common.DefaultReadBufferSize
	}

	return &serverTransport{
		connector:   connector,
		workers:     make(chan struct{}, maxWorkers),
		connections: xsync.NewMapOf[net.Conn, struct{}](),
		bufferPool: &sync.Pool{
			New: func() interface{} {
				return &connBuffers{read: make([]byte, bufferSize)}
			},
		},
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCServerTransport)
// --------------------------------------------------------------------------

func (t *serverTransport) RegisterHandler(handler transport.ServerHandleFunc) {
	t.handler = handler
}

func (t *serverTransport) Listen(config common.ServerConfig) error {
	// Create listener using the connector
	listener, err := t.connector.Listen(config)
	if err != nil {
		return fmt.Errorf("failed to create listener: %v", err)
	}
	return t.Serve(listener, config)
}

func (t *serverTransport) Serve(listener net.Listener, config common.ServerConfig) error {
	if t.handler == nil {
		return fmt.Errorf("no handler registered")
	}
	t.config = config.WithDefaults()

	t.listenerMu.Lock()
	if t.closed.Load() {
		t.listenerMu.Unlock()
		_ = listener.Close()
		return net.ErrClosed
	}
	t.listener = listener
	t.listenerMu.Unlock()

	Logger.Infof("Starting %s server on %s with %d workers",
		t.connector.GetName(), listener.Addr(), cap(t.workers))

	// Accept connections
	for {
		conn, err := listener.Accept()
		if err != nil {
			if t.closed.Load() {
				return nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			Logger.Errorf("Accept error: %v", err)
			time.Sleep(10 * time.Millisecond)
			continue
		}

		if t.closed.Load() {
			_ = conn.Close()
			return nil
		}
		t.connections.Store(conn, struct{}{})
		t.wg.Add(1)

		// Handle the connection in a goroutine
		go t.handleConnection(conn)
	}
}

func (t *serverTransport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}

	t.listenerMu.Lock()
	var err error
	if t.listener != nil {
		err = t.listener.Close()
	}
	t.listenerMu.Unlock()

	t.connections.Range(func(conn net.Conn, _ struct{}) bool {
		_ = conn.Close()
		return true
	})
	t.wg.Wait()
	return err
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// handleConnection handles the requests of one connection until the client
// closes it, an error occurs or the transport is closed
func (t *serverTransport) handleConnection(conn net.Conn) {
	defer t.wg.Done()
	defer t.connections.Delete(conn)
	defer conn.Close()

	Logger.Debugf("Accepted connection from %s", conn.RemoteAddr())

	bufs := t.bufferPool.Get().(*connBuffers)
	defer t.bufferPool.Put(bufs)

	for {
		err := t.handleRequest(conn, bufs)

		// Case EOF: Connection closed by client
		if err == io.EOF {
			Logger.Debugf("Connection closed by client %s", conn.RemoteAddr())
			return
		}

		// Case error: log and close connection
		if err != nil {
			if !t.closed.Load() {
				Logger.Warningf("Error handling request from %s: %v", conn.RemoteAddr(), err)
			}
			return
		}
	}
}

// handleRequest reads one request frame, passes it to the handler and writes
// the response frame
func (t *serverTransport) handleRequest(conn net.Conn, bufs *connBuffers) error {
	// idle connections are kept open until the client closes them
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return fmt.Errorf("failed to reset read deadline: %v", err)
	}

	req, err := readFrame(conn, bufs.read, t.config.MaxFrameLength)
	if err != nil {
		return err
	}

	// Acquire a worker slot (blocks if MaxWorkers requests are in progress)
	t.workers <- struct{}{}
	start := time.Now()
	bufs.write.Reset()
	err = t.handler(req, &bufs.write)
	<-t.workers
	if err != nil {
		return fmt.Errorf("handler failed: %w", err)
	}
	Logger.Debugf("Processed request of %d bytes in %s", len(req), time.Since(start))

	if t.config.Timeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(t.config.Timeout)); err != nil {
			return fmt.Errorf("failed to set write deadline: %v", err)
		}
	}
	if err := writeFrame(conn, bufs.write.Bytes()); err != nil {
		return fmt.Errorf("failed to write response: %v", err)
	}
	return nil
}
