package base

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dHA/rpc/common"
)

// aLongTimeAgo is a deadline in the past, setting it interrupts blocked I/O
var aLongTimeAgo = time.Unix(1, 0)

// Channel is one connection to the master together with its buffers. A
// channel is used by at most one session at a time, which is guaranteed by the
// ChannelPool: the buffers are only reachable through a lease.
type Channel struct {
	id             uint64
	conn           net.Conn
	wbuf           bytes.Buffer
	rbuf           []byte
	maxFrameLength int

	broken    atomic.Bool
	closeOnce sync.Once
}

func newChannel(id uint64, conn net.Conn, config common.ClientConfig) *Channel {
	return &Channel{
		id:             id,
		conn:           conn,
		rbuf:           make([]byte, config.ReadBufferSize),
		maxFrameLength: config.MaxFrameLength,
	}
}

// ID returns the pool wide unique id of the channel
func (c *Channel) ID() uint64 {
	return c.id
}

// RemoteAddr returns the address of the master
func (c *Channel) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// WriteBuffer resets the write buffer of the channel and returns it. The
// content of the buffer is sent as one frame by the next call of Call.
func (c *Channel) WriteBuffer() *bytes.Buffer {
	c.wbuf.Reset()
	return &c.wbuf
}

// Call sends the write buffer as one frame and blocks until exactly one
// response frame was read. The wait is bounded by timeout and by the deadline
// of ctx, cancelling ctx interrupts it.
//
// The returned payload aliases the read buffer of the channel and stays valid
// until the next call. On any error the channel is marked as broken and its
// connection is closed. The errors wrap common.ErrProtocolTimeout,
// common.ErrConnectivity, common.ErrMalformedFrame or the error of ctx.
func (c *Channel) Call(ctx context.Context, timeout time.Duration) ([]byte, error) {
	if c.broken.Load() {
		return nil, fmt.Errorf("%w: channel %d is closed", common.ErrConnectivity, c.id)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		c.MarkBroken()
		return nil, fmt.Errorf("%w: %v", common.ErrConnectivity, err)
	}

	// interrupt blocked I/O once ctx is done
	interrupted := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(aLongTimeAgo)
		close(interrupted)
	})
	defer func() {
		if !stop() {
			<-interrupted
		}
	}()

	if err := writeFrame(c.conn, c.wbuf.Bytes()); err != nil {
		c.MarkBroken()
		return nil, c.classify(ctx, err, timeout)
	}
	payload, err := readFrame(c.conn, c.rbuf, c.maxFrameLength)
	if err != nil {
		c.MarkBroken()
		return nil, c.classify(ctx, err, timeout)
	}
	return payload, nil
}

// MarkBroken closes the connection of the channel. A broken channel is never
// cached again by the pool.
func (c *Channel) MarkBroken() {
	c.broken.Store(true)
	c.closeOnce.Do(func() {
		_ = c.conn.Close()
	})
}

// Broken reports whether the channel was marked as broken (or closed)
func (c *Channel) Broken() bool {
	return c.broken.Load()
}

// isConnected checks whether the connection is still usable. The master never
// sends unsolicited data: a read that times out means the connection is alive,
// EOF, an error or unexpected data mean it is stale.
func (c *Channel) isConnected() bool {
	if c.broken.Load() {
		return false
	}
	if err := c.conn.SetReadDeadline(time.Now().Add(time.Millisecond)); err != nil {
		return false
	}
	var one [1]byte
	n, err := c.conn.Read(one[:])
	if n > 0 {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		_ = c.conn.SetReadDeadline(time.Time{})
		return true
	}
	return false
}

// classify maps an I/O error of a call to the error taxonomy of the client
func (c *Channel) classify(ctx context.Context, err error, timeout time.Duration) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("request interrupted: %w", ctxErr)
	}
	if errors.Is(err, common.ErrMalformedFrame) {
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: no response within %s", common.ErrProtocolTimeout, timeout)
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: connection closed by master", common.ErrConnectivity)
	}
	return fmt.Errorf("%w: %v", common.ErrConnectivity, err)
}
