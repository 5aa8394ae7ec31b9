package common

import (
	"errors"
	"fmt"
)

var (
	// ErrConnectivity is returned when a connection to the master cannot be
	// established or was lost (connect failure, peer closed, stale socket).
	ErrConnectivity = errors.New("connectivity error")

	// ErrProtocolTimeout is returned when no response frame arrived in time.
	ErrProtocolTimeout = errors.New("protocol timeout")

	// ErrMalformedFrame is returned when a frame or payload cannot be decoded.
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrPoolClosed is returned by the channel pool after shutdown.
	ErrPoolClosed = errors.New("channel pool is shut down")

	// ErrLeaseTimeout is returned when no channel became available within the
	// configured lease timeout.
	ErrLeaseTimeout = errors.New("lease timeout")

	// ErrUnsupportedOperation is returned for operations that are invalid on the
	// client side. It is returned before any network activity.
	ErrUnsupportedOperation = errors.New("unsupported operation")
)

// CommunicationError is the only error type returned by dispatched master
// operations. The cause (timeout, connectivity, interruption, malformed frame)
// is reachable with errors.Is / errors.As.
type CommunicationError struct {
	Op  RequestType
	Err error
}

func (e *CommunicationError) Error() string {
	return fmt.Sprintf("communication with master failed (%s): %v", e.Op, e.Err)
}

func (e *CommunicationError) Unwrap() error {
	return e.Err
}

// NewCommunicationError wraps err for operation op. An error that already is a
// CommunicationError is returned unchanged.
func NewCommunicationError(op RequestType, err error) error {
	if err == nil {
		return nil
	}
	var commErr *CommunicationError
	if errors.As(err, &commErr) {
		return err
	}
	return &CommunicationError{Op: op, Err: err}
}
