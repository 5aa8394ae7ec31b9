package base

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"net"

	"github.com/ValentinKolb/dHA/rpc/common"
)

// frameHeaderSize is the size of the length prefix of every frame
const frameHeaderSize = 4

// writeFrame writes a frame to the connection with the format:
// - 4 bytes: payload length (uint32, big endian)
// - N bytes: payload
func writeFrame(conn net.Conn, data []byte) error {
	if len(data) > math.MaxInt32 {
		return fmt.Errorf("%w: payload of %d bytes too large", common.ErrMalformedFrame, len(data))
	}
	var header [frameHeaderSize]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(data)))

	b := net.Buffers{header[:]}
	if len(data) > 0 {
		b = append(b, data)
	}
	_, err := b.WriteTo(conn)
	return err
}

// readFrame reads one frame from the connection using the provided buffer.
// If the buffer is too small, it will allocate a new temporary buffer for the
// payload. Frames larger than maxLength are rejected with ErrMalformedFrame
// (the rest of the frame is not consumed, the connection must be closed).
func readFrame(conn net.Conn, buf []byte, maxLength int) ([]byte, error) {
	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(conn, header[:]); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(header[:])
	if length > math.MaxInt32 || (maxLength > 0 && int(length) > maxLength) {
		return nil, fmt.Errorf("%w: frame length %d exceeds maximum of %d bytes", common.ErrMalformedFrame, length, maxLength)
	}

	// If no data, return empty slice
	if length == 0 {
		return []byte{}, nil
	}

	// Check if buffer is large enough for data
	if len(buf) < int(length) {
		buf = make([]byte, length)
	}

	if _, err := io.ReadFull(conn, buf[:length]); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return buf[:length], nil
}
