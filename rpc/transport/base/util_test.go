package base

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"testing"

	"github.com/ValentinKolb/dHA/rpc/common"
)

// TestFrameRoundTrip tests that frames written by writeFrame are read back unchanged
func TestFrameRoundTrip(t *testing.T) {
	testCases := []struct {
		name    string
		payload []byte
		bufSize int
	}{
		{"Empty payload", []byte{}, 16},
		{"Small payload", []byte("ping"), 16},
		{"Payload larger than buffer", bytes.Repeat([]byte{0x5A}, 1000), 16},
		{"No buffer", []byte("no buffer"), 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			client, server := net.Pipe()
			defer client.Close()
			defer server.Close()

			errCh := make(chan error, 1)
			go func() {
				errCh <- writeFrame(client, tc.payload)
			}()

			buf := make([]byte, tc.bufSize)
			got, err := readFrame(server, buf, 0)
			if err != nil {
				t.Fatalf("Failed to read frame: %v", err)
			}
			if err := <-errCh; err != nil {
				t.Fatalf("Failed to write frame: %v", err)
			}
			if !bytes.Equal(got, tc.payload) {
				t.Errorf("Payload mismatch: expected %d bytes, got %d bytes", len(tc.payload), len(got))
			}
		})
	}
}

// TestFrameTooLarge tests that frames above the maximum length are rejected
func TestFrameTooLarge(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		var header [frameHeaderSize]byte
		binary.BigEndian.PutUint32(header[:], 1024)
		_, _ = client.Write(header[:])
	}()

	_, err := readFrame(server, nil, 512)
	if !errors.Is(err, common.ErrMalformedFrame) {
		t.Errorf("Expected ErrMalformedFrame, got %v", err)
	}
}

// TestFrameTruncated tests a connection closed in the middle of a frame
func TestFrameTruncated(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	go func() {
		var header [frameHeaderSize]byte
		binary.BigEndian.PutUint32(header[:], 10)
		_, _ = client.Write(header[:])
		_, _ = client.Write([]byte("abc"))
		client.Close()
	}()

	_, err := readFrame(server, make([]byte, 64), 0)
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("Expected io.ErrUnexpectedEOF, got %v", err)
	}
}

// TestFrameEOF tests a connection closed between two frames
func TestFrameEOF(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	client.Close()

	_, err := readFrame(server, nil, 0)
	if err != io.EOF {
		t.Errorf("Expected io.EOF, got %v", err)
	}
}
