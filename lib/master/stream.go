package master

import (
	"io"
)

// --------------------------------------------------------------------------
// Transaction Stream (commit payload)
// --------------------------------------------------------------------------

// TransactionStream is a lazy, forward-only sequence of already encoded
// transaction log chunks. It cannot be restarted.
type TransactionStream interface {
	// Next returns the next chunk or io.EOF once the stream is exhausted.
	// The returned slice is only valid until the next call of Next.
	Next() ([]byte, error)
}

// chunkStream is a TransactionStream over in-memory chunks
type chunkStream struct {
	chunks [][]byte
}

// NewChunkStream returns a TransactionStream yielding the given chunks in order.
func NewChunkStream(chunks ...[]byte) TransactionStream {
	return &chunkStream{chunks: chunks}
}

func (s *chunkStream) Next() ([]byte, error) {
	if len(s.chunks) == 0 {
		return nil, io.EOF
	}
	c := s.chunks[0]
	s.chunks = s.chunks[1:]
	return c, nil
}

// readerStream is a TransactionStream reading fixed size chunks from a reader
type readerStream struct {
	r   io.Reader
	buf []byte
}

// NewReaderStream returns a TransactionStream that reads r in chunks of at
// most chunkSize bytes. The chunk buffer is reused between calls of Next.
func NewReaderStream(r io.Reader, chunkSize int) TransactionStream {
	if chunkSize <= 0 {
		chunkSize = 4096
	}
	return &readerStream{r: r, buf: make([]byte, chunkSize)}
}

func (s *readerStream) Next() ([]byte, error) {
	n, err := io.ReadFull(s.r, s.buf)
	switch {
	case n > 0:
		return s.buf[:n], nil
	case err == io.ErrUnexpectedEOF || err == nil:
		return nil, io.EOF
	default:
		return nil, err
	}
}

// ReadTransaction drains a TransactionStream into one contiguous byte slice.
func ReadTransaction(s TransactionStream) ([]byte, error) {
	var data []byte
	for {
		chunk, err := s.Next()
		if err == io.EOF {
			return data, nil
		}
		if err != nil {
			return nil, err
		}
		data = append(data, chunk...)
	}
}

// --------------------------------------------------------------------------
// Transaction Streams (trailing response section)
// --------------------------------------------------------------------------

// CommittedTransaction is one transaction the master sends back to a slave.
type CommittedTransaction struct {
	Resource string
	TxID     int64
	Data     []byte
}

// TransactionStreams is a lazy, forward-only sequence of committed
// transactions attached to context-bearing responses.
type TransactionStreams interface {
	// Next returns the next transaction or io.EOF once all were consumed.
	// Data of a decoded transaction aliases the connection's read buffer
	// and is valid until the next call on the same session.
	Next() (CommittedTransaction, error)

	// Len returns the number of transactions not consumed yet
	Len() int
}

// sliceStreams is a TransactionStreams over an in-memory slice
type sliceStreams struct {
	txs []CommittedTransaction
}

// NewTransactionStreams returns TransactionStreams yielding txs in order
func NewTransactionStreams(txs ...CommittedTransaction) TransactionStreams {
	return &sliceStreams{txs: txs}
}

// EmptyStreams returns TransactionStreams without any transaction
func EmptyStreams() TransactionStreams {
	return &sliceStreams{}
}

func (s *sliceStreams) Next() (CommittedTransaction, error) {
	if len(s.txs) == 0 {
		return CommittedTransaction{}, io.EOF
	}
	tx := s.txs[0]
	s.txs = s.txs[1:]
	return tx, nil
}

func (s *sliceStreams) Len() int {
	return len(s.txs)
}

// CollectTransactions drains streams, copying the data of every transaction
// so the result stays valid after the next call on the session.
func CollectTransactions(streams TransactionStreams) ([]CommittedTransaction, error) {
	if streams == nil {
		return nil, nil
	}
	txs := make([]CommittedTransaction, 0, streams.Len())
	for {
		tx, err := streams.Next()
		if err == io.EOF {
			return txs, nil
		}
		if err != nil {
			return nil, err
		}
		tx.Data = append([]byte(nil), tx.Data...)
		txs = append(txs, tx)
	}
}
