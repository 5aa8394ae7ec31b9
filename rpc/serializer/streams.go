package serializer

import (
	"bytes"
	"fmt"
	"io"
	"math"

	"github.com/ValentinKolb/dHA/lib/master"
)

// --------------------------------------------------------------------------
// Transaction stream (commit body)
// --------------------------------------------------------------------------

// writeTransactionStream copies every chunk of s into w as
// [int32 length][bytes] and terminates the stream with a zero length.
// Empty chunks are skipped since a zero length terminates the stream. The
// transaction is never materialized.
func writeTransactionStream(w *bytes.Buffer, s master.TransactionStream) error {
	if s != nil {
		for {
			chunk, err := s.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				return fmt.Errorf("failed to read transaction stream: %w", err)
			}
			if len(chunk) == 0 {
				continue
			}
			if len(chunk) > math.MaxInt32 {
				return fmt.Errorf("transaction chunk too large: %d bytes", len(chunk))
			}
			writeInt32(w, int32(len(chunk)))
			w.Write(chunk)
		}
	}
	writeInt32(w, 0)
	return nil
}

// readTransactionStream reads the chunks of a transaction stream. The chunks
// alias the reader's data.
func readTransactionStream(r *reader) master.TransactionStream {
	var chunks [][]byte
	for r.err == nil {
		n := r.length("transaction chunk", 1)
		if r.err != nil || n == 0 {
			break
		}
		chunks = append(chunks, r.take(n, "transaction chunk"))
	}
	return master.NewChunkStream(chunks...)
}

// --------------------------------------------------------------------------
// Transaction streams (trailing response section)
// --------------------------------------------------------------------------

// minTxRecordSize is the size of a record with empty resource and data:
// int32 resource length + int64 tx id + int32 data length
const minTxRecordSize = 4 + 8 + 4

// writeTransactionStreams writes [int32 count] followed by one record per
// transaction: [string resource][int64 tx id][int32 length][bytes].
// The count is patched in after the streams were drained.
func writeTransactionStreams(w *bytes.Buffer, streams master.TransactionStreams) error {
	countPos := w.Len()
	writeInt32(w, 0)
	if streams == nil {
		return nil
	}

	count := 0
	for {
		tx, err := streams.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read transaction streams: %w", err)
		}
		if len(tx.Data) > math.MaxInt32 {
			return fmt.Errorf("transaction %d too large: %d bytes", tx.TxID, len(tx.Data))
		}
		if err := writeString(w, tx.Resource); err != nil {
			return err
		}
		writeInt64(w, tx.TxID)
		writeInt32(w, int32(len(tx.Data)))
		w.Write(tx.Data)
		count++
	}
	if count > math.MaxInt32 {
		return fmt.Errorf("too many transactions: %d", count)
	}
	patchInt32(w, countPos, int32(count))
	return nil
}

// readTransactionStreams validates the trailing section and returns a lazy
// iterator over it. Nothing is copied: the records alias the reader's data.
func readTransactionStreams(r *reader) master.TransactionStreams {
	count := r.length("transaction streams", minTxRecordSize)
	start := r.pos
	for i := 0; i < count && r.err == nil; i++ {
		readTransactionRecord(r)
	}
	if r.err != nil {
		return master.EmptyStreams()
	}
	return &encodedStreams{
		r:         reader{data: r.data[start:r.pos]},
		remaining: count,
	}
}

func readTransactionRecord(r *reader) master.CommittedTransaction {
	var tx master.CommittedTransaction
	tx.Resource = r.string("resource")
	tx.TxID = r.int64("tx id")
	tx.Data = r.take(r.length("transaction data", 1), "transaction data")
	return tx
}

// encodedStreams decodes one transaction record per call of Next
type encodedStreams struct {
	r         reader
	remaining int
}

func (s *encodedStreams) Next() (master.CommittedTransaction, error) {
	if s.remaining == 0 {
		return master.CommittedTransaction{}, io.EOF
	}
	tx := readTransactionRecord(&s.r)
	if s.r.err != nil {
		s.remaining = 0
		return master.CommittedTransaction{}, s.r.err
	}
	s.remaining--
	return tx, nil
}

func (s *encodedStreams) Len() int {
	return s.remaining
}
