package master

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
)

func session(machine int32) SlaveContext {
	return SlaveContext{MachineID: machine, EventIdentifier: 1}
}

func collect(t *testing.T, streams TransactionStreams) []CommittedTransaction {
	t.Helper()
	txs, err := CollectTransactions(streams)
	if err != nil {
		t.Fatalf("Failed to collect transactions: %v", err)
	}
	return txs
}

func commit(t *testing.T, m *MemoryMaster, sc SlaveContext, resource, data string) Response[int64] {
	t.Helper()
	resp, err := m.CommitSingleResourceTransaction(context.Background(), sc, resource, NewChunkStream([]byte(data)))
	if err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	return resp
}

func TestAllocateIds(t *testing.T) {
	m := NewMemoryMaster(1, 50)
	ctx := context.Background()

	for i, expected := range []int64{0, 50, 100} {
		alloc, err := m.AllocateIds(ctx, IdTypeNode)
		if err != nil {
			t.Fatalf("AllocateIds failed: %v", err)
		}
		if alloc.Range.RangeStart != expected || alloc.Range.RangeLength != 50 {
			t.Errorf("Allocation %d: expected start %d, got %+v", i, expected, alloc.Range)
		}
		if alloc.HighestIDInUse != expected+50 {
			t.Errorf("Allocation %d: expected highest id %d, got %d", i, expected+50, alloc.HighestIDInUse)
		}
	}

	// id spaces are independent
	alloc, err := m.AllocateIds(ctx, IdTypeRelationship)
	if err != nil || alloc.Range.RangeStart != 0 {
		t.Errorf("Expected a fresh id space, got %+v, %v", alloc.Range, err)
	}

	if _, err := m.AllocateIds(ctx, IdType(NumIdTypes)); err == nil {
		t.Errorf("Expected an error for an invalid id type")
	}

	if got := m.Registry().Get("master.ids.allocated"); got == nil {
		t.Errorf("Expected the id counter to be registered")
	}
}

func TestCreateRelationshipType(t *testing.T) {
	m := NewMemoryMaster(1, 10)
	ctx := context.Background()
	sc := session(1)

	var wg sync.WaitGroup
	ids := make([]int32, 20)
	for i := range ids {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := m.CreateRelationshipType(ctx, sc, "KNOWS")
			if err != nil {
				t.Errorf("CreateRelationshipType failed: %v", err)
				return
			}
			ids[i] = resp.Value
		}()
	}
	wg.Wait()

	for i, id := range ids {
		if id != 0 {
			t.Errorf("Call %d: expected id 0, got %d", i, id)
		}
	}

	resp, err := m.CreateRelationshipType(ctx, sc, "LIKES")
	if err != nil || resp.Value != 1 {
		t.Errorf("Expected id 1 for a second type, got %d, %v", resp.Value, err)
	}
	if _, err := m.CreateRelationshipType(ctx, sc, ""); err == nil {
		t.Errorf("Expected an error for an empty name")
	}
}

func TestLocks(t *testing.T) {
	ctx := context.Background()
	a, b, c := session(1), session(2), session(3)

	testCases := []struct {
		name     string
		run      func(m *MemoryMaster) (Response[LockResult], error)
		expected LockStatus
	}{
		{
			name: "Write lock on held node",
			run: func(m *MemoryMaster) (Response[LockResult], error) {
				return m.AcquireNodeWriteLock(ctx, b, 1)
			},
			expected: LockStatusNotLocked,
		},
		{
			name: "Read lock on written node",
			run: func(m *MemoryMaster) (Response[LockResult], error) {
				return m.AcquireNodeReadLock(ctx, b, 1)
			},
			expected: LockStatusNotLocked,
		},
		{
			name: "Owner locks again",
			run: func(m *MemoryMaster) (Response[LockResult], error) {
				return m.AcquireNodeReadLock(ctx, a, 1)
			},
			expected: LockStatusOkLocked,
		},
		{
			name: "Shared read locks",
			run: func(m *MemoryMaster) (Response[LockResult], error) {
				return m.AcquireNodeReadLock(ctx, c, 2)
			},
			expected: LockStatusOkLocked,
		},
		{
			name: "Write lock on read node",
			run: func(m *MemoryMaster) (Response[LockResult], error) {
				return m.AcquireNodeWriteLock(ctx, c, 2)
			},
			expected: LockStatusNotLocked,
		},
		{
			name: "Relationship space is separate",
			run: func(m *MemoryMaster) (Response[LockResult], error) {
				return m.AcquireRelationshipWriteLock(ctx, b, 1)
			},
			expected: LockStatusOkLocked,
		},
		{
			name: "Relationship read lock on written relationship",
			run: func(m *MemoryMaster) (Response[LockResult], error) {
				return m.AcquireRelationshipReadLock(ctx, b, 7)
			},
			expected: LockStatusNotLocked,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			m := NewMemoryMaster(1, 10)
			// a writes node 1 and relationship 7, a and b read node 2
			if r, _ := m.AcquireNodeWriteLock(ctx, a, 1); r.Value.Status != LockStatusOkLocked {
				t.Fatalf("Setup failed")
			}
			if r, _ := m.AcquireRelationshipWriteLock(ctx, a, 7); r.Value.Status != LockStatusOkLocked {
				t.Fatalf("Setup failed")
			}
			if r, _ := m.AcquireNodeReadLock(ctx, a, 2); r.Value.Status != LockStatusOkLocked {
				t.Fatalf("Setup failed")
			}

			resp, err := tc.run(m)
			if err != nil {
				t.Fatalf("Lock request failed: %v", err)
			}
			if resp.Value.Status != tc.expected {
				t.Errorf("Expected %s, got %s", tc.expected, resp.Value.Status)
			}
		})
	}
}

func TestLocksAllOrNothing(t *testing.T) {
	m := NewMemoryMaster(1, 10)
	ctx := context.Background()
	a, b, c := session(1), session(2), session(3)

	if r, _ := m.AcquireNodeWriteLock(ctx, a, 2); r.Value.Status != LockStatusOkLocked {
		t.Fatalf("Expected a to lock node 2")
	}
	if r, _ := m.AcquireNodeWriteLock(ctx, b, 1, 2, 3); r.Value.Status != LockStatusNotLocked {
		t.Fatalf("Expected b to be denied")
	}
	// nothing of the denied request was granted
	if r, _ := m.AcquireNodeWriteLock(ctx, c, 1, 3); r.Value.Status != LockStatusOkLocked {
		t.Errorf("Expected nodes 1 and 3 to be free")
	}
}

func TestLocksReleased(t *testing.T) {
	ctx := context.Background()

	testCases := []struct {
		name    string
		release func(m *MemoryMaster, sc SlaveContext) error
	}{
		{
			name: "Finish",
			release: func(m *MemoryMaster, sc SlaveContext) error {
				_, err := m.FinishTransaction(ctx, sc)
				return err
			},
		},
		{
			name: "Rollback",
			release: func(m *MemoryMaster, sc SlaveContext) error {
				return m.RollbackOngoingTransactions(ctx, sc)
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			m := NewMemoryMaster(1, 10)
			a, b := session(1), session(2)

			_, _ = m.AcquireNodeWriteLock(ctx, a, 1, 2)
			_, _ = m.AcquireRelationshipReadLock(ctx, a, 3)
			if m.ActiveSessions() != 1 {
				t.Fatalf("Expected one active session, got %d", m.ActiveSessions())
			}

			if err := tc.release(m, a); err != nil {
				t.Fatalf("Release failed: %v", err)
			}
			if m.ActiveSessions() != 0 {
				t.Errorf("Expected no active session, got %d", m.ActiveSessions())
			}
			if r, _ := m.AcquireNodeWriteLock(ctx, b, 1, 2); r.Value.Status != LockStatusOkLocked {
				t.Errorf("Expected node locks to be released")
			}
			if r, _ := m.AcquireRelationshipWriteLock(ctx, b, 3); r.Value.Status != LockStatusOkLocked {
				t.Errorf("Expected relationship locks to be released")
			}
			if desc := m.locks.describe(entityNode, 9); !strings.Contains(desc, "unlocked") {
				t.Errorf("Unexpected description: %s", desc)
			}
		})
	}
}

func TestCommitAndUpdates(t *testing.T) {
	m := NewMemoryMaster(5, 10)
	ctx := context.Background()
	writer, reader := session(1), session(2)

	first := commit(t, m, writer, "nodes", "n1")
	if first.Value != 2 {
		t.Errorf("Expected the first tx id to be 2, got %d", first.Value)
	}
	if first.Streams.Len() != 0 {
		t.Errorf("Expected no updates for the first commit")
	}

	// the committing slave does not get its own transaction back
	second := commit(t, m, writer, "rels", "r1")
	txs := collect(t, second.Streams)
	if second.Value != 3 || len(txs) != 1 || txs[0].TxID != 2 {
		t.Errorf("Expected tx 3 with tx 2 as update, got %d with %+v", second.Value, txs)
	}

	commit(t, m, writer, "nodes", "n2")

	// all updates, ordered by resource and tx id
	resp, err := m.PullUpdates(ctx, reader)
	if err != nil {
		t.Fatalf("PullUpdates failed: %v", err)
	}
	txs = collect(t, resp.Streams)
	expected := []CommittedTransaction{
		{Resource: "nodes", TxID: 2, Data: []byte("n1")},
		{Resource: "nodes", TxID: 4, Data: []byte("n2")},
		{Resource: "rels", TxID: 3, Data: []byte("r1")},
	}
	if len(txs) != len(expected) {
		t.Fatalf("Expected %d updates, got %d", len(expected), len(txs))
	}
	for i := range expected {
		if txs[i].Resource != expected[i].Resource || txs[i].TxID != expected[i].TxID || !bytes.Equal(txs[i].Data, expected[i].Data) {
			t.Errorf("Update %d: expected %+v, got %+v", i, expected[i], txs[i])
		}
	}

	// only transactions newer than the last applied one
	reader.LastAppliedTransactions = []ResourceVersion{{Resource: "nodes", TxID: 2}, {Resource: "rels", TxID: 3}}
	resp, _ = m.PullUpdates(ctx, reader)
	txs = collect(t, resp.Streams)
	if len(txs) != 1 || txs[0].TxID != 4 {
		t.Errorf("Expected only tx 4, got %+v", txs)
	}

	for _, txID := range []int64{2, 3, 4} {
		id, err := m.GetMasterIdForCommittedTx(ctx, txID)
		if err != nil || id != 5 {
			t.Errorf("Expected master id 5 for tx %d, got %d, %v", txID, id, err)
		}
	}
	if _, err := m.GetMasterIdForCommittedTx(ctx, 1); err == nil {
		t.Errorf("Expected an error for an unknown transaction")
	}
}

func TestCommitErrors(t *testing.T) {
	m := NewMemoryMaster(1, 10)
	ctx := context.Background()

	if _, err := m.CommitSingleResourceTransaction(ctx, session(1), "", NewChunkStream([]byte("x"))); err == nil {
		t.Errorf("Expected an error for an empty resource")
	}
	if _, err := m.CommitSingleResourceTransaction(ctx, session(1), "nodes", &failingStream{}); err == nil {
		t.Errorf("Expected an error for a failing stream")
	}
	if _, err := m.GetMasterIdForCommittedTx(ctx, 2); err == nil {
		t.Errorf("Expected nothing to be committed")
	}
}

type failingStream struct{}

func (failingStream) Next() ([]byte, error) {
	return nil, io.ErrClosedPipe
}

func TestStreams(t *testing.T) {
	t.Run("Chunk stream", func(t *testing.T) {
		data, err := ReadTransaction(NewChunkStream([]byte("a"), nil, []byte("bc")))
		if err != nil || string(data) != "abc" {
			t.Errorf("Expected abc, got %q, %v", data, err)
		}
	})

	t.Run("Reader stream", func(t *testing.T) {
		input := bytes.Repeat([]byte("0123456789"), 100)
		s := NewReaderStream(bytes.NewReader(input), 64)

		var chunks int
		var data []byte
		for {
			chunk, err := s.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				t.Fatalf("Next failed: %v", err)
			}
			if len(chunk) > 64 {
				t.Errorf("Chunk too large: %d", len(chunk))
			}
			chunks++
			data = append(data, chunk...)
		}
		if !bytes.Equal(data, input) {
			t.Errorf("Data mismatch")
		}
		if chunks != 16 {
			t.Errorf("Expected 16 chunks, got %d", chunks)
		}
	})

	t.Run("Empty reader stream", func(t *testing.T) {
		data, err := ReadTransaction(NewReaderStream(bytes.NewReader(nil), 0))
		if err != nil || len(data) != 0 {
			t.Errorf("Expected no data, got %q, %v", data, err)
		}
	})

	t.Run("Collect copies data", func(t *testing.T) {
		buf := []byte("data")
		txs, err := CollectTransactions(NewTransactionStreams(CommittedTransaction{Resource: "r", TxID: 2, Data: buf}))
		if err != nil || len(txs) != 1 {
			t.Fatalf("Collect failed: %v", err)
		}
		buf[0] = 'X'
		if string(txs[0].Data) != "data" {
			t.Errorf("Expected a copy, got %q", txs[0].Data)
		}
	})

	t.Run("Nil streams", func(t *testing.T) {
		resp := NewResponse(int32(1), nil)
		if resp.Streams == nil || resp.Streams.Len() != 0 {
			t.Errorf("Expected empty streams")
		}
	})
}

func TestSlaveContext(t *testing.T) {
	sc := SlaveContext{
		MachineID:               4,
		EventIdentifier:         9,
		LastAppliedTransactions: []ResourceVersion{{Resource: "nodes", TxID: 12}},
	}
	if sc.SessionID().String() != "4/9" {
		t.Errorf("Unexpected session id: %s", sc.SessionID())
	}
	if sc.LastApplied("nodes") != 12 || sc.LastApplied("rels") != 0 {
		t.Errorf("Unexpected last applied transactions")
	}

	for i := 0; i < NumIdTypes; i++ {
		parsed, err := ParseIdType(IdType(i).String())
		if err != nil || parsed != IdType(i) {
			t.Errorf("Failed to parse id type %d: %v", i, err)
		}
	}
	if _, err := ParseIdType("bogus"); err == nil {
		t.Errorf("Expected an error for an unknown id type")
	}
}
