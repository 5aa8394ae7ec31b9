package client

import (
	"context"

	"github.com/ValentinKolb/dHA/lib/master"
)

// Session scopes the context-bearing operations of one slave session. It
// keeps the slave context of the session and guarantees that the channel
// leased for it is given back: Close finishes the session unless it was
// already finished.
//
//	s := client.BeginSession(sc)
//	defer s.Close()
//	res, err := s.AcquireNodeWriteLock(ctx, 42)
//
// A Session is not safe for concurrent use.
type Session struct {
	client *MasterClient
	sc     master.SlaveContext
	closed bool
}

// Context returns the slave context sent with every request of the session
func (s *Session) Context() master.SlaveContext {
	return s.sc
}

// Applied records that the slave applied tx, later requests report it as the
// last applied transaction of its resource
func (s *Session) Applied(resource string, txID int64) {
	for i, v := range s.sc.LastAppliedTransactions {
		if v.Resource == resource {
			if txID > v.TxID {
				s.sc.LastAppliedTransactions[i].TxID = txID
			}
			return
		}
	}
	s.sc.LastAppliedTransactions = append(s.sc.LastAppliedTransactions, master.ResourceVersion{Resource: resource, TxID: txID})
}

// Holds reports whether the session currently holds a channel
func (s *Session) Holds() bool {
	return s.client.pool.Holds(sessionKey(s.sc))
}

func (s *Session) CreateRelationshipType(ctx context.Context, name string) (master.Response[int32], error) {
	return s.client.CreateRelationshipType(ctx, s.sc, name)
}

func (s *Session) AcquireNodeWriteLock(ctx context.Context, nodes ...int64) (master.Response[master.LockResult], error) {
	return s.client.AcquireNodeWriteLock(ctx, s.sc, nodes...)
}

func (s *Session) AcquireNodeReadLock(ctx context.Context, nodes ...int64) (master.Response[master.LockResult], error) {
	return s.client.AcquireNodeReadLock(ctx, s.sc, nodes...)
}

func (s *Session) AcquireRelationshipWriteLock(ctx context.Context, relationships ...int64) (master.Response[master.LockResult], error) {
	return s.client.AcquireRelationshipWriteLock(ctx, s.sc, relationships...)
}

func (s *Session) AcquireRelationshipReadLock(ctx context.Context, relationships ...int64) (master.Response[master.LockResult], error) {
	return s.client.AcquireRelationshipReadLock(ctx, s.sc, relationships...)
}

func (s *Session) Commit(ctx context.Context, resource string, tx master.TransactionStream) (master.Response[int64], error) {
	return s.client.CommitSingleResourceTransaction(ctx, s.sc, resource, tx)
}

func (s *Session) PullUpdates(ctx context.Context) (master.Response[master.Void], error) {
	return s.client.PullUpdates(ctx, s.sc)
}

// Finish ends the session on the master and gives its channel back
func (s *Session) Finish(ctx context.Context) (master.Response[master.Void], error) {
	s.closed = true
	return s.client.FinishTransaction(ctx, s.sc)
}

// Close finishes the session if it still holds a channel. Calling Close after
// Finish or more than once does nothing.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if !s.Holds() {
		return nil
	}
	_, err := s.client.FinishTransaction(context.Background(), s.sc)
	return err
}
