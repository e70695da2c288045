package datacache

import (
	"context"
	"errors"
	"sync"
	"time"
)

// DeleteAllStatus tracks a two-phase delete: the table delete and the cache
// eviction run independently, and the status completes once both reported.
// Its error is the table failure, the cache failure, or a *PhaseError when
// both failed.
type DeleteAllStatus struct {
	fut *Future[int64]

	mu        sync.Mutex
	tableDone bool
	cacheDone bool
	settled   bool
	tableErr  error
	cacheErr  error
	deleted   int64
	evicted   int
}

func newDeleteAllStatus(e *env) *DeleteAllStatus {
	return &DeleteAllStatus{fut: newFuture[int64](e)}
}

// completeTable records the table phase. Repeated calls are ignored.
func (s *DeleteAllStatus) completeTable(n int64, err error) {
	s.mu.Lock()
	if s.tableDone {
		s.mu.Unlock()
		return
	}
	s.tableDone, s.deleted, s.tableErr = true, n, err
	s.mu.Unlock()
	s.settle()
}

// completeCache records the cache phase. Repeated calls are ignored.
func (s *DeleteAllStatus) completeCache(n int, err error) {
	s.mu.Lock()
	if s.cacheDone {
		s.mu.Unlock()
		return
	}
	s.cacheDone, s.evicted, s.cacheErr = true, n, err
	s.mu.Unlock()
	s.settle()
}

func (s *DeleteAllStatus) settle() {
	s.mu.Lock()
	if !s.tableDone || !s.cacheDone || s.settled {
		s.mu.Unlock()
		return
	}
	s.settled = true
	deleted, evicted, err := s.deleted, s.evicted, s.combined()
	s.mu.Unlock()

	e := s.fut.env
	if err != nil {
		e.log.Warn("delete_all failed", Fields{"err": err})
	} else {
		e.log.Debug("delete_all", Fields{"deleted": deleted, "evicted": evicted})
	}
	e.hooks.DeleteAllCompleted(e.store, deleted, evicted, err)
	s.fut.resolve(deleted, err)
}

func (s *DeleteAllStatus) combined() error {
	switch {
	case s.tableErr != nil && s.cacheErr != nil:
		return &PhaseError{Table: s.tableErr, Cache: s.cacheErr}
	case s.tableErr != nil:
		return s.tableErr
	}
	return s.cacheErr
}

// Deleted is the number of table records removed, 0 while pending.
func (s *DeleteAllStatus) Deleted() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleted
}

// Evicted is the number of cached items disposed.
func (s *DeleteAllStatus) Evicted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evicted
}

// Err is nil until the status completes.
func (s *DeleteAllStatus) Err() error {
	if !s.fut.Completed() {
		return nil
	}
	_, err := s.fut.result()
	return err
}

func (s *DeleteAllStatus) ErrorAs(target any) bool {
	err := s.Err()
	return err != nil && errors.As(err, target)
}

func (s *DeleteAllStatus) Future() *Future[int64] { return s.fut }
func (s *DeleteAllStatus) Done() <-chan struct{}  { return s.fut.Done() }
func (s *DeleteAllStatus) Await() (int64, error)  { return s.fut.Await() }

func (s *DeleteAllStatus) AwaitTimeout(d time.Duration) (int64, error) {
	return s.fut.AwaitTimeout(d)
}

func (s *DeleteAllStatus) AwaitContext(ctx context.Context) (int64, error) {
	return s.fut.AwaitContext(ctx)
}

func (s *DeleteAllStatus) Then(fn func(int64, error)) *Future[int64] {
	return s.fut.Then(fn)
}
