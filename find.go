package datacache

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Result is the outcome of a single-item find.
type Result int

const (
	ResultPending Result = iota
	ResultCached
	ResultFetched
	ResultAbsent
	ResultFailed
)

func (r Result) String() string {
	switch r {
	case ResultCached:
		return "cached"
	case ResultFetched:
		return "fetched"
	case ResultAbsent:
		return "absent"
	case ResultFailed:
		return "failed"
	}
	return "pending"
}

// FindStatus tracks one FindOne call. Its result is assigned exactly once.
type FindStatus[K comparable, T any] struct {
	fut *Future[*Item[K, T]]

	mu     sync.RWMutex
	result Result
	item   *Item[K, T]
	err    error
}

func newFindStatus[K comparable, T any](e *env) *FindStatus[K, T] {
	return &FindStatus[K, T]{fut: newFuture[*Item[K, T]](e)}
}

func (s *FindStatus[K, T]) finish(r Result, it *Item[K, T], err error) {
	s.mu.Lock()
	if s.result != ResultPending {
		s.mu.Unlock()
		return
	}
	s.result, s.item, s.err = r, it, err
	s.mu.Unlock()
	s.fut.resolve(it, err)
}

// Result is ResultPending until the operation completes.
func (s *FindStatus[K, T]) Result() Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.result
}

// Found reports a cached or fetched result.
func (s *FindStatus[K, T]) Found() bool {
	r := s.Result()
	return r == ResultCached || r == ResultFetched
}

// Item returns the resolved item, nil when absent or failed. Calling it
// before completion is a usage error.
func (s *FindStatus[K, T]) Item() (*Item[K, T], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.result == ResultPending {
		return nil, usage("item", "find has not completed")
	}
	return s.item, nil
}

// Key returns the key of the resolved item. It is a usage error before
// completion or when no item was resolved.
func (s *FindStatus[K, T]) Key() (K, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var zero K
	switch {
	case s.result == ResultPending:
		return zero, usage("key", "find has not completed")
	case s.item == nil:
		return zero, usage("key", "no key resolved: result %s", s.result)
	}
	return s.item.Key(), nil
}

// Err is the failure of a ResultFailed find.
func (s *FindStatus[K, T]) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// ErrorAs reinterprets the failure with errors.As.
func (s *FindStatus[K, T]) ErrorAs(target any) bool {
	err := s.Err()
	return err != nil && errors.As(err, target)
}

func (s *FindStatus[K, T]) Future() *Future[*Item[K, T]] { return s.fut }
func (s *FindStatus[K, T]) Done() <-chan struct{}         { return s.fut.Done() }
func (s *FindStatus[K, T]) Await() (*Item[K, T], error)   { return s.fut.Await() }

func (s *FindStatus[K, T]) AwaitTimeout(d time.Duration) (*Item[K, T], error) {
	return s.fut.AwaitTimeout(d)
}

func (s *FindStatus[K, T]) AwaitContext(ctx context.Context) (*Item[K, T], error) {
	return s.fut.AwaitContext(ctx)
}

// Then runs fn on the executor once the find completes.
func (s *FindStatus[K, T]) Then(fn func(*Item[K, T], error)) *Future[*Item[K, T]] {
	return s.fut.Then(fn)
}
