package datacache

import (
	"errors"
	"fmt"
)

var (
	// ErrUsage is matched by every *UsageError.
	ErrUsage    = errors.New("datacache: usage error")
	ErrTimeout  = errors.New("datacache: await timed out")
	ErrDisposed = errors.New("datacache: item disposed")
	ErrClosed   = errors.New("datacache: datastore closed")
)

// UsageError reports invalid API sequencing. It is returned (or, for bulk
// find modifiers, panicked) synchronously and never delivered through a
// future.
type UsageError struct {
	Op  string
	Msg string
}

func (e *UsageError) Error() string { return fmt.Sprintf("datacache: %s: %s", e.Op, e.Msg) }

func (e *UsageError) Unwrap() error { return ErrUsage }

func usage(op, format string, args ...any) *UsageError {
	return &UsageError{Op: op, Msg: fmt.Sprintf(format, args...)}
}

// PanicError is the failure of a future whose continuation panicked.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string { return fmt.Sprintf("datacache: continuation panicked: %v", e.Value) }

// Unwrap exposes a panicked error value.
func (e *PanicError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}

// PhaseError is the result of a delete-all whose table and cache phases both
// failed. The table error is reported first.
type PhaseError struct {
	Table error
	Cache error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("datacache: delete-all: table: %v; cache: %v", e.Table, e.Cache)
}

func (e *PhaseError) Unwrap() []error { return []error{e.Table, e.Cache} }
