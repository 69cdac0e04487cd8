package flushgate

import (
	"errors"
	"fmt"
)

// Offset is a byte count from the start of the append target.
type Offset uint64

// Stats exposes basic operational counters of a session.
type Stats struct {
	// Bytes physically present in the file, durability unknown.
	Written Offset
	// Bytes guaranteed durable.
	Durable Offset
	// Number of successful flushes.
	FlushGeneration uint64

	Appends        int64
	AppendFailures int64
	Syncs          int64
	SyncFailures   int64
	Observes       int64
	Timeouts       int64
}

// Errors.
var (
	// ErrClosed is returned by every role once the session is closed.
	ErrClosed = errors.New("flushgate: session closed")
	// ErrEmptyAppend is returned for zero-length payloads.
	ErrEmptyAppend = errors.New("flushgate: empty append")
	// ErrTimeout is returned when a wait exceeds its deadline.
	ErrTimeout = errors.New("flushgate: wait timed out")
)

// IoError reports an append or read that failed at the file boundary.
// Offset is the written (append) or durable (read) offset at the time of failure.
type IoError struct {
	Op     string
	Offset Offset
	Err    error
}

func (e *IoError) Error() string {
	return fmt.Sprintf("flushgate: %s at offset %d: %v", e.Op, e.Offset, e.Err)
}

func (e *IoError) Unwrap() error { return e.Err }

// SyncError reports a failed durability barrier. Captured is the written offset the
// flush would have published.
type SyncError struct {
	Captured Offset
	Durable  Offset
	Err      error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("flushgate: sync failed (captured=%d durable=%d): %v", e.Captured, e.Durable, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// BoundsError reports a violated offset invariant. It always indicates a
// coordination bug, never an external fault.
type BoundsError struct {
	Durable  Offset
	Written  Offset
	FileSize int64
	Reason   string
}

func (e *BoundsError) Error() string {
	return fmt.Sprintf("flushgate: bounds violated: %s (durable=%d written=%d file_size=%d)",
		e.Reason, e.Durable, e.Written, e.FileSize)
}

// timeoutError wraps the context error so both ErrTimeout and
// context.DeadlineExceeded match with errors.Is.
type timeoutError struct {
	role  string
	cause error
}

func (e *timeoutError) Error() string {
	return fmt.Sprintf("flushgate: %s wait timed out: %v", e.role, e.cause)
}

func (e *timeoutError) Is(target error) bool { return target == ErrTimeout }

func (e *timeoutError) Unwrap() error { return e.cause }
