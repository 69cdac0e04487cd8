package flushgate

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Appender is the only writer of file content and of the written offset.
type Appender struct {
	s  *Session
	mu sync.Mutex
	w  *bufio.Writer

	// halted is set once a failed append left bytes in the file that the
	// written offset does not account for.
	halted error
}

func newAppender(s *Session) *Appender {
	return &Appender{
		s: s,
		w: bufio.NewWriterSize(s.appendFile, s.cfg.WriteBufferBytes),
	}
}

// Append writes data at the end of the file and returns the new written offset.
//
// The written offset moves and write-complete fires only after every byte
// reached the file. On failure the offset is unchanged and no signal fires.
func (a *Appender) Append(ctx context.Context, data []byte) (Offset, error) {
	if len(data) == 0 {
		return a.s.Written(), ErrEmptyAppend
	}
	if a.s.closed.Load() {
		return a.s.Written(), ErrClosed
	}

	_, span := a.s.tracer.Start(ctx, "flushgate.append", trace.WithAttributes(
		attribute.String("flushgate.session", a.s.id),
		attribute.Int("flushgate.bytes", len(data)),
	))
	defer span.End()

	a.mu.Lock()
	defer a.mu.Unlock()

	cur := a.s.written.Load()
	if a.s.closed.Load() {
		return Offset(cur), ErrClosed
	}
	if a.halted != nil {
		return Offset(cur), a.halted
	}

	prev := a.s.state.Swap(int32(StateAppending))
	if err := a.write(data); err != nil {
		// the durabilizer may have moved the state on since the swap
		a.s.state.CompareAndSwap(int32(StateAppending), prev)
		ioErr := &IoError{Op: "append", Offset: Offset(cur), Err: err}
		a.checkTail(cur)

		a.s.appendFailures.Add(1)
		a.s.metrics.RecordAppend(a.s.id, len(data), cur, err)
		a.s.logger.Errorf("append of %d bytes failed at written=%d durable=%d: %v",
			len(data), cur, a.s.durable.Load(), err)
		span.RecordError(ioErr)
		span.SetStatus(codes.Error, "append failed")
		return Offset(cur), ioErr
	}

	next := cur + uint64(len(data))
	a.s.written.Store(next)
	a.s.state.Store(int32(StateWritten))
	a.s.writeDone.Notify()

	a.s.appends.Add(1)
	a.s.metrics.RecordAppend(a.s.id, len(data), next, nil)
	a.s.logger.Debugf("appended %d bytes (written=%d)", len(data), next)
	span.SetAttributes(attribute.Int64("flushgate.written", int64(next)))
	return Offset(next), nil
}

func (a *Appender) write(data []byte) error {
	n, err := a.w.Write(data)
	if err == nil && n < len(data) {
		err = io.ErrShortWrite
	}
	if err == nil {
		err = a.w.Flush()
	}
	if err != nil {
		// Drop whatever is still buffered so a later append does not replay it.
		a.w.Reset(a.s.appendFile)
	}
	return err
}

// checkTail halts the appender if the failed write left a partial tail.
func (a *Appender) checkTail(written uint64) {
	size, err := a.s.appendFile.Size()
	if err != nil {
		a.halted = &IoError{Op: "append", Offset: Offset(written), Err: fmt.Errorf("stat after failed append: %w", err)}
		return
	}
	if uint64(size) != written {
		a.halted = &IoError{
			Op:     "append",
			Offset: Offset(written),
			Err:    fmt.Errorf("appender halted: %d unaccounted bytes past written offset", uint64(size)-written),
		}
	}
}
