package flushgate

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Strategy selects how an observer reads the durable prefix.
type Strategy int

const (
	// StrategyDirect reads [0, durable) into a fresh buffer.
	StrategyDirect Strategy = iota
	// StrategyMapped maps exactly [0, durable) read-only, after durability is confirmed.
	StrategyMapped
)

func (s Strategy) String() string {
	switch s {
	case StrategyDirect:
		return "direct"
	case StrategyMapped:
		return "mmap"
	default:
		return "unknown"
	}
}

// ParseStrategy maps "direct" and "mmap" to a Strategy.
func ParseStrategy(name string) (Strategy, error) {
	switch name {
	case "direct", "read":
		return StrategyDirect, nil
	case "mmap", "mapped":
		return StrategyMapped, nil
	default:
		return 0, errors.New("flushgate: unknown strategy " + name)
	}
}

// Observer reads back only the durable prefix through its own read handle.
// It never writes to the file or to either offset.
type Observer struct {
	s        *Session
	strategy Strategy
	f        File
	seen     uint64

	closeOnce sync.Once
	closeErr  error
}

// Strategy returns the observer's read strategy.
func (o *Observer) Strategy() Strategy { return o.strategy }

// Observe waits for a flush newer than the last one this observer consumed,
// then returns a copy of [0, durable).
func (o *Observer) Observe(ctx context.Context) ([]byte, error) {
	wctx, cancel := o.s.waitContext(ctx)
	gen, err := o.s.flushDone.Wait(wctx, o.seen)
	cancel()
	if err != nil {
		return nil, o.s.waitErr("observer", err)
	}
	o.seen = gen
	return o.read(ctx)
}

// Snapshot returns [0, durable) as of now without waiting. Before the first
// flush that is the empty prefix, whatever the appender has written.
func (o *Observer) Snapshot(ctx context.Context) ([]byte, error) {
	return o.read(ctx)
}

// Verify observes the next flush and reports whether the durable prefix equals expected.
func (o *Observer) Verify(ctx context.Context, expected []byte) (bool, error) {
	got, err := o.Observe(ctx)
	if err != nil {
		return false, err
	}
	return bytes.Equal(got, expected), nil
}

// Close releases the observer's read handle.
func (o *Observer) Close() error {
	o.s.forgetObserver(o)
	return o.closeHandle()
}

func (o *Observer) closeHandle() error {
	o.closeOnce.Do(func() { o.closeErr = o.f.Close() })
	return o.closeErr
}

func (o *Observer) read(ctx context.Context) ([]byte, error) {
	s := o.s
	if s.closed.Load() {
		return nil, ErrClosed
	}

	durable := s.durable.Load()
	written := s.written.Load()
	_, span := s.tracer.Start(ctx, "flushgate.observe", trace.WithAttributes(
		attribute.String("flushgate.session", s.id),
		attribute.String("flushgate.strategy", o.strategy.String()),
		attribute.Int64("flushgate.durable", int64(durable)),
	))
	defer span.End()

	data, err := o.readPrefix(durable, written)
	s.observes.Add(1)
	s.metrics.RecordObserve(o.strategy.String(), err)
	if err != nil {
		var bounds *BoundsError
		if errors.As(err, &bounds) {
			s.logger.Errorf("%s observer: %v", o.strategy, bounds)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "observe failed")
		return nil, err
	}
	return data, nil
}

func (o *Observer) readPrefix(durable, written uint64) ([]byte, error) {
	size, err := o.f.Size()
	if err != nil {
		return nil, &IoError{Op: "stat", Offset: Offset(durable), Err: err}
	}
	if durable > uint64(size) {
		return nil, &BoundsError{
			Durable:  Offset(durable),
			Written:  Offset(written),
			FileSize: size,
			Reason:   "durable offset beyond file length",
		}
	}
	if o.s.cfg.StrictLength && uint64(size) != durable {
		return nil, &BoundsError{
			Durable:  Offset(durable),
			Written:  Offset(written),
			FileSize: size,
			Reason:   "file length differs from durable offset",
		}
	}
	if o.strategy == StrategyMapped && uint64(size) != durable {
		// later rounds are in flight; the mapping still covers only [0, durable)
		o.s.logger.Debugf("mmap observer: file size %d differs from durable offset %d (written=%d)", size, durable, written)
	}
	if durable == 0 {
		return []byte{}, nil
	}

	switch o.strategy {
	case StrategyMapped:
		return o.readMapped(durable)
	default:
		return o.readDirect(durable, written, size)
	}
}

func (o *Observer) readDirect(durable, written uint64, size int64) ([]byte, error) {
	buf := make([]byte, durable)
	n, err := o.f.ReadAt(buf, 0)
	if n == len(buf) {
		return buf, nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		// the file shrank underneath us
		return nil, &BoundsError{
			Durable:  Offset(durable),
			Written:  Offset(written),
			FileSize: size,
			Reason:   "short read of durable prefix",
		}
	}
	return nil, &IoError{Op: "read", Offset: Offset(durable), Err: err}
}

func (o *Observer) readMapped(durable uint64) ([]byte, error) {
	view, err := o.f.Map(0, int64(durable))
	if err != nil {
		return nil, &IoError{Op: "map", Offset: Offset(durable), Err: err}
	}
	out := make([]byte, durable)
	copy(out, view.Bytes())
	if err := view.Unmap(); err != nil {
		return nil, &IoError{Op: "unmap", Offset: Offset(durable), Err: err}
	}
	return out, nil
}
