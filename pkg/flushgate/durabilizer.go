package flushgate

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fluxorio/flushgate/pkg/failfast"
)

// Durabilizer turns written bytes into durable bytes. It is the only writer of
// the durable offset.
type Durabilizer struct {
	s       *Session
	mu      sync.Mutex
	running atomic.Bool
}

// FlushOnce captures the written offset, syncs, and publishes the captured value.
//
// The published offset never exceeds what the sync covered: bytes appended
// after the capture are left for the next round.
func (d *Durabilizer) FlushOnce(ctx context.Context) (Offset, error) {
	s := d.s
	if s.closed.Load() {
		return s.Durable(), ErrClosed
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if s.closed.Load() {
		return s.Durable(), ErrClosed
	}

	captured := s.written.Load()
	_, span := s.tracer.Start(ctx, "flushgate.flush", trace.WithAttributes(
		attribute.String("flushgate.session", s.id),
		attribute.Int64("flushgate.captured", int64(captured)),
	))
	defer span.End()

	s.state.Store(int32(StateFlushing))
	start := time.Now()
	err := s.syncFile.Sync()
	took := time.Since(start)

	if err != nil {
		durable := s.durable.Load()
		syncErr := &SyncError{Captured: Offset(captured), Durable: Offset(durable), Err: err}
		s.state.Store(int32(StateWritten))
		s.syncFailures.Add(1)
		s.metrics.RecordSync(s.id, took, durable, s.flushDone.Generation(), err)
		s.logger.Errorf("sync failed (captured=%d durable=%d): %v", captured, durable, err)
		span.RecordError(syncErr)
		span.SetStatus(codes.Error, "sync failed")
		return Offset(durable), syncErr
	}

	published := captured
	cur := s.durable.Load()
	if s.cfg.AssertInvariants {
		failfast.If(cur <= captured, "durable offset %d ahead of captured written offset %d", cur, captured)
	}
	if cur >= captured {
		published = cur
	} else {
		s.durable.Store(captured)
	}
	gen := s.flushDone.Publish()
	s.checkInvariants()

	written := s.written.Load()
	if published == written {
		s.state.Store(int32(StateDurable))
	} else {
		s.state.Store(int32(StateWritten))
	}
	s.syncs.Add(1)
	s.metrics.RecordSync(s.id, took, published, gen, nil)
	s.logger.Debugf("published durable=%d generation=%d in %s", published, gen, took)
	span.SetAttributes(
		attribute.Int64("flushgate.durable", int64(published)),
		attribute.Int64("flushgate.generation", int64(gen)),
	)

	ev := FlushEvent{
		Session:      s.id,
		Generation:   gen,
		Durable:      Offset(published),
		Written:      Offset(written),
		SyncDuration: took,
		Time:         time.Now(),
	}
	for _, l := range s.listeners {
		if lerr := l.OnFlush(ev); lerr != nil {
			s.logger.Warnf("flush listener failed for durable=%d: %v", published, lerr)
		}
	}
	return Offset(published), nil
}

// Run flushes once per write-complete signal until ctx is done or the session
// closes. A failed sync is retried after SyncRetryBackoff when configured,
// otherwise on the next signal. Durability is never claimed for a failed sync.
func (d *Durabilizer) Run(ctx context.Context) error {
	if !d.running.CompareAndSwap(false, true) {
		return errors.New("flushgate: durabilizer already running")
	}
	defer d.running.Store(false)

	s := d.s
	backoff := s.cfg.SyncRetryBackoff.Std()
	for {
		if err := s.writeDone.Wait(ctx); err != nil {
			return err
		}
		for {
			_, err := d.FlushOnce(ctx)
			if err == nil {
				break
			}
			var syncErr *SyncError
			if !errors.As(err, &syncErr) {
				return err
			}
			if backoff <= 0 {
				break
			}
			t := time.NewTimer(backoff)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-s.done:
				t.Stop()
				return ErrClosed
			}
		}
	}
}
