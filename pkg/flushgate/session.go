package flushgate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/fluxorio/flushgate/pkg/config"
	"github.com/fluxorio/flushgate/pkg/failfast"
	"github.com/fluxorio/flushgate/pkg/log"
	"github.com/fluxorio/flushgate/pkg/metrics"
)

const instrumentationName = "github.com/fluxorio/flushgate/pkg/flushgate"

// Option customizes a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(l log.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithMetrics records pipeline metrics on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithTracerProvider traces roles with tp instead of the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Session) { s.tracer = tp.Tracer(instrumentationName) }
}

// WithFileOpener replaces the OS file opener, e.g. for fault injection.
func WithFileOpener(open FileOpener) Option {
	return func(s *Session) { s.open = open }
}

// WithFlushListener registers l to be called after every successful flush.
func WithFlushListener(l FlushListener) Option {
	return func(s *Session) { s.listeners = append(s.listeners, l) }
}

// WithID overrides the generated session ID.
func WithID(id string) Option {
	return func(s *Session) { s.id = id }
}

// Session owns the append target, the two offset cells and the two signals
// shared by the appender, the durabilizer and any number of observers.
//
// Each offset cell has exactly one writer: the appender stores the written
// offset after its bytes reached the file, the durabilizer stores the durable
// offset after a successful sync. Readers only load.
type Session struct {
	id      string
	cfg     config.Config
	path    string
	logger  log.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	open    FileOpener

	appendFile File
	syncFile   File

	written atomic.Uint64
	durable atomic.Uint64
	state   atomic.Int32

	writeDone *Signal
	flushDone *Broadcast
	listeners []FlushListener

	appender    *Appender
	durabilizer *Durabilizer

	closed atomic.Bool
	done   chan struct{}

	mu        sync.Mutex
	observers map[*Observer]struct{}

	appends        atomic.Int64
	appendFailures atomic.Int64
	syncs          atomic.Int64
	syncFailures   atomic.Int64
	observes       atomic.Int64
	timeouts       atomic.Int64
}

// Open opens (creating if needed) the append target described by cfg.
//
// An existing file is treated as written but not yet durable: the written
// offset starts at its length, the durable offset at 0, and a write-complete
// notification is queued so the first durabilizer round covers it.
func Open(cfg config.Config, opts ...Option) (*Session, error) {
	if cfg.FileName == "" {
		return nil, fmt.Errorf("file name is required")
	}
	if cfg.WriteBufferBytes <= 0 {
		cfg.WriteBufferBytes = 64 << 10
	}

	s := &Session{
		id:        uuid.NewString(),
		cfg:       cfg,
		path:      cfg.Path(),
		open:      OpenOSFile,
		writeDone: NewSignal(),
		flushDone: NewBroadcast(),
		done:      make(chan struct{}),
		observers: make(map[*Observer]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer(instrumentationName)
	}
	if s.logger == nil {
		s.logger = log.NewLevelLogger(cfg.LogLevel)
	}
	failfast.NotNil(s.open, "file opener")
	s.logger = s.logger.WithFields(map[string]interface{}{"session": s.id})

	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, err
		}
	}

	var err error
	s.appendFile, err = s.open(s.path, appendFlags, cfg.Mode())
	if err != nil {
		return nil, fmt.Errorf("open append handle %s: %w", s.path, err)
	}
	size, err := s.appendFile.Size()
	if err != nil {
		_ = s.appendFile.Close()
		return nil, fmt.Errorf("stat %s: %w", s.path, err)
	}
	s.syncFile, err = s.open(s.path, syncFlags, cfg.Mode())
	if err != nil {
		_ = s.appendFile.Close()
		return nil, fmt.Errorf("open sync handle %s: %w", s.path, err)
	}

	s.written.Store(uint64(size))
	if size > 0 {
		s.state.Store(int32(StateWritten))
		s.writeDone.Notify()
	}
	s.appender = newAppender(s)
	s.durabilizer = &Durabilizer{s: s}

	s.logger.Infof("opened %s (written=%d)", s.path, size)
	return s, nil
}

// ID returns the session ID.
func (s *Session) ID() string { return s.id }

// Path returns the append target path.
func (s *Session) Path() string { return s.path }

// Written returns the number of bytes physically present, durability unknown.
func (s *Session) Written() Offset { return Offset(s.written.Load()) }

// Durable returns the number of bytes guaranteed durable.
func (s *Session) Durable() Offset { return Offset(s.durable.Load()) }

// State returns the most recent round transition.
func (s *Session) State() RoundState { return RoundState(s.state.Load()) }

// Appender returns the session's single appender.
func (s *Session) Appender() *Appender { return s.appender }

// Durabilizer returns the session's durabilizer.
func (s *Session) Durabilizer() *Durabilizer { return s.durabilizer }

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() Stats {
	return Stats{
		Written:         s.Written(),
		Durable:         s.Durable(),
		FlushGeneration: s.flushDone.Generation(),
		Appends:         s.appends.Load(),
		AppendFailures:  s.appendFailures.Load(),
		Syncs:           s.syncs.Load(),
		SyncFailures:    s.syncFailures.Load(),
		Observes:        s.observes.Load(),
		Timeouts:        s.timeouts.Load(),
	}
}

// NewObserver opens a dedicated read handle and returns an observer using strategy.
// An Observer is not safe for concurrent use; create one per goroutine.
func (s *Session) NewObserver(strategy Strategy) (*Observer, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	f, err := s.open(s.path, readFlags, 0)
	if err != nil {
		return nil, fmt.Errorf("open read handle %s: %w", s.path, err)
	}
	o := &Observer{s: s, strategy: strategy, f: f}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		_ = f.Close()
		return nil, ErrClosed
	}
	s.observers[o] = struct{}{}
	return o, nil
}

// WaitDurable blocks until the durable offset reaches target.
func (s *Session) WaitDurable(ctx context.Context, target Offset) (Offset, error) {
	ctx, cancel := s.waitContext(ctx)
	defer cancel()

	for {
		// Read the generation before the offset: any store after this load is
		// followed by a publish newer than gen.
		gen := s.flushDone.Generation()
		if cur := s.Durable(); cur >= target {
			return cur, nil
		}
		if _, err := s.flushDone.Wait(ctx, gen); err != nil {
			return s.Durable(), s.waitErr("waiter", err)
		}
	}
}

// Close wakes every waiter with ErrClosed and releases all handles.
// In-flight appends and flushes finish before their handles are closed.
func (s *Session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(s.done)
	s.writeDone.Close()
	s.flushDone.Close()

	s.appender.mu.Lock()
	appendErr := s.appendFile.Close()
	s.appender.mu.Unlock()

	s.durabilizer.mu.Lock()
	syncErr := s.syncFile.Close()
	s.durabilizer.mu.Unlock()

	s.mu.Lock()
	observers := s.observers
	s.observers = make(map[*Observer]struct{})
	s.mu.Unlock()

	errs := []error{appendErr, syncErr}
	for o := range observers {
		errs = append(errs, o.closeHandle())
	}
	s.metrics.Forget(s.id)
	s.logger.Infof("closed (written=%d durable=%d)", s.Written(), s.Durable())
	_ = s.logger.Sync()
	return errors.Join(errs...)
}

func (s *Session) forgetObserver(o *Observer) {
	s.mu.Lock()
	delete(s.observers, o)
	s.mu.Unlock()
}

// waitContext applies WaitTimeout when ctx has no deadline of its own.
func (s *Session) waitContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if d := s.cfg.WaitTimeout.Std(); d > 0 {
		if _, ok := ctx.Deadline(); !ok {
			return context.WithTimeout(ctx, d)
		}
	}
	return ctx, func() {}
}

func (s *Session) waitErr(role string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		s.timeouts.Add(1)
		s.metrics.RecordTimeout(role)
		return &timeoutError{role: role, cause: err}
	}
	return err
}

// checkInvariants asserts durable <= written <= size when enabled.
func (s *Session) checkInvariants() {
	if !s.cfg.AssertInvariants {
		return
	}
	// Load before stat: the file only grows, and bytes land before written moves.
	durable, written := s.durable.Load(), s.written.Load()
	size, err := s.syncFile.Size()
	failfast.Err(err)
	failfast.Offsets(durable, written, size)
}
