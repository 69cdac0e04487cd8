package flushgate

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fluxorio/flushgate/pkg/config"
	"github.com/fluxorio/flushgate/pkg/log"
)

var errInjected = errors.New("injected fault")

// faultFS opens real files and lets a test fail or stall their Write and Sync calls.
type faultFS struct {
	mu       sync.Mutex
	syncErrs []error // consumed one per Sync call; nil entries pass through
	writeErr error
	partial  bool // write the first half of p before failing with writeErr
	onWrite  func()
	gate     chan struct{} // when set, Sync blocks until it is closed

	syncCalls atomic.Int32
	entered   chan struct{} // receives once per Sync call that reached the gate
}

func newFaultFS() *faultFS {
	return &faultFS{entered: make(chan struct{}, 64)}
}

func (fs *faultFS) open(path string, flag int, perm os.FileMode) (File, error) {
	f, err := OpenOSFile(path, flag, perm)
	if err != nil {
		return nil, err
	}
	return &faultFile{File: f, fs: fs}, nil
}

func (fs *faultFS) failSyncs(errs ...error) {
	fs.mu.Lock()
	fs.syncErrs = append(fs.syncErrs, errs...)
	fs.mu.Unlock()
}

func (fs *faultFS) failWrites(err error) {
	fs.mu.Lock()
	fs.writeErr = err
	fs.mu.Unlock()
}

// failPartialWrites makes every write land half its bytes and then fail with err.
func (fs *faultFS) failPartialWrites(err error) {
	fs.mu.Lock()
	fs.writeErr = err
	fs.partial = true
	fs.mu.Unlock()
}

func (fs *faultFS) holdSyncs() {
	fs.mu.Lock()
	fs.gate = make(chan struct{})
	fs.mu.Unlock()
}

func (fs *faultFS) releaseSyncs() {
	fs.mu.Lock()
	if fs.gate != nil {
		close(fs.gate)
		fs.gate = nil
	}
	fs.mu.Unlock()
}

type faultFile struct {
	File
	fs *faultFS
}

func (f *faultFile) Write(p []byte) (int, error) {
	f.fs.mu.Lock()
	err, partial, hook := f.fs.writeErr, f.fs.partial, f.fs.onWrite
	f.fs.mu.Unlock()
	if hook != nil {
		hook()
	}
	if err != nil && partial {
		n, werr := f.File.Write(p[:len(p)/2])
		if werr != nil {
			return n, werr
		}
		return n, err
	}
	if err != nil {
		return 0, err
	}
	return f.File.Write(p)
}

func (f *faultFile) Sync() error {
	f.fs.syncCalls.Add(1)

	f.fs.mu.Lock()
	gate := f.fs.gate
	var err error
	if len(f.fs.syncErrs) > 0 {
		err = f.fs.syncErrs[0]
		f.fs.syncErrs = f.fs.syncErrs[1:]
	}
	f.fs.mu.Unlock()

	if gate != nil {
		f.fs.entered <- struct{}{}
		<-gate
	}
	if err != nil {
		return err
	}
	return f.File.Sync()
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default(t.TempDir())
	cfg.AssertInvariants = true
	return cfg
}

func openSession(t *testing.T, cfg config.Config, opts ...Option) *Session {
	t.Helper()
	opts = append([]Option{WithLogger(log.NewNopLogger())}, opts...)
	s, err := Open(cfg, opts...)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newObserver(t *testing.T, s *Session, strategy Strategy) *Observer {
	t.Helper()
	o, err := s.NewObserver(strategy)
	if err != nil {
		t.Fatalf("NewObserver(%s): %v", strategy, err)
	}
	t.Cleanup(func() { _ = o.Close() })
	return o
}

// runDurabilizer starts Run and returns a func that stops it and reports its result.
func runDurabilizer(t *testing.T, s *Session) func() error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Durabilizer().Run(ctx) }()
	var once sync.Once
	var result error
	stop := func() error {
		once.Do(func() {
			cancel()
			select {
			case result = <-done:
			case <-time.After(5 * time.Second):
				result = errors.New("durabilizer did not stop")
			}
		})
		return result
	}
	t.Cleanup(func() { _ = stop() })
	return stop
}

func timeoutCtx(t *testing.T, d time.Duration) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	t.Cleanup(cancel)
	return ctx
}

func mustAppend(t *testing.T, s *Session, data []byte) Offset {
	t.Helper()
	off, err := s.Appender().Append(context.Background(), data)
	if err != nil {
		t.Fatalf("Append(%d bytes): %v", len(data), err)
	}
	return off
}
