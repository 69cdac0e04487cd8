package natsnotify

import (
	"context"
	"errors"
	"testing"
	"time"

	natssrv "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/fluxorio/flushgate/pkg/config"
	"github.com/fluxorio/flushgate/pkg/flushgate"
	"github.com/fluxorio/flushgate/pkg/log"
)

func runTestNATSServer(t *testing.T) *natssrv.Server {
	t.Helper()

	opts := &natssrv.Options{
		Port: -1,
	}
	s, err := natssrv.NewServer(opts)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	go s.Start()
	if !s.ReadyForConnections(5 * time.Second) {
		s.Shutdown()
		t.Fatalf("nats server not ready")
	}
	t.Cleanup(func() {
		s.Shutdown()
	})
	return s
}

func TestSubject(t *testing.T) {
	if got := (Config{}).Subject("abc"); got != "flushgate.durable.abc" {
		t.Fatalf("Subject = %q", got)
	}
	if got := (Config{Prefix: "p"}).Subject("*"); got != "p.durable.*" {
		t.Fatalf("Subject = %q", got)
	}
}

func TestPublisherFeedsWatcher(t *testing.T) {
	srv := runTestNATSServer(t)
	cfg := Config{URL: srv.ClientURL(), Prefix: "flushgate.test"}

	w, err := NewWatcher(cfg, "", log.NewNopLogger())
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })

	pub, err := NewPublisher(cfg, log.NewNopLogger())
	if err != nil {
		t.Fatalf("NewPublisher: %v", err)
	}
	t.Cleanup(func() { _ = pub.Close() })

	s, err := flushgate.Open(config.Default(t.TempDir()),
		flushgate.WithID("remote-1"),
		flushgate.WithLogger(log.NewNopLogger()),
		flushgate.WithFlushListener(pub),
	)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, chunk := range []string{"0123456789", "abcdefghijabcdefghijabcdefghijabcdefghij"} {
		if _, err := s.Appender().Append(ctx, []byte(chunk)); err != nil {
			t.Fatal(err)
		}
		if _, err := s.Durabilizer().FlushOnce(ctx); err != nil {
			t.Fatal(err)
		}
	}

	got, err := w.WaitDurable(ctx, "remote-1", 50)
	if err != nil {
		t.Fatalf("WaitDurable: %v", err)
	}
	if got != 50 {
		t.Fatalf("remote durable = %d, want 50", got)
	}
	if w.Durable("other") != 0 {
		t.Fatal("unrelated session should be unknown")
	}
}

func TestWatcherIgnoresRegressionAndGarbage(t *testing.T) {
	srv := runTestNATSServer(t)
	cfg := Config{URL: srv.ClientURL()}

	w, err := NewWatcher(cfg, "s", log.NewNopLogger())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = w.Close() })

	pub, err := NewPublisher(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = pub.Close() })

	nc, err := nats.Connect(srv.ClientURL())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(nc.Close)

	if err := pub.OnFlush(flushgate.FlushEvent{Session: "s", Generation: 2, Durable: 30}); err != nil {
		t.Fatal(err)
	}
	if err := nc.Publish(cfg.Subject("s"), []byte("not json")); err != nil {
		t.Fatal(err)
	}
	if err := pub.OnFlush(flushgate.FlushEvent{Session: "s", Generation: 1, Durable: 10}); err != nil {
		t.Fatal(err)
	}
	if err := pub.OnFlush(flushgate.FlushEvent{Session: "s", Generation: 3, Durable: 31}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := w.WaitDurable(ctx, "s", 31); err != nil {
		t.Fatal(err)
	}
	if got := w.Durable("s"); got != 31 {
		t.Fatalf("durable = %d, want 31", got)
	}
}

func TestWatcherCloseWakesWaiters(t *testing.T) {
	srv := runTestNATSServer(t)
	w, err := NewWatcher(Config{URL: srv.ClientURL()}, "s", nil)
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := w.WaitDurable(context.Background(), "s", 1)
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	_ = w.Close()

	select {
	case err := <-done:
		if !errors.Is(err, flushgate.ErrClosed) {
			t.Fatalf("WaitDurable after Close = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("waiter still blocked")
	}
}

func TestPublisherConnectError(t *testing.T) {
	if _, err := NewPublisher(Config{URL: "nats://127.0.0.1:1"}, nil); err == nil {
		t.Fatal("expected connect error")
	}
}
