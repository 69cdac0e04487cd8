// Package natsnotify fans flush events out over NATS so processes that do not
// share a Session can follow its durable offset.
//
// Subject mapping: <prefix>.durable.<session>
package natsnotify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/fluxorio/flushgate/pkg/flushgate"
	"github.com/fluxorio/flushgate/pkg/log"
)

const sessionHeader = "X-Flushgate-Session"

// Config configures a NATS connection used for flush notifications.
type Config struct {
	// URL is the NATS server URL. Default: nats.DefaultURL.
	URL string
	// Prefix is prepended to all subjects. Default: "flushgate".
	Prefix string
	// Name is an optional NATS connection name.
	Name string
}

func (c Config) withDefaults() Config {
	if c.URL == "" {
		c.URL = nats.DefaultURL
	}
	if c.Prefix == "" {
		c.Prefix = "flushgate"
	}
	return c
}

// Subject returns the subject flush events of session are published on.
// Pass "*" to match every session.
func (c Config) Subject(session string) string {
	return c.withDefaults().Prefix + ".durable." + session
}

func connect(cfg Config) (*nats.Conn, error) {
	return nats.Connect(cfg.URL, func(o *nats.Options) error {
		if cfg.Name != "" {
			o.Name = cfg.Name
		}
		return nil
	})
}

// Publisher is a flushgate.FlushListener that publishes every event as JSON.
type Publisher struct {
	cfg    Config
	nc     *nats.Conn
	logger log.Logger
}

var _ flushgate.FlushListener = (*Publisher)(nil)

// NewPublisher connects to cfg.URL.
func NewPublisher(cfg Config, logger log.Logger) (*Publisher, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = log.NewNopLogger()
	}
	nc, err := connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.URL, err)
	}
	return &Publisher{cfg: cfg, nc: nc, logger: logger}, nil
}

// OnFlush publishes ev on the session's subject.
func (p *Publisher) OnFlush(ev flushgate.FlushEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	msg := &nats.Msg{
		Subject: p.cfg.Subject(ev.Session),
		Data:    data,
		Header:  nats.Header{},
	}
	msg.Header.Set(sessionHeader, ev.Session)
	if err := p.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Subject, err)
	}
	p.logger.Debugf("published durable=%d on %s", ev.Durable, msg.Subject)
	return nil
}

// Close flushes pending events and closes the connection.
func (p *Publisher) Close() error {
	err := p.nc.FlushTimeout(2 * time.Second)
	p.nc.Close()
	return err
}

// Watcher tracks the highest durable offset announced per session.
type Watcher struct {
	nc     *nats.Conn
	sub    *nats.Subscription
	logger log.Logger

	mu      sync.Mutex
	durable map[string]flushgate.Offset
	events  *flushgate.Broadcast
}

// NewWatcher subscribes to flush events of session, or of every session when
// session is "*" or empty.
func NewWatcher(cfg Config, session string, logger log.Logger) (*Watcher, error) {
	cfg = cfg.withDefaults()
	if session == "" {
		session = "*"
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	nc, err := connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.URL, err)
	}

	w := &Watcher{
		nc:      nc,
		logger:  logger,
		durable: make(map[string]flushgate.Offset),
		events:  flushgate.NewBroadcast(),
	}
	w.sub, err = nc.Subscribe(cfg.Subject(session), w.handle)
	if err != nil {
		nc.Close()
		return nil, err
	}
	// make sure the server registered the interest before we return
	if err := nc.Flush(); err != nil {
		nc.Close()
		return nil, err
	}
	return w, nil
}

func (w *Watcher) handle(msg *nats.Msg) {
	var ev flushgate.FlushEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		w.logger.Warnf("dropping malformed flush event on %s: %v", msg.Subject, err)
		return
	}
	if ev.Session == "" {
		ev.Session = msg.Header.Get(sessionHeader)
	}

	w.mu.Lock()
	// delivery may reorder across reconnects; durable offsets only move forward
	advanced := ev.Durable > w.durable[ev.Session]
	if advanced {
		w.durable[ev.Session] = ev.Durable
	}
	w.mu.Unlock()
	if advanced {
		w.events.Publish()
	}
}

// Durable returns the highest durable offset announced for session.
func (w *Watcher) Durable(session string) flushgate.Offset {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.durable[session]
}

// WaitDurable blocks until session announced a durable offset of at least target.
func (w *Watcher) WaitDurable(ctx context.Context, session string, target flushgate.Offset) (flushgate.Offset, error) {
	for {
		gen := w.events.Generation()
		if cur := w.Durable(session); cur >= target {
			return cur, nil
		}
		if _, err := w.events.Wait(ctx, gen); err != nil {
			return w.Durable(session), err
		}
	}
}

// Close unsubscribes and wakes all waiters with flushgate.ErrClosed.
func (w *Watcher) Close() error {
	err := w.sub.Unsubscribe()
	w.nc.Close()
	w.events.Close()
	return err
}
