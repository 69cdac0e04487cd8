package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/fluxorio/flushgate/pkg/config"
	"github.com/fluxorio/flushgate/pkg/flushgate"
	"github.com/fluxorio/flushgate/pkg/log"
	"github.com/fluxorio/flushgate/pkg/metrics"
	"github.com/fluxorio/flushgate/pkg/natsnotify"
	"github.com/fluxorio/flushgate/pkg/tracing"
)

const defaultPayload = "/var/lib/flushgate/segment-000001.log: appended, synced and read back by every observer"

type runOptions struct {
	configPath  string
	dir         string
	payload     string
	payloadFile string
	rounds      int
	observers   int
	metricsAddr string
	trace       string
	timeout     time.Duration
	devLog      bool
}

// observerResult is one line of the run summary.
type observerResult struct {
	strategy flushgate.Strategy
	observed int
	rounds   int
	err      error
}

func newRunCmd() *cobra.Command {
	o := &runOptions{}
	c := &cobra.Command{
		Use:     "run",
		Short:   "Append a payload in rounds and verify every observer sees the durable prefix",
		Example: "flushgate run --config flushgate.yaml --rounds 3 --observers 2",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRounds(cmd, o)
		},
	}
	f := c.Flags()
	f.StringVarP(&o.configPath, "config", "c", "", "path to a YAML or JSON config file")
	f.StringVar(&o.dir, "dir", "", "directory holding the append target (overrides config)")
	f.StringVar(&o.payload, "payload", defaultPayload, "bytes appended each round")
	f.StringVar(&o.payloadFile, "payload-file", "", "read the per-round payload from a file")
	f.IntVar(&o.rounds, "rounds", 1, "number of append/flush rounds")
	f.IntVar(&o.observers, "observers", 2, "number of observers, alternating direct and mmap")
	f.StringVar(&o.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	f.StringVar(&o.trace, "trace", "", "trace exporter: none, stdout, zipkin, jaeger")
	f.BoolVar(&o.devLog, "dev-log", false, "human readable debug logs instead of JSON")
	f.DurationVar(&o.timeout, "timeout", 30*time.Second, "overall deadline for the run")
	return c
}

func loadConfig(path, dir string) (config.Config, error) {
	var cfg config.Config
	if path != "" {
		var err error
		if cfg, err = config.LoadWithEnv(path); err != nil {
			return cfg, err
		}
	} else {
		cfg = config.Default(".")
		if err := config.ApplyEnvOverrides(config.EnvPrefix, &cfg); err != nil {
			return cfg, err
		}
	}
	if dir != "" {
		cfg.Dir = dir
	}
	return cfg, cfg.Validate()
}

func (o *runOptions) readPayload() ([]byte, error) {
	if o.payloadFile != "" {
		return os.ReadFile(o.payloadFile)
	}
	return []byte(o.payload), nil
}

func runRounds(cmd *cobra.Command, o *runOptions) error {
	if o.rounds < 1 || o.observers < 0 {
		return fmt.Errorf("rounds must be >= 1 and observers >= 0")
	}
	cfg, err := loadConfig(o.configPath, o.dir)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("trace") {
		cfg.Tracing.Exporter = o.trace
	}
	if o.metricsAddr != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Listen = o.metricsAddr
	}
	data, err := o.readPayload()
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return flushgate.ErrEmptyAppend
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	logger := log.NewLevelLogger(cfg.LogLevel)
	if o.devLog {
		logger = log.NewDevelopmentLogger()
	}
	defer func() { _ = logger.Sync() }()

	shutdownTracing, err := tracing.Initialize(ctx, tracing.FromConfig(cfg.Tracing, version))
	if err != nil {
		return err
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warnf("tracing shutdown: %v", err)
		}
	}()

	m := metrics.GetMetrics()
	opts := []flushgate.Option{flushgate.WithLogger(logger), flushgate.WithMetrics(m)}
	if cfg.Notify.NATSURL != "" {
		pub, err := natsnotify.NewPublisher(natsnotify.Config{
			URL:    cfg.Notify.NATSURL,
			Prefix: cfg.Notify.SubjectPrefix,
			Name:   "flushgate-run",
		}, logger)
		if err != nil {
			return err
		}
		defer func() { _ = pub.Close() }()
		opts = append(opts, flushgate.WithFlushListener(pub))
	}

	s, err := flushgate.Open(cfg, opts...)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	if cfg.Metrics.Enabled {
		srv := metrics.NewServer(m)
		go func() {
			if err := srv.ListenAndServe(cfg.Metrics.Listen); err != nil {
				logger.Errorf("metrics server: %v", err)
			}
		}()
		defer func() { _ = srv.Shutdown() }()
		logger.Infof("serving metrics on %s", cfg.Metrics.Listen)
	}

	// Bytes already in the file are part of the expected durable content.
	expected, err := existingPrefix(s)
	if err != nil {
		return err
	}
	base := len(expected)
	for i := 0; i < o.rounds; i++ {
		expected = append(expected, data...)
	}

	results := make([]*observerResult, o.observers)
	observers := make([]*flushgate.Observer, o.observers)
	for i := range observers {
		strategy := flushgate.StrategyDirect
		if i%2 == 1 {
			strategy = flushgate.StrategyMapped
		}
		if observers[i], err = s.NewObserver(strategy); err != nil {
			return err
		}
		results[i] = &observerResult{strategy: strategy}
	}

	durCtx, stopDurabilizer := context.WithCancel(ctx)
	defer stopDurabilizer()
	durDone := make(chan error, 1)
	go func() { durDone <- s.Durabilizer().Run(durCtx) }()

	g, gctx := errgroup.WithContext(ctx)
	for i, obs := range observers {
		res := results[i]
		g.Go(func() error {
			res.err = follow(gctx, obs, expected, res)
			return res.err
		})
	}

	g.Go(func() error {
		for i := 0; i < o.rounds; i++ {
			if _, err := s.Appender().Append(gctx, data); err != nil {
				return err
			}
			target := flushgate.Offset(base + (i+1)*len(data))
			if _, err := s.WaitDurable(gctx, target); err != nil {
				return fmt.Errorf("round %d: %w", i+1, err)
			}
			logger.Infof("round %d durable at %d", i+1, target)
		}
		return nil
	})

	runErr := g.Wait()
	stopDurabilizer()
	if err := <-durDone; err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, flushgate.ErrClosed) {
		runErr = errors.Join(runErr, err)
	}

	printSummary(cmd, s, results)
	return runErr
}

// follow observes flushes until the whole expected content is durable, checking
// that each observation is a prefix of it.
func follow(ctx context.Context, obs *flushgate.Observer, expected []byte, res *observerResult) error {
	for {
		got, err := obs.Observe(ctx)
		if err != nil {
			return err
		}
		res.rounds++
		res.observed = len(got)
		if len(got) > len(expected) || !bytes.Equal(got, expected[:len(got)]) {
			return fmt.Errorf("%s observer saw %d bytes that are not a prefix of the appended data", obs.Strategy(), len(got))
		}
		if len(got) == len(expected) {
			return nil
		}
	}
}

// existingPrefix makes bytes found on reopen durable and returns them.
func existingPrefix(s *flushgate.Session) ([]byte, error) {
	if s.Written() == 0 {
		return nil, nil
	}
	if _, err := s.Durabilizer().FlushOnce(context.Background()); err != nil {
		return nil, err
	}
	obs, err := s.NewObserver(flushgate.StrategyDirect)
	if err != nil {
		return nil, err
	}
	defer func() { _ = obs.Close() }()
	return obs.Snapshot(context.Background())
}

func printSummary(cmd *cobra.Command, s *flushgate.Session, results []*observerResult) {
	out := cmd.OutOrStdout()
	st := s.Stats()
	fmt.Fprintf(out, "session %s: written=%d durable=%d flushes=%d sync_failures=%d\n",
		s.ID(), st.Written, st.Durable, st.FlushGeneration, st.SyncFailures)
	for i, r := range results {
		status := "ok"
		if r.err != nil {
			status = "FAIL: " + r.err.Error()
		}
		fmt.Fprintf(out, "observer %d (%s): observed=%d rounds=%d %s\n", i, r.strategy, r.observed, r.rounds, status)
	}
}
