package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

var (
	// DefaultRegistry is the default Prometheus registry
	DefaultRegistry = prometheus.NewRegistry()

	// DefaultRegisterer is the default Prometheus registerer
	DefaultRegisterer = prometheus.WrapRegistererWith(prometheus.Labels{"service": "flushgate"}, DefaultRegistry)

	metricsOnce sync.Once
	metrics     *Metrics
)

// Metrics holds the counters and gauges of the append/flush/observe pipeline.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	AppendsTotal  *prometheus.CounterVec
	AppendedBytes prometheus.Counter

	SyncsTotal   *prometheus.CounterVec
	SyncDuration prometheus.Histogram

	ObservesTotal *prometheus.CounterVec
	WaitTimeouts  *prometheus.CounterVec

	WrittenOffset   *prometheus.GaugeVec
	DurableOffset   *prometheus.GaugeVec
	FlushGeneration *prometheus.GaugeVec

	gatherer prometheus.Gatherer
}

// GetMetrics returns the process-wide instance registered on DefaultRegisterer
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		metrics = NewMetrics(DefaultRegisterer)
		metrics.gatherer = DefaultRegistry
	})
	return metrics
}

// NewMetrics registers a new metrics collection on registerer.
// Registering twice on the same registerer panics, as with promauto.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = DefaultRegisterer
	}
	f := promauto.With(registerer)

	m := &Metrics{
		AppendsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flushgate_appends_total",
				Help: "Total number of append attempts",
			},
			[]string{"result"}, // ok, error
		),
		AppendedBytes: f.NewCounter(
			prometheus.CounterOpts{
				Name: "flushgate_appended_bytes_total",
				Help: "Total bytes appended successfully",
			},
		),
		SyncsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flushgate_syncs_total",
				Help: "Total number of durability barriers issued",
			},
			[]string{"result"},
		),
		SyncDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "flushgate_sync_duration_seconds",
				Help:    "Duration of the durability barrier in seconds",
				Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
		),
		ObservesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flushgate_observes_total",
				Help: "Total number of durable prefix reads",
			},
			[]string{"strategy", "result"},
		),
		WaitTimeouts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flushgate_wait_timeouts_total",
				Help: "Total number of waits that exceeded their deadline",
			},
			[]string{"role"},
		),
		WrittenOffset: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "flushgate_written_offset_bytes",
				Help: "Bytes physically present in the file",
			},
			[]string{"session"},
		),
		DurableOffset: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "flushgate_durable_offset_bytes",
				Help: "Bytes guaranteed durable",
			},
			[]string{"session"},
		),
		FlushGeneration: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "flushgate_flush_generation",
				Help: "Number of successful flushes in the session",
			},
			[]string{"session"},
		),
	}
	if g, ok := registerer.(prometheus.Gatherer); ok {
		m.gatherer = g
	}
	return m
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordAppend records an append attempt of n bytes
func (m *Metrics) RecordAppend(session string, n int, written uint64, err error) {
	if m == nil {
		return
	}
	m.AppendsTotal.WithLabelValues(result(err)).Inc()
	if err != nil {
		return
	}
	m.AppendedBytes.Add(float64(n))
	m.WrittenOffset.WithLabelValues(session).Set(float64(written))
}

// RecordSync records a durability barrier and, on success, the published offset
func (m *Metrics) RecordSync(session string, d time.Duration, durable, generation uint64, err error) {
	if m == nil {
		return
	}
	m.SyncsTotal.WithLabelValues(result(err)).Inc()
	m.SyncDuration.Observe(d.Seconds())
	if err != nil {
		return
	}
	m.DurableOffset.WithLabelValues(session).Set(float64(durable))
	m.FlushGeneration.WithLabelValues(session).Set(float64(generation))
}

// RecordObserve records a durable prefix read
func (m *Metrics) RecordObserve(strategy string, err error) {
	if m == nil {
		return
	}
	m.ObservesTotal.WithLabelValues(strategy, result(err)).Inc()
}

// RecordTimeout records a wait that hit its deadline
func (m *Metrics) RecordTimeout(role string) {
	if m == nil {
		return
	}
	m.WaitTimeouts.WithLabelValues(role).Inc()
}

// Forget drops per-session series once a session closes
func (m *Metrics) Forget(session string) {
	if m == nil {
		return
	}
	m.WrittenOffset.DeleteLabelValues(session)
	m.DurableOffset.DeleteLabelValues(session)
	m.FlushGeneration.DeleteLabelValues(session)
}

// Handler serves the gatherer this collection was registered on
func (m *Metrics) Handler() http.Handler {
	g := prometheus.Gatherer(DefaultRegistry)
	if m != nil && m.gatherer != nil {
		g = m.gatherer
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// FastHTTPHandler adapts Handler for fasthttp servers
func (m *Metrics) FastHTTPHandler() fasthttp.RequestHandler {
	return fasthttpadaptor.NewFastHTTPHandler(m.Handler())
}

// NewServer returns a fasthttp server exposing /metrics and /live
func NewServer(m *Metrics) *fasthttp.Server {
	metricsHandler := m.FastHTTPHandler()
	return &fasthttp.Server{
		Name: "flushgate",
		Handler: func(ctx *fasthttp.RequestCtx) {
			switch string(ctx.Path()) {
			case "/metrics":
				metricsHandler(ctx)
			case "/live":
				ctx.SetContentType("application/json")
				ctx.SetBodyString(`{"status":"up"}`)
			default:
				ctx.Error("not found", fasthttp.StatusNotFound)
			}
		},
	}
}
