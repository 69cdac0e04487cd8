package metrics

import (
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/valyala/fasthttp/fasthttputil"
)

func TestMetrics_RecordPipeline(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordAppend("s1", 10, 10, nil)
	m.RecordAppend("s1", 5, 10, errors.New("disk full"))
	m.RecordSync("s1", 2*time.Millisecond, 10, 1, nil)
	m.RecordSync("s1", time.Millisecond, 0, 0, errors.New("eio"))
	m.RecordObserve("direct", nil)
	m.RecordObserve("mmap", nil)
	m.RecordTimeout("observer")

	if got := testutil.ToFloat64(m.AppendsTotal.WithLabelValues("ok")); got != 1 {
		t.Errorf("appends ok = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.AppendsTotal.WithLabelValues("error")); got != 1 {
		t.Errorf("appends error = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.AppendedBytes); got != 10 {
		t.Errorf("appended bytes = %v, want 10", got)
	}
	if got := testutil.ToFloat64(m.DurableOffset.WithLabelValues("s1")); got != 10 {
		t.Errorf("durable offset = %v, want 10", got)
	}
	if got := testutil.ToFloat64(m.SyncsTotal.WithLabelValues("error")); got != 1 {
		t.Errorf("sync errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.WaitTimeouts.WithLabelValues("observer")); got != 1 {
		t.Errorf("timeouts = %v, want 1", got)
	}

	m.Forget("s1")
	if n := testutil.CollectAndCount(m.DurableOffset); n != 0 {
		t.Errorf("expected session series dropped, got %d", n)
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordAppend("s", 1, 1, nil)
	m.RecordSync("s", time.Second, 1, 1, nil)
	m.RecordObserve("direct", nil)
	m.RecordTimeout("durabilizer")
	m.Forget("s")
}

func TestNewServer_ExposesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.RecordAppend("s1", 125, 125, nil)

	ln := fasthttputil.NewInmemoryListener()
	srv := NewServer(m)
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = srv.Shutdown() })

	client := &http.Client{
		Transport: &http.Transport{
			Dial: func(network, addr string) (net.Conn, error) {
				return ln.Dial()
			},
		},
	}

	resp, err := client.Get("http://flushgate/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "flushgate_appended_bytes_total 125") {
		t.Fatalf("metrics body missing appended bytes:\n%s", body)
	}

	resp, err = client.Get("http://flushgate/nope")
	if err != nil {
		t.Fatalf("GET /nope: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}
