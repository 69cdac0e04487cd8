package tracing

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"

	"github.com/fluxorio/flushgate/pkg/config"
)

func TestInitializeStdout(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := Initialize(context.Background(), Config{
		ServiceName: "flushgate-test",
		Exporter:    "stdout",
		Writer:      &buf,
	})
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if !IsInitialized() {
		t.Fatal("expected provider to be installed")
	}

	_, span := otel.Tracer("test").Start(context.Background(), "flushgate.flush")
	span.End()

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if IsInitialized() {
		t.Fatal("shutdown should reset IsInitialized")
	}
	out := buf.String()
	if !strings.Contains(out, "flushgate.flush") || !strings.Contains(out, "flushgate-test") {
		t.Fatalf("stdout exporter output missing span or service: %s", out)
	}
}

func TestInitializeNone(t *testing.T) {
	for _, exp := range []string{"", "none"} {
		shutdown, err := Initialize(context.Background(), Config{Exporter: exp})
		if err != nil {
			t.Fatalf("Initialize(%q): %v", exp, err)
		}
		if IsInitialized() {
			t.Fatalf("exporter %q should not install a provider", exp)
		}
		if err := shutdown(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
}

func TestInitializeErrors(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"unknown exporter", Config{Exporter: "carrier-pigeon"}},
		{"zipkin without endpoint", Config{Exporter: "zipkin"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Initialize(context.Background(), tt.cfg); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestInitializeCollectorExporters(t *testing.T) {
	tests := []Config{
		{Exporter: "zipkin", Endpoint: "http://127.0.0.1:9411/api/v2/spans"},
		{Exporter: "jaeger", Endpoint: "http://127.0.0.1:14268/api/traces"},
	}
	for _, cfg := range tests {
		t.Run(cfg.Exporter, func(t *testing.T) {
			shutdown, err := Initialize(context.Background(), cfg)
			if err != nil {
				t.Fatalf("Initialize: %v", err)
			}
			// nothing was recorded, so shutdown does not reach the collector
			if err := shutdown(context.Background()); err != nil {
				t.Fatalf("shutdown: %v", err)
			}
		})
	}
}

func TestFromConfig(t *testing.T) {
	c := config.Default(t.TempDir()).Tracing
	c.Exporter = "zipkin"
	c.Endpoint = "http://zipkin:9411"
	got := FromConfig(c, "v1.2.3")
	if got.Exporter != "zipkin" || got.Endpoint != c.Endpoint || got.ServiceName != "flushgate" || got.ServiceVersion != "v1.2.3" {
		t.Fatalf("FromConfig = %+v", got)
	}
}

func TestSampleRate(t *testing.T) {
	tests := map[float64]float64{0: 1, -1: 1, 0.25: 0.25, 1: 1, 3: 1}
	for in, want := range tests {
		if got := sampleRate(Config{SampleRate: in}); got != want {
			t.Errorf("sampleRate(%v) = %v, want %v", in, got, want)
		}
	}
}
