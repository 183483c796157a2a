package observability

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/signalsfoundry/roadnet-simulator/internal/logging"
)

func restoreTracerProvider(t *testing.T) {
	t.Helper()
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
}

func TestNewRunResourceDescribesRun(t *testing.T) {
	ctx := logging.ContextWithRunID(context.Background(), "run-42")
	res, err := NewRunResource(ctx, DefaultTracingConfig(), RunInfo{
		Scenario:      "configs/scenario.yaml",
		Seed:          12345,
		BarrierPeriod: 10,
		Edges:         7,
		Agents:        48,
	})
	if err != nil {
		t.Fatalf("NewRunResource: %v", err)
	}

	want := map[attribute.Key]attribute.Value{
		"service.name":           attribute.StringValue("roadnet-simulator"),
		"service.instance.id":    attribute.StringValue("run-42"),
		"roadnet.scenario":       attribute.StringValue("configs/scenario.yaml"),
		"roadnet.seed":           attribute.Int64Value(12345),
		"roadnet.barrier_period": attribute.Int64Value(10),
		"roadnet.edges":          attribute.IntValue(7),
		"roadnet.agents":         attribute.IntValue(48),
	}
	set := res.Set()
	for key, val := range want {
		got, ok := set.Value(key)
		if !ok || got != val {
			t.Fatalf("resource %s = %v (present %v), want %v", key, got.Emit(), ok, val.Emit())
		}
	}
}

func TestInitTracingDisabledInstallsNoop(t *testing.T) {
	restoreTracerProvider(t)

	shutdown, err := InitTracing(context.Background(), DefaultTracingConfig(), RunInfo{}, nil)
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	_, span := otel.Tracer("test").Start(context.Background(), "noop")
	if span.SpanContext().IsValid() {
		t.Fatalf("expected a noop span when tracing is disabled")
	}
	span.End()
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestInitTracingExportsRunAttributes(t *testing.T) {
	restoreTracerProvider(t)

	var buf bytes.Buffer
	cfg := DefaultTracingConfig()
	cfg.Enabled = true
	cfg.Output = &buf

	shutdown, err := InitTracing(context.Background(), cfg, RunInfo{RunID: "run-7", Edges: 3}, nil)
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	_, span := otel.Tracer("test").Start(context.Background(), "population.flip")
	span.End()
	ShutdownWithTimeout(context.Background(), shutdown, nil)

	out := buf.String()
	for _, want := range []string{"population.flip", "service.instance.id", "run-7", "roadnet.edges"} {
		if !strings.Contains(out, want) {
			t.Fatalf("exported spans missing %q:\n%s", want, out)
		}
	}
}

func TestInitTracingRejectsUnknownExporter(t *testing.T) {
	restoreTracerProvider(t)

	cfg := DefaultTracingConfig()
	cfg.Enabled = true
	cfg.Exporter = "zipkin"
	if _, err := InitTracing(context.Background(), cfg, RunInfo{}, nil); err == nil {
		t.Fatalf("expected error for unsupported exporter")
	}
}

func TestTracingConfigWithEnv(t *testing.T) {
	t.Setenv("SIM_TRACING_ENABLED", "TRUE")
	t.Setenv("SIM_TRACING_EXPORTER", "OTLP")
	t.Setenv("SIM_TRACING_SAMPLE_RATIO", "1.5")
	t.Setenv("SIM_OTLP_ENDPOINT", "collector:4317")

	cfg := DefaultTracingConfig().WithEnv()
	if !cfg.Enabled || cfg.Exporter != "otlp" || cfg.Endpoint != "collector:4317" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.SampleRatio != 1.0 {
		t.Fatalf("out-of-range ratio applied: %v", cfg.SampleRatio)
	}
}
