package observability

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/signalsfoundry/roadnet-simulator/internal/logging"
)

const defaultOTLPEndpoint = "localhost:4317"

// TracingConfig governs how simulation tracing is initialised.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	ServiceName string  `yaml:"service_name"`
	Exporter    string  `yaml:"exporter" validate:"omitempty,oneof=stdout otlp otlpgrpc"`
	Endpoint    string  `yaml:"endpoint"` // otlp collector, host:port
	SampleRatio float64 `yaml:"sample_ratio" validate:"gte=0,lte=1"`

	// Output receives stdout-exported spans; nil means os.Stdout.
	Output io.Writer `yaml:"-"`
}

// DefaultTracingConfig returns tracing disabled with stdout export and
// full sampling.
func DefaultTracingConfig() TracingConfig {
	return TracingConfig{
		ServiceName: "roadnet-simulator",
		Exporter:    "stdout",
		SampleRatio: 1.0,
	}
}

// WithEnv overlays the SIM_TRACING_* and SIM_OTLP_ENDPOINT environment
// variables that are set onto cfg. Out-of-range ratios are ignored.
func (cfg TracingConfig) WithEnv() TracingConfig {
	if raw, ok := os.LookupEnv("SIM_TRACING_ENABLED"); ok {
		cfg.Enabled = strings.EqualFold(raw, "true")
	}
	if exporter := strings.ToLower(os.Getenv("SIM_TRACING_EXPORTER")); exporter != "" {
		cfg.Exporter = exporter
	}
	if service := os.Getenv("SIM_TRACING_SERVICE_NAME"); service != "" {
		cfg.ServiceName = service
	}
	if raw := os.Getenv("SIM_TRACING_SAMPLE_RATIO"); raw != "" {
		if ratio, err := strconv.ParseFloat(raw, 64); err == nil && ratio >= 0 && ratio <= 1 {
			cfg.SampleRatio = ratio
		}
	}
	if endpoint := os.Getenv("SIM_OTLP_ENDPOINT"); endpoint != "" {
		cfg.Endpoint = endpoint
	}
	return cfg
}

// RunInfo identifies one simulation run on every exported span.
type RunInfo struct {
	RunID         string
	Scenario      string
	Seed          uint64
	BarrierPeriod uint64
	Edges         int
	Agents        int
}

func (r RunInfo) attributes(service string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("service.name", service),
		attribute.String("service.namespace", "roadnet"),
		attribute.String("service.instance.id", r.RunID),
		attribute.String("roadnet.scenario", r.Scenario),
		attribute.Int64("roadnet.seed", int64(r.Seed)),
		attribute.Int64("roadnet.barrier_period", int64(r.BarrierPeriod)),
		attribute.Int("roadnet.edges", r.Edges),
		attribute.Int("roadnet.agents", r.Agents),
	}
}

// NewRunResource describes run for the tracer provider.
func NewRunResource(ctx context.Context, cfg TracingConfig, run RunInfo) (*resource.Resource, error) {
	if run.RunID == "" {
		run.RunID = logging.RunIDFromContext(ctx)
	}
	res, err := resource.New(ctx, resource.WithAttributes(run.attributes(cfg.ServiceName)...))
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}
	return res, nil
}

// InitTracing installs the global tracer provider for one run and returns
// the function that flushes it. A disabled config installs a noop provider.
func InitTracing(ctx context.Context, cfg TracingConfig, run RunInfo, log logging.Logger) (func(context.Context) error, error) {
	if log == nil {
		log = logging.Noop()
	}
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if !cfg.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		log.Debug(ctx, "tracing disabled")
		return func(context.Context) error { return nil }, nil
	}

	exp, err := newSpanExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}
	res, err := NewRunResource(ctx, cfg, run)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sampler(cfg.SampleRatio)),
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	log.Info(ctx, "tracing enabled",
		logging.String("exporter", cfg.Exporter),
		logging.String("service_name", cfg.ServiceName),
		logging.Float64("sample_ratio", cfg.SampleRatio),
	)
	return tp.Shutdown, nil
}

func sampler(ratio float64) sdktrace.Sampler {
	if ratio >= 1 {
		return sdktrace.AlwaysSample()
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

func newSpanExporter(ctx context.Context, cfg TracingConfig) (sdktrace.SpanExporter, error) {
	switch strings.ToLower(cfg.Exporter) {
	case "stdout", "":
		out := cfg.Output
		if out == nil {
			out = os.Stdout
		}
		return stdouttrace.New(stdouttrace.WithWriter(out), stdouttrace.WithoutTimestamps())
	case "otlp", "otlpgrpc":
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = defaultOTLPEndpoint
		}
		return otlptrace.New(ctx, otlptracegrpc.NewClient(
			otlptracegrpc.WithEndpoint(endpoint),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		))
	default:
		return nil, fmt.Errorf("unsupported tracing exporter: %s", cfg.Exporter)
	}
}

// ShutdownWithTimeout flushes spans within five seconds; failures are
// logged, not returned.
func ShutdownWithTimeout(ctx context.Context, shutdown func(context.Context) error, log logging.Logger) {
	if shutdown == nil {
		return
	}
	if log == nil {
		log = logging.Noop()
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		log.Warn(ctx, "tracing shutdown failed", logging.Error(err))
	}
}
