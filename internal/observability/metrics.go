package observability

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/roadnet-simulator/core"
	"github.com/signalsfoundry/roadnet-simulator/model"
)

// Barrier check outcomes used as the "outcome" label.
const (
	OutcomeFlipped = "flipped"
	OutcomePending = "pending"
	OutcomeEmpty   = "empty"
)

// SimCollector bundles Prometheus metrics for a simulation run and the
// gRPC surface that reports on it. It implements core.MetricsRecorder.
type SimCollector struct {
	gatherer prometheus.Gatherer

	TicksTotal    prometheus.Counter
	TickDurations prometheus.Histogram

	BarrierChecks  *prometheus.CounterVec
	Flips          *prometheus.CounterVec
	Members        *prometheus.GaugeVec
	Arrived        *prometheus.GaugeVec
	AgentsRejected *prometheus.CounterVec
	OccupiedEdges  *prometheus.GaugeVec

	RPCRequests  *prometheus.CounterVec
	RPCDurations *prometheus.HistogramVec
}

var _ core.MetricsRecorder = (*SimCollector)(nil)

// NewSimCollector registers simulator metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewSimCollector(reg prometheus.Registerer) (*SimCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	ticks, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sim_ticks_total",
		Help: "Total number of completed simulation ticks.",
	}), "sim_ticks_total")
	if err != nil {
		return nil, err
	}

	tickDurations, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sim_tick_duration_seconds",
		Help:    "Wall-clock time spent advancing one tick, excluding pacing.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}), "sim_tick_duration_seconds")
	if err != nil {
		return nil, err
	}

	checks, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sim_barrier_checks_total",
		Help: "Barrier checks, labeled by population and outcome (flipped, pending, empty).",
	}, []string{"population", "outcome"}), "sim_barrier_checks_total")
	if err != nil {
		return nil, err
	}

	flips, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sim_population_flips_total",
		Help: "Direction reversals performed per population.",
	}, []string{"population"}), "sim_population_flips_total")
	if err != nil {
		return nil, err
	}

	members, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sim_population_members",
		Help: "Current number of agents in each population.",
	}, []string{"population"}), "sim_population_members")
	if err != nil {
		return nil, err
	}

	arrived, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sim_population_arrived",
		Help: "Agents that had reached their destination at the last barrier check.",
	}, []string{"population"}), "sim_population_arrived")
	if err != nil {
		return nil, err
	}

	rejected, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sim_agents_rejected_total",
		Help: "Agents skipped during population loading, labeled by population and reason.",
	}, []string{"population", "reason"}), "sim_agents_rejected_total")
	if err != nil {
		return nil, err
	}

	occupied, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sim_occupied_edges",
		Help: "Edges holding at least one agent, per population ledger.",
	}, []string{"population"}), "sim_occupied_edges")
	if err != nil {
		return nil, err
	}

	requests, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sim_grpc_requests_total",
		Help: "Total number of handled gRPC calls, labeled by service, method, and gRPC status code.",
	}, []string{"service", "method", "code"}), "sim_grpc_requests_total")
	if err != nil {
		return nil, err
	}

	durations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sim_grpc_request_duration_seconds",
		Help:    "gRPC call latency in seconds.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"service", "method"}), "sim_grpc_request_duration_seconds")
	if err != nil {
		return nil, err
	}

	return &SimCollector{
		gatherer:       gatherer,
		TicksTotal:     ticks,
		TickDurations:  tickDurations,
		BarrierChecks:  checks,
		Flips:          flips,
		Members:        members,
		Arrived:        arrived,
		AgentsRejected: rejected,
		OccupiedEdges:  occupied,
		RPCRequests:    requests,
		RPCDurations:   durations,
	}, nil
}

// ObserveTick implements core.MetricsRecorder.
func (c *SimCollector) ObserveTick(d time.Duration) {
	if c == nil {
		return
	}
	c.TicksTotal.Inc()
	c.TickDurations.Observe(d.Seconds())
}

// BarrierChecked implements core.MetricsRecorder.
func (c *SimCollector) BarrierChecked(kind model.PopulationKind, res core.BarrierResult) {
	if c == nil {
		return
	}
	outcome := OutcomePending
	switch {
	case res.Flipped:
		outcome = OutcomeFlipped
		c.Flips.WithLabelValues(kind.String()).Inc()
	case res.Empty:
		outcome = OutcomeEmpty
	}
	c.BarrierChecks.WithLabelValues(kind.String(), outcome).Inc()
}

// SetPopulation implements core.MetricsRecorder.
func (c *SimCollector) SetPopulation(kind model.PopulationKind, members, arrived int) {
	if c == nil {
		return
	}
	c.Members.WithLabelValues(kind.String()).Set(float64(members))
	c.Arrived.WithLabelValues(kind.String()).Set(float64(arrived))
}

// AgentRejected implements core.MetricsRecorder.
func (c *SimCollector) AgentRejected(kind model.PopulationKind, reason string) {
	if c == nil {
		return
	}
	c.AgentsRejected.WithLabelValues(kind.String(), reason).Inc()
}

// LedgerHook returns a maintenance hook that publishes how many edges the
// ledger's population currently occupies.
func (c *SimCollector) LedgerHook(l *core.Ledger) func(uint64) {
	return func(uint64) {
		if c == nil || l == nil {
			return
		}
		c.OccupiedEdges.WithLabelValues(l.Kind().String()).Set(float64(l.Occupied()))
	}
}

// UnaryServerInterceptor records request counts and durations for unary RPCs.
func (c *SimCollector) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		if c == nil {
			return resp, err
		}

		fullMethod := ""
		if info != nil {
			fullMethod = info.FullMethod
		}
		service, method := SplitMethod(fullMethod)
		code := status.Code(err).String()

		if c.RPCRequests != nil {
			c.RPCRequests.WithLabelValues(service, method, code).Inc()
		}
		if c.RPCDurations != nil {
			c.RPCDurations.WithLabelValues(service, method).Observe(time.Since(start).Seconds())
		}

		return resp, err
	}
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *SimCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// Handler exposes a ready-to-use /metrics handler.
func (c *SimCollector) Handler() http.Handler {
	gatherer := c.Gatherer()
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SplitMethod parses a fully-qualified gRPC method name into service and method
// components. It tolerates empty strings and partial paths, returning
// "unknown"/"unknown" when parsing fails.
func SplitMethod(fullMethod string) (string, string) {
	if fullMethod == "" {
		return "unknown", "unknown"
	}
	fullMethod = strings.TrimPrefix(fullMethod, "/")
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 2 {
		return "unknown", "unknown"
	}
	service := parts[len(parts)-2]
	method := parts[len(parts)-1]
	if dot := strings.LastIndex(service, "."); dot >= 0 && dot+1 < len(service) {
		service = service[dot+1:]
	}
	if service == "" {
		service = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	return service, method
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}
