package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/signalsfoundry/roadnet-simulator/internal/logging"
	"github.com/signalsfoundry/roadnet-simulator/kb"
	"github.com/signalsfoundry/roadnet-simulator/model"
	"github.com/signalsfoundry/roadnet-simulator/timectrl"
)

// DefaultBarrierPeriod is the number of ticks between barrier checks.
const DefaultBarrierPeriod = 10

var (
	ErrNoNetwork     = errors.New("no network registry")
	ErrInvalidPeriod = errors.New("barrier period must be positive")
)

// StopReason says why Run returned.
type StopReason string

const (
	StopMaxTicks  StopReason = "max_ticks"
	StopCancelled StopReason = "cancelled"
)

// RunSummary describes a finished Run.
type RunSummary struct {
	Ticks         uint64
	BarrierChecks uint64
	Flips         map[model.PopulationKind]uint64
	Members       map[model.PopulationKind]int
	Reason        StopReason
	Elapsed       time.Duration
}

// Engine is the discrete-time scheduler. Each tick it steps every
// population, runs the per-population maintenance hooks and, every
// barrier period, asks each population to check its barrier. Populations
// are visited in the order they were given to NewEngine.
//
// Run must not be called concurrently.
type Engine struct {
	registry    *kb.Registry
	populations []*Population
	period      uint64
	pacer       timectrl.Pacer
	parallel    bool

	hooks         map[model.PopulationKind][]func(uint64)
	tickListeners []func(uint64)

	tick   uint64
	checks uint64

	log     logging.Logger
	metrics MetricsRecorder
}

// EngineOption customises an Engine.
type EngineOption func(*Engine)

// WithBarrierPeriod sets how many ticks pass between barrier checks. It
// limits how often populations are checked, not how often they may flip.
func WithBarrierPeriod(n uint64) EngineOption {
	return func(e *Engine) {
		e.period = n
	}
}

// WithPacer sets the pacer consulted before every tick.
func WithPacer(p timectrl.Pacer) EngineOption {
	return func(e *Engine) {
		if p != nil {
			e.pacer = p
		}
	}
}

// WithParallelPopulations advances populations concurrently within a tick.
// Each population still steps, runs hooks and checks its barrier on a
// single goroutine.
func WithParallelPopulations() EngineOption {
	return func(e *Engine) {
		e.parallel = true
	}
}

// WithEngineLogger attaches a logger.
func WithEngineLogger(l logging.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithEngineMetrics attaches a metrics recorder for tick durations.
func WithEngineMetrics(m MetricsRecorder) EngineOption {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

type noWait struct{}

func (noWait) Wait(ctx context.Context) error { return ctx.Err() }

// NewEngine wires the populations to the shared registry.
func NewEngine(reg *kb.Registry, populations []*Population, opts ...EngineOption) (*Engine, error) {
	if reg == nil {
		return nil, ErrNoNetwork
	}
	e := &Engine{
		registry:    reg,
		populations: append([]*Population(nil), populations...),
		period:      DefaultBarrierPeriod,
		pacer:       noWait{},
		hooks:       make(map[model.PopulationKind][]func(uint64)),
		log:         logging.Noop(),
		metrics:     nopRecorder{},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.period == 0 {
		return nil, ErrInvalidPeriod
	}
	for _, p := range e.populations {
		if p == nil {
			return nil, fmt.Errorf("nil population")
		}
		if p.Registry() != reg {
			return nil, fmt.Errorf("population %s built over a different registry", p.Kind())
		}
	}
	return e, nil
}

// Registry returns the shared network.
func (e *Engine) Registry() *kb.Registry { return e.registry }

// Populations returns the populations in scheduling order.
func (e *Engine) Populations() []*Population {
	return append([]*Population(nil), e.populations...)
}

// Population returns the population of the given kind.
func (e *Engine) Population(kind model.PopulationKind) (*Population, bool) {
	for _, p := range e.populations {
		if p.Kind() == kind {
			return p, true
		}
	}
	return nil, false
}

// BarrierPeriod returns the configured check period.
func (e *Engine) BarrierPeriod() uint64 { return e.period }

// Tick returns the last completed tick.
func (e *Engine) Tick() uint64 { return e.tick }

// AddMaintenanceHook registers fn to run every tick after kind's members
// have stepped. Hooks carry no scheduling logic of their own; they exist
// for index and display upkeep.
func (e *Engine) AddMaintenanceHook(kind model.PopulationKind, fn func(tick uint64)) {
	if fn == nil {
		return
	}
	e.hooks[kind] = append(e.hooks[kind], fn)
}

// RegisterTickListener registers fn to run once a tick has fully completed.
func (e *Engine) RegisterTickListener(fn func(tick uint64)) {
	if fn == nil {
		return
	}
	e.tickListeners = append(e.tickListeners, fn)
}

// Run advances the simulation until maxTicks ticks have run in this call
// or ctx is cancelled. maxTicks == 0 means no tick limit. Cancellation is
// observed between ticks, so the tick in progress always completes.
func (e *Engine) Run(ctx context.Context, maxTicks uint64) (RunSummary, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "engine.run")
	defer span.End()

	for _, p := range e.populations {
		p.Start()
	}

	e.log.Info(ctx, "simulation starting",
		logging.Int("edges", e.registry.Len()),
		logging.Int("populations", len(e.populations)),
		logging.Uint64("barrier_period", e.period),
		logging.Uint64("max_ticks", maxTicks),
		logging.Bool("parallel", e.parallel),
	)

	begin := time.Now()
	var (
		ran    uint64
		reason StopReason
	)
	for {
		if maxTicks > 0 && ran >= maxTicks {
			reason = StopMaxTicks
			break
		}
		if err := e.pacer.Wait(ctx); err != nil {
			reason = StopCancelled
			break
		}

		e.tick++
		ran++
		start := time.Now()
		if err := e.advance(ctx, e.tick); err != nil {
			span.RecordError(err)
			return e.summary(ran, StopCancelled, time.Since(begin)), err
		}
		e.metrics.ObserveTick(time.Since(start))

		for _, fn := range e.tickListeners {
			fn(e.tick)
		}
	}

	summary := e.summary(ran, reason, time.Since(begin))
	span.SetAttributes(
		attribute.Int64("ticks", int64(summary.Ticks)),
		attribute.Int64("barrier_checks", int64(summary.BarrierChecks)),
		attribute.String("stop_reason", string(reason)),
	)
	e.log.Info(ctx, "simulation stopped",
		logging.Uint64("ticks", summary.Ticks),
		logging.Uint64("last_tick", e.tick),
		logging.Uint64("barrier_checks", summary.BarrierChecks),
		logging.String("reason", string(reason)),
		logging.Duration("elapsed", summary.Elapsed),
	)
	return summary, nil
}

func (e *Engine) advance(ctx context.Context, tick uint64) error {
	check := tick%e.period == 0

	if !e.parallel {
		for _, p := range e.populations {
			p.Step(tick)
		}
		for _, p := range e.populations {
			e.runHooks(p.Kind(), tick)
		}
		if check {
			for _, p := range e.populations {
				p.CheckBarrier(ctx, tick)
				e.checks++
			}
		}
		return nil
	}

	var g errgroup.Group
	for _, p := range e.populations {
		g.Go(func() error {
			p.Step(tick)
			e.runHooks(p.Kind(), tick)
			if check {
				p.CheckBarrier(ctx, tick)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if check {
		e.checks += uint64(len(e.populations))
	}
	return nil
}

func (e *Engine) runHooks(kind model.PopulationKind, tick uint64) {
	for _, fn := range e.hooks[kind] {
		fn(tick)
	}
}

func (e *Engine) summary(ran uint64, reason StopReason, elapsed time.Duration) RunSummary {
	s := RunSummary{
		Ticks:         ran,
		BarrierChecks: e.checks,
		Flips:         make(map[model.PopulationKind]uint64, len(e.populations)),
		Members:       make(map[model.PopulationKind]int, len(e.populations)),
		Reason:        reason,
		Elapsed:       elapsed,
	}
	for _, p := range e.populations {
		s.Flips[p.Kind()] = p.Flips()
		s.Members[p.Kind()] = p.Len()
	}
	return s
}

// Shutdown terminates every population, releasing member references.
func (e *Engine) Shutdown(ctx context.Context) {
	for _, p := range e.populations {
		p.Terminate()
	}
	e.log.Info(ctx, "populations terminated")
}
