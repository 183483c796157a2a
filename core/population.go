package core

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/roadnet-simulator/internal/logging"
	"github.com/signalsfoundry/roadnet-simulator/kb"
	"github.com/signalsfoundry/roadnet-simulator/model"
)

const tracerName = "github.com/signalsfoundry/roadnet-simulator/core"

// ErrNotLoading is returned when members are added after a population has
// started running.
var ErrNotLoading = errors.New("population is not loading")

// PopulationState is the lifecycle state of a population.
type PopulationState int

const (
	StateLoading PopulationState = iota
	StateRunning
	StateFlipping
	StateTerminated
)

func (s PopulationState) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateRunning:
		return "running"
	case StateFlipping:
		return "flipping"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// BarrierResult reports the outcome of one barrier check.
type BarrierResult struct {
	Kind    model.PopulationKind
	Tick    uint64
	Members int
	// Pending is the number of members that had not arrived.
	Pending int
	Flipped bool
	// Empty is set when the population had no members at check time.
	Empty            bool
	TravelingForward bool
}

// Population owns the members of one agent class, their occupancy ledger
// and the population-wide travel direction.
type Population struct {
	mu sync.Mutex

	kind     model.PopulationKind
	registry *kb.Registry
	ledger   *Ledger

	members          []Agent
	travelingForward bool
	state            PopulationState
	flips            uint64

	guardEmpty bool
	log        logging.Logger
	metrics    MetricsRecorder
}

// PopulationOption customises a Population.
type PopulationOption func(*Population)

// WithEmptyFlipGuard stops a population with no members from flipping at
// every barrier check. Without it an empty population is vacuously
// all-arrived and flips each period.
func WithEmptyFlipGuard() PopulationOption {
	return func(p *Population) {
		p.guardEmpty = true
	}
}

// WithPopulationLogger attaches a logger.
func WithPopulationLogger(l logging.Logger) PopulationOption {
	return func(p *Population) {
		if l != nil {
			p.log = l
		}
	}
}

// WithPopulationMetrics attaches a metrics recorder.
func WithPopulationMetrics(m MetricsRecorder) PopulationOption {
	return func(p *Population) {
		if m != nil {
			p.metrics = m
		}
	}
}

// NewPopulation creates an empty population in the Loading state with its
// own ledger over reg.
func NewPopulation(kind model.PopulationKind, reg *kb.Registry, opts ...PopulationOption) *Population {
	p := &Population{
		kind:             kind,
		registry:         reg,
		ledger:           NewLedger(kind, reg),
		travelingForward: true,
		state:            StateLoading,
		log:              logging.Noop(),
		metrics:          nopRecorder{},
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.With(logging.String("population", kind.String()))
	return p
}

func (p *Population) Kind() model.PopulationKind { return p.kind }
func (p *Population) Ledger() *Ledger            { return p.ledger }
func (p *Population) Registry() *kb.Registry     { return p.registry }

// State returns the current lifecycle state.
func (p *Population) State() PopulationState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// TravelingForward reports the population-wide direction flag.
func (p *Population) TravelingForward() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.travelingForward
}

// Flips returns how many times the population has reversed direction.
func (p *Population) Flips() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.flips
}

// Len returns the member count.
func (p *Population) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.members)
}

// Members returns a snapshot of the member list in registration order.
func (p *Population) Members() []Agent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Agent(nil), p.members...)
}

// Add registers a validated agent. Members can only be added while loading.
func (p *Population) Add(a Agent) error {
	if a == nil {
		return fmt.Errorf("%s: nil agent", p.kind)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateLoading {
		return fmt.Errorf("%w: %s is %s", ErrNotLoading, p.kind, p.state)
	}
	p.members = append(p.members, a)
	return nil
}

// Start moves a loading population to Running.
func (p *Population) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateLoading {
		p.state = StateRunning
	}
}

// Step advances every member once, in member order. It does nothing unless
// the population is running.
func (p *Population) Step(tick uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateRunning {
		return
	}
	for _, a := range p.members {
		a.Step(tick)
	}
}

// CheckBarrier flips every member when all of them have reached their
// destination. While any member is still travelling the check changes
// nothing. The scan and the flip happen under the population lock, so no
// Step of this population can interleave with them.
func (p *Population) CheckBarrier(ctx context.Context, tick uint64) BarrierResult {
	p.mu.Lock()
	res := p.checkLocked(ctx, tick)
	arrived := res.Members - res.Pending
	if res.Flipped {
		arrived = 0
	}
	p.mu.Unlock()

	p.metrics.BarrierChecked(p.kind, res)
	p.metrics.SetPopulation(p.kind, res.Members, arrived)
	return res
}

func (p *Population) checkLocked(ctx context.Context, tick uint64) BarrierResult {
	res := BarrierResult{
		Kind:             p.kind,
		Tick:             tick,
		Members:          len(p.members),
		TravelingForward: p.travelingForward,
	}
	if p.state != StateRunning {
		res.Pending = res.Members
		return res
	}

	for _, a := range p.members {
		if !a.ReachedDestination() {
			res.Pending++
		}
	}
	if res.Pending > 0 {
		return res
	}

	if res.Members == 0 {
		res.Empty = true
		if p.guardEmpty {
			return res
		}
		p.log.Debug(ctx, "empty population vacuously arrived", logging.Uint64("tick", tick))
	}

	_, span := otel.Tracer(tracerName).Start(ctx, "population.flip",
		trace.WithAttributes(
			attribute.String("population", p.kind.String()),
			attribute.Int("members", res.Members),
			attribute.Int64("tick", int64(tick)),
		),
	)
	defer span.End()

	p.state = StateFlipping
	p.travelingForward = !p.travelingForward
	for _, a := range p.members {
		a.FlipPath()
	}
	p.flips++
	p.state = StateRunning

	res.Flipped = true
	res.TravelingForward = p.travelingForward
	if res.Members > 0 {
		p.log.Info(ctx, "population reversed direction",
			logging.Uint64("tick", tick),
			logging.Int("members", res.Members),
			logging.Bool("traveling_forward", p.travelingForward),
			logging.Uint64("flips", p.flips),
		)
	}
	return res
}

// Terminate stops the population and releases its members. Ledger entries
// stay in place, emptied.
func (p *Population) Terminate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateTerminated {
		return
	}
	p.state = StateTerminated
	p.members = nil
	p.ledger.clear()
}
