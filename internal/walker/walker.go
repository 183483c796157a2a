// Package walker provides the agent used by the simulator binary: it walks
// the shortest route by length from its home edge to its goal edge at a
// constant speed and keeps its population's occupancy ledger current.
package walker

import (
	"context"
	"errors"
	"fmt"

	"github.com/signalsfoundry/roadnet-simulator/core"
	"github.com/signalsfoundry/roadnet-simulator/internal/logging"
	"github.com/signalsfoundry/roadnet-simulator/kb"
	"github.com/signalsfoundry/roadnet-simulator/model"
)

var (
	ErrNoRoute      = errors.New("no route between home and goal")
	ErrInvalidSpeed = errors.New("speed must be positive")
)

// DefaultSpeeds are the per-tick travel distances, in network units, of
// each population.
var DefaultSpeeds = map[model.PopulationKind]float64{
	model.PopulationGeneral: 1.4,
	model.PopulationAid:     1.6,
	model.PopulationElderly: 0.9,
	model.PopulationLimited: 0.6,
}

// Walker is a core.Agent that follows a planned route edge by edge.
type Walker struct {
	id     int
	reg    *kb.Registry
	ledger *core.Ledger
	speed  float64

	home, goal *model.Edge

	route    []leg
	idx      int
	progress float64
	reached  bool

	log logging.Logger
}

// Option customises a Walker.
type Option func(*Walker)

// WithLogger attaches a logger for ledger bookkeeping failures.
func WithLogger(l logging.Logger) Option {
	return func(w *Walker) {
		if l != nil {
			w.log = l
		}
	}
}

// New plans a route from home to goal and places the walker at the start
// of it, recording it on the ledger. Nothing is recorded if planning fails.
func New(id int, reg *kb.Registry, ledger *core.Ledger, home, goal *model.Edge, speed float64, opts ...Option) (*Walker, error) {
	if home == nil || goal == nil {
		return nil, core.ErrInvalidEdgeReference
	}
	if speed <= 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSpeed, speed)
	}
	route, ok := planInitial(reg, home, goal)
	if !ok {
		return nil, fmt.Errorf("%w: %d -> %d", ErrNoRoute, home.ID, goal.ID)
	}

	w := &Walker{
		id:     id,
		reg:    reg,
		ledger: ledger,
		speed:  speed,
		home:   home,
		goal:   goal,
		route:  route,
		log:    logging.Noop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	if err := ledger.Attach(w.current().ID, w); err != nil {
		return nil, err
	}
	return w, nil
}

// Factory returns a core.AgentFactory building walkers with the given
// per-population speeds. Kinds missing from speeds use DefaultSpeeds.
func Factory(speeds map[model.PopulationKind]float64, opts ...Option) core.AgentFactory {
	return func(owner *core.Population, id int, home, goal *model.Edge) (core.Agent, error) {
		speed, ok := speeds[owner.Kind()]
		if !ok || speed == 0 {
			speed = DefaultSpeeds[owner.Kind()]
		}
		return New(id, owner.Registry(), owner.Ledger(), home, goal, speed, opts...)
	}
}

func (w *Walker) ID() int                  { return w.id }
func (w *Walker) Home() model.EdgeID       { return w.home.ID }
func (w *Walker) Goal() model.EdgeID       { return w.goal.ID }
func (w *Walker) ReachedDestination() bool { return w.reached }

func (w *Walker) current() *model.Edge { return w.route[w.idx].edge }

// Step moves the walker speed units along its route, crossing onto
// following edges as needed. Arrival happens at the far end of the goal
// edge.
func (w *Walker) Step(uint64) {
	if w.reached {
		return
	}
	w.progress += w.speed
	for w.progress >= w.route[w.idx].edge.Length {
		if w.idx == len(w.route)-1 {
			w.progress = w.route[w.idx].edge.Length
			w.reached = true
			return
		}
		w.progress -= w.route[w.idx].edge.Length
		w.moveTo(w.idx + 1)
	}
}

func (w *Walker) moveTo(idx int) {
	prev := w.current()
	w.idx = idx
	w.relocate(prev, w.current())
}

// relocate moves the walker's ledger entry from prev to next.
func (w *Walker) relocate(prev, next *model.Edge) {
	if prev == next {
		return
	}
	w.ledger.Detach(prev.ID, w)
	if err := w.ledger.Attach(next.ID, w); err != nil {
		w.log.Error(context.Background(), "walker lost its ledger entry",
			logging.Int("agent_id", w.id),
			logging.Int64("from_edge", int64(prev.ID)),
			logging.Int64("to_edge", int64(next.ID)),
			logging.Error(err),
		)
	}
}

// FlipPath swaps home and goal and plans the way back from the walker's
// current position. If the network offers no way back, the walker
// retraces its last route.
func (w *Walker) FlipPath() {
	at := w.route[w.idx].to()
	if !w.reached {
		at = w.route[w.idx].from
	}
	w.home, w.goal = w.goal, w.home

	route, ok := planFrom(w.reg, at, w.goal)
	if !ok {
		route = reverseRoute(w.route)
	}

	prev := w.current()
	w.route = route
	w.idx = 0
	w.progress = 0
	w.reached = false
	w.relocate(prev, w.current())
}

// Position returns the walker's location on its current edge.
func (w *Walker) Position() model.Point {
	l := w.route[w.idx]
	return l.edge.PointAt(l.from, w.progress)
}
