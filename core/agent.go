package core

import (
	"errors"

	"github.com/signalsfoundry/roadnet-simulator/model"
)

// ErrInvalidEdgeReference is returned when an agent's home or goal
// identifier does not resolve to an edge of the registry.
var ErrInvalidEdgeReference = errors.New("invalid edge reference")

// Agent is one member of a population. Movement and path planning belong
// to the implementation; the core only steps agents, reads their arrival
// flag and flips them.
type Agent interface {
	ID() int
	// Step advances the agent by one tick.
	Step(tick uint64)
	ReachedDestination() bool
	// FlipPath swaps home and goal and clears the arrival flag so that
	// forward progress resumes on the next Step.
	FlipPath()
	Home() model.EdgeID
	Goal() model.EdgeID
	// Position is consumed only by renderers.
	Position() model.Point
}

// AgentFactory constructs an agent for owner travelling from home to goal.
// Returning an error rejects the agent; the loader counts it and moves on.
type AgentFactory func(owner *Population, id int, home, goal *model.Edge) (Agent, error)
