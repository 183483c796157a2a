package core

import (
	"math/rand/v2"

	"github.com/signalsfoundry/roadnet-simulator/model"
)

// GoalPool is a fixed, ordered list of candidate goal edges for one
// population, used when a population record carries no usable goal.
// The pool is immutable; randomness comes from the caller's generator.
type GoalPool struct {
	ids []model.EdgeID
}

// NewGoalPool copies ids into a new pool.
func NewGoalPool(ids ...model.EdgeID) GoalPool {
	return GoalPool{ids: append([]model.EdgeID(nil), ids...)}
}

// Len returns the number of candidates.
func (p GoalPool) Len() int { return len(p.ids) }

// IDs returns a copy of the candidates in pool order.
func (p GoalPool) IDs() []model.EdgeID {
	return append([]model.EdgeID(nil), p.ids...)
}

// Pick draws one candidate uniformly at random, with replacement. It
// reports false for an empty pool.
func (p GoalPool) Pick(rng *rand.Rand) (model.EdgeID, bool) {
	if len(p.ids) == 0 || rng == nil {
		return 0, false
	}
	return p.ids[rng.IntN(len(p.ids))], true
}

// NewRand returns the deterministic generator used for goal selection.
func NewRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}
