package core

import (
	"time"

	"github.com/signalsfoundry/roadnet-simulator/model"
)

// MetricsRecorder receives simulation counters. Implementations must be
// safe for concurrent use when populations advance in parallel.
type MetricsRecorder interface {
	ObserveTick(d time.Duration)
	BarrierChecked(kind model.PopulationKind, res BarrierResult)
	SetPopulation(kind model.PopulationKind, members, arrived int)
	AgentRejected(kind model.PopulationKind, reason string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveTick(time.Duration)                         {}
func (nopRecorder) BarrierChecked(model.PopulationKind, BarrierResult) {}
func (nopRecorder) SetPopulation(model.PopulationKind, int, int)       {}
func (nopRecorder) AgentRejected(model.PopulationKind, string)         {}
