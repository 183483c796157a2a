package core

import (
	"sync"
	"testing"
	"time"

	"github.com/signalsfoundry/roadnet-simulator/kb"
	"github.com/signalsfoundry/roadnet-simulator/model"
)

// fakeAgent arrives after arriveAfter steps (never when zero) and records
// every call made by the core.
type fakeAgent struct {
	id          int
	home, goal  model.EdgeID
	arriveAfter int

	steps   int
	flips   int
	reached bool
}

func (a *fakeAgent) ID() int                  { return a.id }
func (a *fakeAgent) Home() model.EdgeID       { return a.home }
func (a *fakeAgent) Goal() model.EdgeID       { return a.goal }
func (a *fakeAgent) ReachedDestination() bool { return a.reached }
func (a *fakeAgent) Position() model.Point    { return model.Point{} }

func (a *fakeAgent) Step(uint64) {
	a.steps++
	if a.arriveAfter > 0 && a.steps >= a.arriveAfter {
		a.reached = true
	}
}

func (a *fakeAgent) FlipPath() {
	a.flips++
	a.home, a.goal = a.goal, a.home
	a.reached = false
	a.steps = 0
}

// fakeFactory builds fakeAgents and records them on the owner's ledger at
// their home edge, the way real agents do.
func fakeFactory(arriveAfter int) AgentFactory {
	return func(owner *Population, id int, home, goal *model.Edge) (Agent, error) {
		a := &fakeAgent{id: id, home: home.ID, goal: goal.ID, arriveAfter: arriveAfter}
		if err := owner.Ledger().Attach(home.ID, a); err != nil {
			return nil, err
		}
		return a, nil
	}
}

func edgeRecord(id string, from, to model.Point) model.EdgeRecord {
	return model.EdgeRecord{
		Attributes:  map[string]string{kb.DefaultIdentifierAttribute: id},
		Coordinates: []model.Point{from, to},
		Directed:    true,
	}
}

var (
	ptA = model.Point{X: 0, Y: 0}
	ptB = model.Point{X: 10, Y: 0}
	ptC = model.Point{X: 20, Y: 0}
	ptD = model.Point{X: 30, Y: 0}
)

// lineRegistry builds edges 1:A→B, 2:B→C plus any extra records.
func lineRegistry(t *testing.T, extra ...model.EdgeRecord) *kb.Registry {
	t.Helper()
	records := append([]model.EdgeRecord{
		edgeRecord("1", ptA, ptB),
		edgeRecord("2", ptB, ptC),
	}, extra...)
	reg, err := kb.Build(records)
	if err != nil {
		t.Fatalf("kb.Build: %v", err)
	}
	return reg
}

func edgeID(id int64) *model.EdgeID {
	e := model.EdgeID(id)
	return &e
}

type recordingMetrics struct {
	mu       sync.Mutex
	ticks    int
	checks   []BarrierResult
	members  map[model.PopulationKind]int
	rejected map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		members:  make(map[model.PopulationKind]int),
		rejected: make(map[string]int),
	}
}

func (m *recordingMetrics) ObserveTick(time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ticks++
}

func (m *recordingMetrics) BarrierChecked(_ model.PopulationKind, res BarrierResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks = append(m.checks, res)
}

func (m *recordingMetrics) SetPopulation(kind model.PopulationKind, members, _ int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members[kind] = members
}

func (m *recordingMetrics) AgentRejected(_ model.PopulationKind, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejected[reason]++
}
