package core

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/signalsfoundry/roadnet-simulator/kb"
	"github.com/signalsfoundry/roadnet-simulator/model"
)

type networkFunc func() ([]model.EdgeRecord, error)

func (f networkFunc) EdgeRecords() ([]model.EdgeRecord, error) { return f() }

func TestBootstrapBuildsRunnableEngine(t *testing.T) {
	sc, err := LoadScenario(strings.NewReader(sampleScenario))
	if err != nil {
		t.Fatalf("LoadScenario: %v", err)
	}
	sc.Populations[model.PopulationElderly] = []model.PopulationRecord{
		{Count: 2, Home: 99, Goal: edgeID(1)},
	}

	metrics := newRecordingMetrics()
	engine, report, err := Bootstrap(context.Background(), BootstrapConfig{
		Seed:          12345,
		BarrierPeriod: 1,
		GoalPools: map[model.PopulationKind]GoalPool{
			model.PopulationAid: NewGoalPool(1),
		},
		Metrics: metrics,
	}, sc, sc, fakeFactory(1))
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}

	if report.Edges != 2 || len(report.Loads) != len(model.PopulationKinds) {
		t.Fatalf("report = %+v", report)
	}
	if report.Created() != 4 {
		t.Fatalf("Created() = %d, want 4", report.Created())
	}
	if report.Rejected() != 2 {
		t.Fatalf("Rejected() = %d, want 2 (unknown elderly home)", report.Rejected())
	}

	general, _ := engine.Population(model.PopulationGeneral)
	aid, _ := engine.Population(model.PopulationAid)
	elderly, _ := engine.Population(model.PopulationElderly)
	if general.Len() != 3 || aid.Len() != 1 || elderly.Len() != 0 {
		t.Fatalf("members general=%d aid=%d elderly=%d", general.Len(), aid.Len(), elderly.Len())
	}
	if aid.Members()[0].Goal() != 1 {
		t.Fatalf("aid goal should come from its pool")
	}
	if metrics.members[model.PopulationGeneral] != 3 {
		t.Fatalf("population gauge not set after load")
	}

	summary, err := engine.Run(context.Background(), 1)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Flips[model.PopulationGeneral] != 1 {
		t.Fatalf("general flips = %d, want 1", summary.Flips[model.PopulationGeneral])
	}
}

func TestBootstrapNetworkFailureIsFatal(t *testing.T) {
	failing := networkFunc(func() ([]model.EdgeRecord, error) {
		return nil, errors.New("shapefile unreadable")
	})
	engine, _, err := Bootstrap(context.Background(), BootstrapConfig{}, failing, nil, fakeFactory(0))
	if !errors.Is(err, kb.ErrConstruction) {
		t.Fatalf("error = %v, want kb.ErrConstruction", err)
	}
	if engine != nil {
		t.Fatalf("engine returned despite network failure")
	}

	bad := networkFunc(func() ([]model.EdgeRecord, error) {
		return []model.EdgeRecord{{Coordinates: []model.Point{ptA, ptB}}}, nil
	})
	if _, _, err := Bootstrap(context.Background(), BootstrapConfig{}, bad, nil, fakeFactory(0)); !errors.Is(err, kb.ErrConstruction) {
		t.Fatalf("missing identifier error = %v, want kb.ErrConstruction", err)
	}
}

func TestBootstrapSourceErrorLeavesPopulationEmpty(t *testing.T) {
	network := networkFunc(func() ([]model.EdgeRecord, error) {
		return []model.EdgeRecord{edgeRecord("1", ptA, ptB)}, nil
	})
	src := stubSource{model.PopulationGeneral: {{Count: 1, Home: 1, Goal: edgeID(1)}}}

	engine, report, err := Bootstrap(context.Background(), BootstrapConfig{
		Kinds: []model.PopulationKind{model.PopulationGeneral, model.PopulationLimited},
	}, network, src, fakeFactory(0))
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if report.SourceErrors != 1 {
		t.Fatalf("SourceErrors = %d, want 1", report.SourceErrors)
	}
	limited, ok := engine.Population(model.PopulationLimited)
	if !ok || limited.Len() != 0 {
		t.Fatalf("limited population should exist and be empty")
	}
	if engine.BarrierPeriod() != DefaultBarrierPeriod {
		t.Fatalf("BarrierPeriod = %d, want default %d", engine.BarrierPeriod(), DefaultBarrierPeriod)
	}
}
