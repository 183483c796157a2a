package core

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/signalsfoundry/roadnet-simulator/kb"
	"github.com/signalsfoundry/roadnet-simulator/model"
)

func populationWith(t *testing.T, reg *kb.Registry, kind model.PopulationKind, agents ...Agent) *Population {
	t.Helper()
	p := NewPopulation(kind, reg)
	for _, a := range agents {
		if err := p.Add(a); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	return p
}

func TestEngineFlipsRoundTrip(t *testing.T) {
	reg := lineRegistry(t)
	a := &fakeAgent{id: 1, home: 1, goal: 2, arriveAfter: 2}
	pop := populationWith(t, reg, model.PopulationGeneral, a)

	e, err := NewEngine(reg, []*Population{pop}, WithBarrierPeriod(1))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	summary, err := e.Run(context.Background(), 2)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Flips[model.PopulationGeneral] != 1 {
		t.Fatalf("flips after arrival = %d, want 1", summary.Flips[model.PopulationGeneral])
	}
	if a.home != 2 || a.goal != 1 || pop.TravelingForward() {
		t.Fatalf("agent not heading home after flip: home=%d goal=%d", a.home, a.goal)
	}

	summary, err = e.Run(context.Background(), 2)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if pop.Flips() != 2 || a.home != 1 || a.goal != 2 || !pop.TravelingForward() {
		t.Fatalf("after the return trip flips=%d home=%d goal=%d", pop.Flips(), a.home, a.goal)
	}
	if e.Tick() != 4 || summary.Ticks != 2 {
		t.Fatalf("Tick()=%d summary.Ticks=%d, want 4 and 2", e.Tick(), summary.Ticks)
	}
	if summary.Reason != StopMaxTicks {
		t.Fatalf("Reason = %s, want %s", summary.Reason, StopMaxTicks)
	}
}

func TestEngineChecksOnlyOnPeriod(t *testing.T) {
	reg := lineRegistry(t)
	metrics := newRecordingMetrics()
	pop := NewPopulation(model.PopulationGeneral, reg, WithPopulationMetrics(metrics))

	e, err := NewEngine(reg, []*Population{pop}, WithBarrierPeriod(3), WithEngineMetrics(metrics))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	summary, err := e.Run(context.Background(), 10)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if summary.BarrierChecks != 3 {
		t.Fatalf("BarrierChecks = %d, want 3", summary.BarrierChecks)
	}
	want := []uint64{3, 6, 9}
	if len(metrics.checks) != len(want) {
		t.Fatalf("checked at %d ticks, want %d", len(metrics.checks), len(want))
	}
	for i, res := range metrics.checks {
		if res.Tick != want[i] {
			t.Fatalf("check %d at tick %d, want %d", i, res.Tick, want[i])
		}
	}
	if metrics.ticks != 10 {
		t.Fatalf("observed %d ticks, want 10", metrics.ticks)
	}
}

func TestEngineHooksRunEveryTick(t *testing.T) {
	reg := lineRegistry(t)
	general := populationWith(t, reg, model.PopulationGeneral)
	aid := populationWith(t, reg, model.PopulationAid)

	e, err := NewEngine(reg, []*Population{general, aid})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	var generalCalls, aidCalls, listenerCalls int
	e.AddMaintenanceHook(model.PopulationGeneral, func(uint64) { generalCalls++ })
	e.AddMaintenanceHook(model.PopulationAid, func(uint64) { aidCalls++ })
	e.RegisterTickListener(func(uint64) { listenerCalls++ })

	if _, err := e.Run(context.Background(), 7); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if generalCalls != 7 || aidCalls != 7 || listenerCalls != 7 {
		t.Fatalf("hook calls general=%d aid=%d listener=%d, want 7 each", generalCalls, aidCalls, listenerCalls)
	}
}

func TestEnginePopulationsAreIndependent(t *testing.T) {
	reg := lineRegistry(t)
	stuck := &fakeAgent{id: 1, home: 1, goal: 2}
	quick := &fakeAgent{id: 2, home: 1, goal: 2, arriveAfter: 1}
	general := populationWith(t, reg, model.PopulationGeneral, stuck)
	elderly := populationWith(t, reg, model.PopulationElderly, quick)

	e, err := NewEngine(reg, []*Population{general, elderly}, WithBarrierPeriod(1))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if _, err := e.Run(context.Background(), 5); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if general.Flips() != 0 {
		t.Fatalf("population with a travelling member flipped")
	}
	if elderly.Flips() != 5 {
		t.Fatalf("elderly flips = %d, want 5", elderly.Flips())
	}
}

func TestEngineStopsOnCancel(t *testing.T) {
	reg := lineRegistry(t)
	e, err := NewEngine(reg, []*Population{populationWith(t, reg, model.PopulationGeneral)})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.RegisterTickListener(func(tick uint64) {
		if tick == 5 {
			cancel()
		}
	})

	summary, err := e.Run(ctx, 0)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Ticks != 5 || summary.Reason != StopCancelled {
		t.Fatalf("summary = %+v, want 5 ticks and cancelled", summary)
	}
}

func TestEngineParallelMatchesSequential(t *testing.T) {
	run := func(parallel bool) map[model.PopulationKind]uint64 {
		reg := lineRegistry(t)
		var pops []*Population
		for i, kind := range model.PopulationKinds {
			pops = append(pops, populationWith(t, reg, kind,
				&fakeAgent{id: i, home: 1, goal: 2, arriveAfter: i + 1}))
		}
		opts := []EngineOption{WithBarrierPeriod(2)}
		if parallel {
			opts = append(opts, WithParallelPopulations())
		}
		e, err := NewEngine(reg, pops, opts...)
		if err != nil {
			t.Fatalf("NewEngine: %v", err)
		}

		var hooks atomic.Int64
		for _, kind := range model.PopulationKinds {
			e.AddMaintenanceHook(kind, func(uint64) { hooks.Add(1) })
		}
		summary, err := e.Run(context.Background(), 40)
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if hooks.Load() != 160 {
			t.Fatalf("hooks ran %d times, want 160", hooks.Load())
		}
		if summary.BarrierChecks != 80 {
			t.Fatalf("BarrierChecks = %d, want 80", summary.BarrierChecks)
		}
		return summary.Flips
	}

	seq := run(false)
	par := run(true)
	for _, kind := range model.PopulationKinds {
		if seq[kind] != par[kind] {
			t.Fatalf("%s flips sequential=%d parallel=%d", kind, seq[kind], par[kind])
		}
		if seq[kind] == 0 {
			t.Fatalf("%s never flipped", kind)
		}
	}
}

func TestNewEngineValidation(t *testing.T) {
	reg := lineRegistry(t)

	if _, err := NewEngine(nil, nil); !errors.Is(err, ErrNoNetwork) {
		t.Fatalf("nil registry error = %v, want ErrNoNetwork", err)
	}
	if _, err := NewEngine(reg, nil, WithBarrierPeriod(0)); !errors.Is(err, ErrInvalidPeriod) {
		t.Fatalf("zero period error = %v, want ErrInvalidPeriod", err)
	}

	other := lineRegistry(t)
	foreign := NewPopulation(model.PopulationGeneral, other)
	if _, err := NewEngine(reg, []*Population{foreign}); err == nil {
		t.Fatalf("expected error for population built over another registry")
	}
}

func TestEngineShutdownTerminatesPopulations(t *testing.T) {
	reg := lineRegistry(t)
	pop := populationWith(t, reg, model.PopulationGeneral, &fakeAgent{id: 1})
	e, err := NewEngine(reg, []*Population{pop})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if _, err := e.Run(context.Background(), 1); err != nil {
		t.Fatalf("Run: %v", err)
	}

	e.Shutdown(context.Background())
	if pop.State() != StateTerminated || pop.Len() != 0 {
		t.Fatalf("population not terminated: state=%v len=%d", pop.State(), pop.Len())
	}
	if got, ok := e.Population(model.PopulationGeneral); !ok || got != pop {
		t.Fatalf("Population lookup failed")
	}
}
