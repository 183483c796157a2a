package core

import (
	"errors"
	"testing"

	"github.com/signalsfoundry/roadnet-simulator/model"
)

func TestNewLedgerHasEntryPerEdge(t *testing.T) {
	reg := lineRegistry(t)
	l := NewLedger(model.PopulationElderly, reg)

	if l.Kind() != model.PopulationElderly {
		t.Fatalf("Kind() = %v, want elderly", l.Kind())
	}
	ids := l.Edges()
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 2 {
		t.Fatalf("Edges() = %v, want [1 2]", ids)
	}
	for _, id := range ids {
		if l.Count(id) != 0 {
			t.Fatalf("edge %d should start empty", id)
		}
	}
}

func TestLedgerAttachDetachOrder(t *testing.T) {
	l := NewLedger(model.PopulationGeneral, lineRegistry(t))
	a1, a2, a3 := &fakeAgent{id: 1}, &fakeAgent{id: 2}, &fakeAgent{id: 3}

	for _, a := range []Agent{a1, a2, a1, a3} {
		if err := l.Attach(1, a); err != nil {
			t.Fatalf("Attach: %v", err)
		}
	}
	if !l.Detach(1, a1) {
		t.Fatalf("Detach(a1) reported nothing removed")
	}

	got := l.Occupants(1)
	want := []Agent{a2, a1, a3}
	if len(got) != len(want) {
		t.Fatalf("Occupants len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Occupants[%d] = agent %d, want agent %d", i, got[i].ID(), want[i].ID())
		}
	}
	if l.Total() != 3 {
		t.Fatalf("Total() = %d, want 3", l.Total())
	}
}

func TestLedgerDetachKeepsEntry(t *testing.T) {
	l := NewLedger(model.PopulationGeneral, lineRegistry(t))
	a := &fakeAgent{id: 1}
	_ = l.Attach(2, a)

	if !l.Detach(2, a) {
		t.Fatalf("Detach returned false")
	}
	if l.Detach(2, a) {
		t.Fatalf("second Detach should find nothing")
	}
	if !l.Has(2) {
		t.Fatalf("entry for edge 2 disappeared after detaching its last agent")
	}
}

func TestLedgerUnknownEdge(t *testing.T) {
	l := NewLedger(model.PopulationGeneral, lineRegistry(t))
	err := l.Attach(42, &fakeAgent{id: 1})
	if !errors.Is(err, ErrUnknownEdge) {
		t.Fatalf("Attach(42) error = %v, want ErrUnknownEdge", err)
	}
	if l.Has(42) {
		t.Fatalf("Attach to unknown edge must not create an entry")
	}
}

func TestLedgerOccupantsIsCopy(t *testing.T) {
	l := NewLedger(model.PopulationGeneral, lineRegistry(t))
	a := &fakeAgent{id: 1}
	_ = l.Attach(1, a)

	occ := l.Occupants(1)
	occ[0] = &fakeAgent{id: 99}
	if l.Occupants(1)[0] != a {
		t.Fatalf("mutating Occupants result changed the ledger")
	}
}

func TestLedgersArePerPopulation(t *testing.T) {
	reg := lineRegistry(t)
	general := NewLedger(model.PopulationGeneral, reg)
	aid := NewLedger(model.PopulationAid, reg)

	_ = general.Attach(1, &fakeAgent{id: 1})
	if aid.Count(1) != 0 {
		t.Fatalf("attaching to one population's ledger leaked into another")
	}
}
