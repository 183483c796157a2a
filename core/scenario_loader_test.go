package core

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/signalsfoundry/roadnet-simulator/model"
)

const sampleScenario = `
edges:
  - attributes: {ROAD_ID: "1", NAME: "Harbour Rd"}
    coordinates: [{x: 0, y: 0}, {x: 10, y: 0}]
    directed: true
  - attributes: {ROAD_ID: "2"}
    coordinates: [{x: 10, y: 0}, {x: 20, y: 0}]
populations:
  general:
    - {count: 3, home: 1, goal: 2}
  ngo:
    - {count: 1, home: 2}
`

func TestLoadScenario(t *testing.T) {
	sc, err := LoadScenario(strings.NewReader(sampleScenario))
	if err != nil {
		t.Fatalf("LoadScenario returned error: %v", err)
	}

	edges, err := sc.EdgeRecords()
	if err != nil {
		t.Fatalf("EdgeRecords: %v", err)
	}
	if len(edges) != 2 {
		t.Fatalf("expected 2 edges, got %d", len(edges))
	}
	if edges[0].Attributes["NAME"] != "Harbour Rd" || !edges[0].Directed {
		t.Fatalf("first edge decoded wrongly: %+v", edges[0])
	}
	if edges[1].Directed {
		t.Fatalf("directed should default to false")
	}

	general, _ := sc.PopulationRecords(model.PopulationGeneral)
	if len(general) != 1 || general[0].Count != 3 || general[0].Goal == nil || *general[0].Goal != 2 {
		t.Fatalf("general records = %+v", general)
	}
	aid, _ := sc.PopulationRecords(model.PopulationAid)
	if len(aid) != 1 || aid[0].Goal != nil {
		t.Fatalf("aid records (via ngo alias) = %+v", aid)
	}
	elderly, err := sc.PopulationRecords(model.PopulationElderly)
	if err != nil || len(elderly) != 0 {
		t.Fatalf("elderly should be empty, got %v (%v)", elderly, err)
	}
}

func TestLoadScenarioErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"unknown field", "edges: []\nbogus: 1\n"},
		{"unknown population", "populations:\n  tourists: []\n"},
		{"bad yaml", "edges: [\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := LoadScenario(strings.NewReader(tc.input)); err == nil {
				t.Fatalf("expected error for %q", tc.input)
			}
		})
	}
}

func TestScenarioWithoutEdges(t *testing.T) {
	sc, err := LoadScenario(strings.NewReader("populations: {}\n"))
	if err != nil {
		t.Fatalf("LoadScenario: %v", err)
	}
	if _, err := sc.EdgeRecords(); err == nil {
		t.Fatalf("expected error for scenario without edges")
	}
}

func TestLoadScenarioFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	if err := os.WriteFile(path, []byte(sampleScenario), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	sc, err := LoadScenarioFile(path)
	if err != nil {
		t.Fatalf("LoadScenarioFile: %v", err)
	}
	if len(sc.Edges) != 2 {
		t.Fatalf("expected 2 edges, got %d", len(sc.Edges))
	}

	if _, err := LoadScenarioFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestLoadScenarioMergesAliasesInNameOrder(t *testing.T) {
	const input = `
populations:
  ngo:
    - {count: 1, home: 20}
  aid:
    - {count: 1, home: 10}
`
	for range 20 {
		sc, err := LoadScenario(strings.NewReader(input))
		if err != nil {
			t.Fatalf("LoadScenario: %v", err)
		}
		recs, _ := sc.PopulationRecords(model.PopulationAid)
		if len(recs) != 2 || recs[0].Home != 10 || recs[1].Home != 20 {
			t.Fatalf("aid records = %+v, want aid before ngo", recs)
		}
	}
}
