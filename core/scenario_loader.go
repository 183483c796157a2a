package core

import (
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/roadnet-simulator/model"
)

// Scenario is a road network plus optional inline population records,
// read from YAML (or JSON, which YAML accepts). It satisfies both
// NetworkSource and PopulationSource.
type Scenario struct {
	Edges       []model.EdgeRecord
	Populations map[model.PopulationKind][]model.PopulationRecord
}

// internal file shape; kept unexported so the format can evolve.
type scenarioFile struct {
	Edges       []model.EdgeRecord                   `yaml:"edges"`
	Populations map[string][]model.PopulationRecord `yaml:"populations"`
}

// LoadScenario decodes a scenario from r. It fails only on decode and
// structural errors; identifier problems surface when the registry is
// built.
func LoadScenario(r io.Reader) (*Scenario, error) {
	var payload scenarioFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&payload); err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("LoadScenario: empty scenario")
		}
		return nil, fmt.Errorf("LoadScenario: decode failed: %w", err)
	}

	sc := &Scenario{
		Edges:       payload.Edges,
		Populations: make(map[model.PopulationKind][]model.PopulationRecord, len(payload.Populations)),
	}
	// Aliases of one kind merge in name order so agent ids stay reproducible.
	names := make([]string, 0, len(payload.Populations))
	for name := range payload.Populations {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		kind, err := model.ParsePopulationKind(name)
		if err != nil {
			return nil, fmt.Errorf("LoadScenario: %w", err)
		}
		sc.Populations[kind] = append(sc.Populations[kind], payload.Populations[name]...)
	}
	return sc, nil
}

// LoadScenarioFile opens path and decodes it with LoadScenario.
func LoadScenarioFile(path string) (*Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open scenario %q: %w", path, err)
	}
	defer f.Close()
	return LoadScenario(f)
}

// EdgeRecords implements NetworkSource.
func (s *Scenario) EdgeRecords() ([]model.EdgeRecord, error) {
	if s == nil || len(s.Edges) == 0 {
		return nil, fmt.Errorf("scenario has no edges")
	}
	return s.Edges, nil
}

// PopulationRecords implements PopulationSource. Kinds without records
// yield an empty slice.
func (s *Scenario) PopulationRecords(kind model.PopulationKind) ([]model.PopulationRecord, error) {
	if s == nil {
		return nil, nil
	}
	return s.Populations[kind], nil
}
