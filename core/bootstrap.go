package core

import (
	"context"
	"fmt"

	"github.com/signalsfoundry/roadnet-simulator/internal/logging"
	"github.com/signalsfoundry/roadnet-simulator/kb"
	"github.com/signalsfoundry/roadnet-simulator/model"
	"github.com/signalsfoundry/roadnet-simulator/timectrl"
)

// NetworkSource supplies the raw edge records of the road network.
type NetworkSource interface {
	EdgeRecords() ([]model.EdgeRecord, error)
}

// PopulationSource supplies the population records of one kind.
type PopulationSource interface {
	PopulationRecords(kind model.PopulationKind) ([]model.PopulationRecord, error)
}

// BootstrapConfig carries everything needed to assemble an Engine.
type BootstrapConfig struct {
	Seed                uint64
	BarrierPeriod       uint64
	IdentifierAttribute string
	DuplicatePolicy     kb.DuplicatePolicy
	EmptyFlipGuard      bool
	Parallel            bool
	Pacer               timectrl.Pacer

	// Kinds defaults to model.PopulationKinds.
	Kinds     []model.PopulationKind
	GoalPools map[model.PopulationKind]GoalPool

	Logger  logging.Logger
	Metrics MetricsRecorder
}

// BootstrapReport summarises network construction and population loading.
type BootstrapReport struct {
	Edges        int
	Duplicates   int
	Loads        []LoadReport
	SourceErrors int
}

// Created returns the total number of agents admitted.
func (r BootstrapReport) Created() int {
	n := 0
	for _, l := range r.Loads {
		n += l.Created
	}
	return n
}

// Rejected returns the total number of rejected agents.
func (r BootstrapReport) Rejected() int {
	n := 0
	for _, l := range r.Loads {
		n += l.Rejected
	}
	return n
}

// Bootstrap builds the registry, loads every population and returns an
// engine ready to run. A network failure is fatal and yields no engine. A
// population source failure leaves that population empty and is counted.
func Bootstrap(ctx context.Context, cfg BootstrapConfig, network NetworkSource, pops PopulationSource, factory AgentFactory) (*Engine, BootstrapReport, error) {
	var report BootstrapReport

	log := cfg.Logger
	if log == nil {
		log = logging.Noop()
	}
	var metrics MetricsRecorder = nopRecorder{}
	if cfg.Metrics != nil {
		metrics = cfg.Metrics
	}

	if network == nil {
		return nil, report, fmt.Errorf("%w: no network source", kb.ErrConstruction)
	}
	if factory == nil {
		return nil, report, fmt.Errorf("bootstrap: nil agent factory")
	}
	records, err := network.EdgeRecords()
	if err != nil {
		return nil, report, fmt.Errorf("%w: %v", kb.ErrConstruction, err)
	}

	reg, err := kb.Build(records,
		kb.WithIdentifierAttribute(cfg.IdentifierAttribute),
		kb.WithDuplicatePolicy(cfg.DuplicatePolicy),
		kb.WithLogger(log),
	)
	if err != nil {
		return nil, report, err
	}
	report.Edges = reg.Len()
	report.Duplicates = reg.Duplicates()
	log.Info(ctx, "road network built",
		logging.Int("edges", reg.Len()),
		logging.Int("junctions", len(reg.Junctions())),
		logging.Int("duplicates", reg.Duplicates()),
	)

	kinds := cfg.Kinds
	if len(kinds) == 0 {
		kinds = model.PopulationKinds
	}

	popOpts := []PopulationOption{
		WithPopulationLogger(log),
		WithPopulationMetrics(metrics),
	}
	if cfg.EmptyFlipGuard {
		popOpts = append(popOpts, WithEmptyFlipGuard())
	}

	loader := NewPopulationLoader(reg, factory, NewRand(cfg.Seed),
		WithLoaderLogger(log),
		WithLoaderMetrics(metrics),
	)

	populations := make([]*Population, 0, len(kinds))
	for _, kind := range kinds {
		pop := NewPopulation(kind, reg, popOpts...)
		populations = append(populations, pop)

		var recs []model.PopulationRecord
		if pops != nil {
			recs, err = pops.PopulationRecords(kind)
			if err != nil {
				report.SourceErrors++
				log.Warn(ctx, "population source failed; population left empty",
					logging.String("population", kind.String()),
					logging.Error(err),
				)
				continue
			}
		}

		lr, err := loader.Load(ctx, pop, recs, cfg.GoalPools[kind])
		if err != nil {
			return nil, report, err
		}
		report.Loads = append(report.Loads, lr)
		metrics.SetPopulation(kind, pop.Len(), 0)
	}

	engineOpts := []EngineOption{
		WithBarrierPeriod(cfg.BarrierPeriod),
		WithPacer(cfg.Pacer),
		WithEngineLogger(log),
		WithEngineMetrics(metrics),
	}
	if cfg.BarrierPeriod == 0 {
		engineOpts[0] = WithBarrierPeriod(DefaultBarrierPeriod)
	}
	if cfg.Parallel {
		engineOpts = append(engineOpts, WithParallelPopulations())
	}

	engine, err := NewEngine(reg, populations, engineOpts...)
	if err != nil {
		return nil, report, err
	}
	return engine, report, nil
}
