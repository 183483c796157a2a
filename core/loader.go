package core

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/signalsfoundry/roadnet-simulator/internal/logging"
	"github.com/signalsfoundry/roadnet-simulator/kb"
	"github.com/signalsfoundry/roadnet-simulator/model"
)

// Rejection reasons reported to the metrics recorder.
const (
	RejectHomeUnresolved = "home_unresolved"
	RejectGoalUnresolved = "goal_unresolved"
	RejectConstruct      = "construct_failed"
)

// LoadReport summarises one population load.
type LoadReport struct {
	Kind     model.PopulationKind
	Records  int
	Created  int
	Rejected int
	// FallbackGoals counts agents whose goal came from the goal pool.
	FallbackGoals int
	// InvalidRecords counts records skipped for a negative count.
	InvalidRecords int
}

// PopulationLoader turns population records into validated agents. A record
// goal that is missing or does not resolve is replaced, per agent, by a
// uniform draw from the population's goal pool. Agents that still cannot
// be resolved or constructed are skipped and counted.
type PopulationLoader struct {
	registry *kb.Registry
	factory  AgentFactory
	rng      *rand.Rand
	nextID   int

	log     logging.Logger
	metrics MetricsRecorder
}

// LoaderOption customises a PopulationLoader.
type LoaderOption func(*PopulationLoader)

// WithLoaderLogger attaches a logger.
func WithLoaderLogger(l logging.Logger) LoaderOption {
	return func(pl *PopulationLoader) {
		if l != nil {
			pl.log = l
		}
	}
}

// WithLoaderMetrics attaches a metrics recorder for rejected agents.
func WithLoaderMetrics(m MetricsRecorder) LoaderOption {
	return func(pl *PopulationLoader) {
		if m != nil {
			pl.metrics = m
		}
	}
}

// NewPopulationLoader builds a loader. rng drives goal-pool fallback and is
// shared across every population loaded by this loader, in load order.
func NewPopulationLoader(reg *kb.Registry, factory AgentFactory, rng *rand.Rand, opts ...LoaderOption) *PopulationLoader {
	l := &PopulationLoader{
		registry: reg,
		factory:  factory,
		rng:      rng,
		log:      logging.Noop(),
		metrics:  nopRecorder{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load creates the agents described by records and adds them to pop.
// Only a population that is no longer loading produces an error; per-agent
// problems are reflected in the report.
func (l *PopulationLoader) Load(ctx context.Context, pop *Population, records []model.PopulationRecord, pool GoalPool) (LoadReport, error) {
	report := LoadReport{Kind: pop.Kind(), Records: len(records)}
	if st := pop.State(); st != StateLoading {
		return report, fmt.Errorf("%w: %s is %s", ErrNotLoading, pop.Kind(), st)
	}
	log := l.log.With(logging.String("population", pop.Kind().String()))

	for i, rec := range records {
		if rec.Count < 0 {
			report.InvalidRecords++
			log.Warn(ctx, "skipping population record with negative count",
				logging.Int("record", i),
				logging.Int64("home", int64(rec.Home)),
				logging.Int("count", rec.Count),
			)
			continue
		}
		if rec.Count == 0 {
			continue
		}

		home, ok := l.registry.Lookup(rec.Home)
		if !ok {
			report.Rejected += rec.Count
			for range rec.Count {
				l.metrics.AgentRejected(pop.Kind(), RejectHomeUnresolved)
			}
			log.Warn(ctx, "skipping population record with unknown home edge",
				logging.Int("record", i),
				logging.Int64("home", int64(rec.Home)),
				logging.Int("count", rec.Count),
				logging.Error(fmt.Errorf("%w: home %d", ErrInvalidEdgeReference, rec.Home)),
			)
			continue
		}

		var recordGoal *model.Edge
		if rec.Goal != nil {
			recordGoal, _ = l.registry.Lookup(*rec.Goal)
		}

		for range rec.Count {
			goal := recordGoal
			if goal == nil {
				goal = l.fallbackGoal(pool)
				if goal != nil {
					report.FallbackGoals++
				}
			}
			if goal == nil {
				report.Rejected++
				l.metrics.AgentRejected(pop.Kind(), RejectGoalUnresolved)
				log.Warn(ctx, "skipping agent without a resolvable goal edge",
					logging.Int("record", i),
					logging.Int64("home", int64(rec.Home)),
				)
				continue
			}

			id := l.nextID
			l.nextID++

			a, err := l.factory(pop, id, home, goal)
			if err != nil {
				report.Rejected++
				l.metrics.AgentRejected(pop.Kind(), RejectConstruct)
				log.Warn(ctx, "agent construction failed",
					logging.Int("agent_id", id),
					logging.Int64("home", int64(home.ID)),
					logging.Int64("goal", int64(goal.ID)),
					logging.Error(err),
				)
				continue
			}
			if err := pop.Add(a); err != nil {
				return report, err
			}
			report.Created++
		}
	}

	log.Info(ctx, "population loaded",
		logging.Int("records", report.Records),
		logging.Int("created", report.Created),
		logging.Int("rejected", report.Rejected),
		logging.Int("fallback_goals", report.FallbackGoals),
		logging.Int("invalid_records", report.InvalidRecords),
	)
	return report, nil
}

func (l *PopulationLoader) fallbackGoal(pool GoalPool) *model.Edge {
	id, ok := pool.Pick(l.rng)
	if !ok {
		return nil
	}
	e, ok := l.registry.Lookup(id)
	if !ok {
		return nil
	}
	return e
}
