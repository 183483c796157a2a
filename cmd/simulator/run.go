package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/signalsfoundry/roadnet-simulator/core"
	"github.com/signalsfoundry/roadnet-simulator/internal/config"
	"github.com/signalsfoundry/roadnet-simulator/internal/logging"
	"github.com/signalsfoundry/roadnet-simulator/internal/observability"
	"github.com/signalsfoundry/roadnet-simulator/internal/walker"
	"github.com/signalsfoundry/roadnet-simulator/model"
	"github.com/signalsfoundry/roadnet-simulator/timectrl"
)

// setup is everything loaded before the engine is assembled.
type setup struct {
	cfg      config.Config
	log      logging.Logger
	network  core.NetworkSource
	pops     core.PopulationSource
	scenario string
}

func load(ctx context.Context, opts options, logOut io.Writer) (context.Context, *setup, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return ctx, nil, err
	}
	ctx, log := logging.WithRunLogger(ctx, cfg.Logger(logOut))

	path := opts.scenarioPath
	if path == "" {
		path = cfg.Network.Path
	}
	if path == "" {
		return ctx, nil, errors.New("no road network: pass --scenario or set network.path")
	}
	sc, err := core.LoadScenarioFile(path)
	if err != nil {
		return ctx, nil, err
	}

	return ctx, &setup{
		cfg:     cfg,
		log:     log,
		network: sc,
		pops: core.CSVPopulationSource{
			Paths:    cfg.PopulationCSVs(),
			Fallback: sc,
		},
		scenario: path,
	}, nil
}

func runSimulation(ctx context.Context, opts options, ticksSet bool, logOut io.Writer) (core.RunSummary, error) {
	ctx, s, err := load(ctx, opts, logOut)
	if err != nil {
		return core.RunSummary{}, err
	}
	log := s.log

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector, err := observability.NewSimCollector(registry)
	if err != nil {
		return core.RunSummary{}, fmt.Errorf("init metrics: %w", err)
	}
	metricsSrv, err := serveMetrics(ctx, s.cfg.Metrics.Addr, collector, log)
	if err != nil {
		return core.RunSummary{}, err
	}
	defer shutdownHTTP(metricsSrv)

	health, err := serveHealth(ctx, s.cfg.Health.Addr, collector, log)
	if err != nil {
		return core.RunSummary{}, err
	}
	if health != nil {
		defer health.Stop()
	}

	mode, err := s.cfg.ClockMode()
	if err != nil {
		return core.RunSummary{}, err
	}
	clock := timectrl.NewTickClock(time.Now().UTC(), s.cfg.TickInterval, mode)

	bc, err := s.cfg.Bootstrap(log, collector, clock)
	if err != nil {
		return core.RunSummary{}, err
	}
	engine, report, err := core.Bootstrap(ctx, bc, s.network, s.pops, walker.Factory(s.cfg.Speeds(), walker.WithLogger(log)))
	if err != nil {
		return core.RunSummary{}, err
	}
	logBootstrap(ctx, log, s.scenario, report)

	shutdownTracing, err := observability.InitTracing(ctx, s.cfg.Tracing, observability.RunInfo{
		RunID:         logging.RunIDFromContext(ctx),
		Scenario:      s.scenario,
		Seed:          s.cfg.Seed,
		BarrierPeriod: engine.BarrierPeriod(),
		Edges:         report.Edges,
		Agents:        report.Created(),
	}, log)
	if err != nil {
		return core.RunSummary{}, fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	for _, p := range engine.Populations() {
		engine.AddMaintenanceHook(p.Kind(), collector.LedgerHook(p.Ledger()))
	}
	engine.RegisterTickListener(func(tick uint64) {
		if tick%engine.BarrierPeriod() == 0 {
			log.Debug(ctx, "barrier period completed",
				logging.Uint64("tick", tick),
				logging.String("sim_time", clock.Now().Format(time.RFC3339)),
			)
		}
	})
	if health != nil {
		health.MarkServing(engine.Populations())
	}

	maxTicks := s.cfg.MaxTicks
	if ticksSet {
		maxTicks = opts.ticks
	}
	summary, err := engine.Run(ctx, maxTicks)
	// Report before Shutdown releases members.
	logRunReport(ctx, log, summary, report)
	engine.Shutdown(context.WithoutCancel(ctx))
	return summary, err
}

func validateSetup(ctx context.Context, opts options, out, logOut io.Writer) error {
	ctx, s, err := load(ctx, opts, logOut)
	if err != nil {
		return err
	}
	bc, err := s.cfg.Bootstrap(s.log, nil, nil)
	if err != nil {
		return err
	}
	engine, report, err := core.Bootstrap(ctx, bc, s.network, s.pops, walker.Factory(s.cfg.Speeds(), walker.WithLogger(s.log)))
	if err != nil {
		return err
	}
	logBootstrap(ctx, s.log, s.scenario, report)

	fmt.Fprintf(out, "network %s: %d edges (%d duplicate ids overwritten)\n", s.scenario, report.Edges, report.Duplicates)
	for _, lr := range report.Loads {
		fmt.Fprintf(out, "%-8s created=%d rejected=%d fallback_goals=%d invalid_records=%d\n",
			lr.Kind, lr.Created, lr.Rejected, lr.FallbackGoals, lr.InvalidRecords)
	}
	engine.Shutdown(ctx)
	return nil
}

func logBootstrap(ctx context.Context, log logging.Logger, scenario string, report core.BootstrapReport) {
	log.Info(ctx, "engine assembled",
		logging.String("scenario", scenario),
		logging.Int("edges", report.Edges),
		logging.Int("duplicates", report.Duplicates),
		logging.Int("rejected_agents", report.Rejected()),
		logging.Int("source_errors", report.SourceErrors),
	)
}

func logRunReport(ctx context.Context, log logging.Logger, summary core.RunSummary, report core.BootstrapReport) {
	rejected := make(map[model.PopulationKind]int, len(report.Loads))
	for _, lr := range report.Loads {
		rejected[lr.Kind] = lr.Rejected
	}
	for _, kind := range model.PopulationKinds {
		members, ok := summary.Members[kind]
		if !ok {
			continue
		}
		log.Info(ctx, "run report",
			logging.String("population", kind.String()),
			logging.Int("members", members),
			logging.Int("rejected", rejected[kind]),
			logging.Uint64("flips", summary.Flips[kind]),
		)
	}
}

func serveMetrics(ctx context.Context, addr string, collector *observability.SimCollector, log logging.Logger) (*http.Server, error) {
	if addr == "" || collector == nil {
		return nil, nil
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen for metrics on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn(ctx, "metrics server exited", logging.Error(err))
		}
	}()

	log.Info(ctx, "serving Prometheus metrics", logging.String("addr", lis.Addr().String()))
	return srv, nil
}

func shutdownHTTP(srv *http.Server) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}

func serveHealth(ctx context.Context, addr string, collector *observability.SimCollector, log logging.Logger) (*observability.HealthServer, error) {
	if addr == "" {
		return nil, nil
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen for health on %s: %w", addr, err)
	}
	srv := observability.NewHealthServer(collector, log, model.PopulationKinds)
	go func() {
		if err := srv.Serve(ctx, lis); err != nil {
			log.Warn(ctx, "health server exited", logging.Error(err))
		}
	}()
	return srv, nil
}
