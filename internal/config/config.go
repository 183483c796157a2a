// Package config loads the simulator's process configuration: a YAML file
// decoded over defaults, then environment overrides, then validation.
package config

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/roadnet-simulator/core"
	"github.com/signalsfoundry/roadnet-simulator/internal/logging"
	"github.com/signalsfoundry/roadnet-simulator/internal/observability"
	"github.com/signalsfoundry/roadnet-simulator/kb"
	"github.com/signalsfoundry/roadnet-simulator/model"
	"github.com/signalsfoundry/roadnet-simulator/timectrl"
)

// DefaultSeed seeds the goal-pool generator when no seed is configured.
const DefaultSeed = 12345

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("popkind", validatePopulationKind)
	_ = validate.RegisterValidation("listenaddr", validateListenAddr)
}

func validatePopulationKind(fl validator.FieldLevel) bool {
	_, err := model.ParsePopulationKind(fl.Field().String())
	return err == nil
}

func validateListenAddr(fl validator.FieldLevel) bool {
	_, port, err := net.SplitHostPort(fl.Field().String())
	if err != nil {
		return false
	}
	n, err := strconv.Atoi(port)
	return err == nil && n >= 0 && n <= 65535
}

// Config is the full process configuration.
type Config struct {
	Seed           uint64        `yaml:"seed"`
	BarrierPeriod  uint64        `yaml:"barrier_period" validate:"gt=0"`
	MaxTicks       uint64        `yaml:"max_ticks"`
	TickInterval   time.Duration `yaml:"tick_interval" validate:"gte=0"`
	Mode           string        `yaml:"mode" validate:"oneof=accelerated realtime real-time"`
	Parallel       bool          `yaml:"parallel"`
	EmptyFlipGuard bool          `yaml:"empty_flip_guard"`

	Network     NetworkConfig               `yaml:"network"`
	Populations map[string]PopulationConfig `yaml:"populations" validate:"dive,keys,popkind,endkeys"`

	Logging LoggingConfig               `yaml:"logging"`
	Metrics ListenConfig                `yaml:"metrics"`
	Health  ListenConfig                `yaml:"health"`
	Tracing observability.TracingConfig `yaml:"tracing"`
}

// NetworkConfig locates the road network and says how to read it.
type NetworkConfig struct {
	Path                string `yaml:"path"`
	IdentifierAttribute string `yaml:"identifier_attribute" validate:"required"`
	DuplicatePolicy     string `yaml:"duplicate_policy" validate:"oneof=overwrite reject"`
}

// PopulationConfig configures one population kind.
type PopulationConfig struct {
	CSV      string  `yaml:"csv"`
	GoalPool []int64 `yaml:"goal_pool"`
	Speed    float64 `yaml:"speed" validate:"gte=0"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Format string `yaml:"format" validate:"omitempty,oneof=text json"`
}

// ListenConfig is an optional listen address; empty disables the server.
type ListenConfig struct {
	Addr string `yaml:"addr" validate:"omitempty,listenaddr"`
}

// Reference goal pools. The general population draws from a wider set.
var (
	generalGoals = []int64{
		60708, 70353, 75417, 29565, 3715, 15816, 47794, 16561, 70035, 55437,
		98, 45, 987, 345, 5643, 234, 21, 8765, 10345,
	}
	sharedGoals = []int64{
		60708, 70353, 75417, 29565, 3715, 15816, 47794, 16561, 70035, 55437,
	}
)

// DefaultGoalPool returns the reference goal pool of kind.
func DefaultGoalPool(kind model.PopulationKind) []int64 {
	if kind == model.PopulationGeneral {
		return append([]int64(nil), generalGoals...)
	}
	return append([]int64(nil), sharedGoals...)
}

// Default returns the configuration used when no file is given.
func Default() Config {
	pops := make(map[string]PopulationConfig, len(model.PopulationKinds))
	for _, kind := range model.PopulationKinds {
		pops[kind.String()] = PopulationConfig{GoalPool: DefaultGoalPool(kind)}
	}
	return Config{
		Seed:          DefaultSeed,
		BarrierPeriod: core.DefaultBarrierPeriod,
		TickInterval:  time.Second,
		Mode:          timectrl.Accelerated.String(),
		Network: NetworkConfig{
			IdentifierAttribute: kb.DefaultIdentifierAttribute,
			DuplicatePolicy:     kb.DuplicateOverwrite.String(),
		},
		Populations: pops,
		Logging:     LoggingConfig{Level: "info", Format: "text"},
		Tracing:     observability.DefaultTracingConfig(),
	}
}

// Load reads path (when non-empty) over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("open config %q: %w", path, err)
		}
		defer f.Close()
		if err := cfg.decode(f); err != nil {
			return Config{}, fmt.Errorf("config %q: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes r over the defaults and validates the result. Environment
// overrides are not applied.
func Parse(r io.Reader) (Config, error) {
	cfg := Default()
	if err := cfg.decode(r); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) decode(r io.Reader) error {
	defaults := c.Populations
	c.Populations = nil
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode: %w", err)
	}
	return c.normalizePopulations(defaults)
}

// normalizePopulations rekeys alias names ("ngo", "main", ...) to the
// canonical kind name, takes kinds the file left out from defaults and
// restores reference pools for kinds whose entry was given without one.
// Two names for the same kind are rejected. Unknown names are left for
// Validate to reject.
func (c *Config) normalizePopulations(defaults map[string]PopulationConfig) error {
	if c.Populations == nil {
		c.Populations = make(map[string]PopulationConfig)
	}
	names := make([]string, 0, len(c.Populations))
	for name := range c.Populations {
		names = append(names, name)
	}
	sort.Strings(names)

	seen := make(map[model.PopulationKind]string, len(names))
	for _, name := range names {
		kind, err := model.ParsePopulationKind(name)
		if err != nil {
			continue
		}
		if prev, dup := seen[kind]; dup {
			return fmt.Errorf("%w: populations %q and %q both configure %s", ErrInvalid, prev, name, kind)
		}
		seen[kind] = name
	}
	for kind, name := range seen {
		if name == kind.String() {
			continue
		}
		pc := c.Populations[name]
		delete(c.Populations, name)
		c.Populations[kind.String()] = pc
	}

	for _, kind := range model.PopulationKinds {
		pc, ok := c.Populations[kind.String()]
		if !ok {
			pc = defaults[kind.String()]
		}
		if pc.GoalPool == nil {
			pc.GoalPool = DefaultGoalPool(kind)
		}
		c.Populations[kind.String()] = pc
	}
	return nil
}

// ApplyEnv overrides fields from SIM_SEED, SIM_BARRIER_PERIOD,
// SIM_MAX_TICKS, LOG_LEVEL and LOG_FORMAT when set.
func (c *Config) ApplyEnv() error {
	for _, v := range []struct {
		name string
		dst  *uint64
	}{
		{"SIM_SEED", &c.Seed},
		{"SIM_BARRIER_PERIOD", &c.BarrierPeriod},
		{"SIM_MAX_TICKS", &c.MaxTicks},
	} {
		raw, ok := os.LookupEnv(v.name)
		if !ok || raw == "" {
			continue
		}
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: %s=%q: %v", ErrInvalid, v.name, raw, err)
		}
		*v.dst = n
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		c.Logging.Format = format
	}
	c.Tracing = c.Tracing.WithEnv()
	return nil
}

// Validate checks struct constraints.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// Logger builds the process logger described by the logging section.
func (c Config) Logger(out io.Writer) logging.Logger {
	return logging.New(logging.Config{
		Level:  c.Logging.Level,
		Format: c.Logging.Format,
		Output: out,
	})
}

// ClockMode returns the parsed pacing mode.
func (c Config) ClockMode() (timectrl.Mode, error) {
	return timectrl.ParseMode(c.Mode)
}

// GoalPools returns the goal pool of every configured kind.
func (c Config) GoalPools() map[model.PopulationKind]core.GoalPool {
	pools := make(map[model.PopulationKind]core.GoalPool, len(c.Populations))
	for name, pc := range c.Populations {
		kind, err := model.ParsePopulationKind(name)
		if err != nil {
			continue
		}
		ids := make([]model.EdgeID, len(pc.GoalPool))
		for i, id := range pc.GoalPool {
			ids[i] = model.EdgeID(id)
		}
		pools[kind] = core.NewGoalPool(ids...)
	}
	return pools
}

// Speeds returns the configured per-kind speeds; zero entries are left out.
func (c Config) Speeds() map[model.PopulationKind]float64 {
	speeds := make(map[model.PopulationKind]float64)
	for name, pc := range c.Populations {
		kind, err := model.ParsePopulationKind(name)
		if err != nil || pc.Speed == 0 {
			continue
		}
		speeds[kind] = pc.Speed
	}
	return speeds
}

// PopulationCSVs returns the configured population table of each kind.
func (c Config) PopulationCSVs() map[model.PopulationKind]string {
	paths := make(map[model.PopulationKind]string)
	for name, pc := range c.Populations {
		kind, err := model.ParsePopulationKind(name)
		if err != nil || pc.CSV == "" {
			continue
		}
		paths[kind] = pc.CSV
	}
	return paths
}

// Bootstrap translates the configuration into engine assembly settings.
func (c Config) Bootstrap(log logging.Logger, metrics core.MetricsRecorder, pacer timectrl.Pacer) (core.BootstrapConfig, error) {
	policy, err := kb.ParseDuplicatePolicy(c.Network.DuplicatePolicy)
	if err != nil {
		return core.BootstrapConfig{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return core.BootstrapConfig{
		Seed:                c.Seed,
		BarrierPeriod:       c.BarrierPeriod,
		IdentifierAttribute: c.Network.IdentifierAttribute,
		DuplicatePolicy:     policy,
		EmptyFlipGuard:      c.EmptyFlipGuard,
		Parallel:            c.Parallel,
		Pacer:               pacer,
		GoalPools:           c.GoalPools(),
		Logger:              log,
		Metrics:             metrics,
	}, nil
}
