package coyote

import (
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/orizon-lang/coyote/internal/coyote/strategy"
)

// StrategyKind selects a built-in exploration strategy (spec.md §3
// Configuration "strategy").
type StrategyKind string

const (
	StrategyRandom              StrategyKind = "random"
	StrategyProbabilisticRandom StrategyKind = "probabilistic-random"
	StrategyPriorityBounded     StrategyKind = "priority-based-bounded"
	StrategyDepthFirst          StrategyKind = "depth-first"
	StrategyReplay              StrategyKind = "replay"
)

// Config holds the load-bearing engine configuration enumerated in
// spec.md §3. File/CLI parsing of this struct is explicitly out of scope
// (spec.md §1 Non-goals); only in-process construction is provided.
type Config struct {
	Strategy       StrategyKind
	StrategyBound  int
	RandomSeed     int64
	HasRandomSeed  bool
	FairWrapper    bool // wrap Strategy in strategy.Fair

	MaxFairSteps   int
	MaxUnfairSteps int
	TestingIterations int

	LivenessCheckingEnabled      bool
	LivenessTemperatureThreshold int
	StateCachingEnabled          bool

	DeadlockTimeout time.Duration

	IsPartiallyControlledConcurrencyAllowed     bool
	UncontrolledConcurrencyResolutionAttempts   int
	UncontrolledConcurrencyResolutionDelay      time.Duration

	PortfolioMode bool
	Portfolio     []StrategyKind

	Clock clockwork.Clock
}

// Option mutates a Config; functional options keep NewRuntime's signature
// stable as the configuration surface grows (mirrors the teacher's
// Default*Config-plus-struct-mutation convention).
type Option func(*Config)

// DefaultConfig returns sensible defaults, matching the scales used by
// spec.md §8's end-to-end scenarios.
func DefaultConfig() Config {
	return Config{
		Strategy:                     StrategyRandom,
		StrategyBound:                3,
		FairWrapper:                  false,
		MaxFairSteps:                 10000,
		MaxUnfairSteps:               1000,
		TestingIterations:            1000,
		LivenessCheckingEnabled:      true,
		LivenessTemperatureThreshold: 1000,
		StateCachingEnabled:          false,
		DeadlockTimeout:              5 * time.Second,
		UncontrolledConcurrencyResolutionAttempts: 5,
		UncontrolledConcurrencyResolutionDelay:    10 * time.Millisecond,
		Clock: clockwork.NewRealClock(),
	}
}

func WithStrategy(kind StrategyKind) Option {
	return func(c *Config) { c.Strategy = kind }
}

func WithStrategyBound(bound int) Option {
	return func(c *Config) { c.StrategyBound = bound }
}

func WithSeed(seed int64) Option {
	return func(c *Config) { c.RandomSeed = seed; c.HasRandomSeed = true }
}

func WithFairWrapper(enabled bool) Option {
	return func(c *Config) { c.FairWrapper = enabled }
}

func WithStepBudgets(fair, unfair int) Option {
	return func(c *Config) { c.MaxFairSteps = fair; c.MaxUnfairSteps = unfair }
}

func WithIterations(n int) Option {
	return func(c *Config) { c.TestingIterations = n }
}

func WithLiveness(enabled bool, threshold int) Option {
	return func(c *Config) { c.LivenessCheckingEnabled = enabled; c.LivenessTemperatureThreshold = threshold }
}

func WithStateCaching(enabled bool) Option {
	return func(c *Config) { c.StateCachingEnabled = enabled }
}

func WithDeadlockTimeout(d time.Duration) Option {
	return func(c *Config) { c.DeadlockTimeout = d }
}

func WithPartiallyControlledConcurrency(allowed bool, attempts int, delay time.Duration) Option {
	return func(c *Config) {
		c.IsPartiallyControlledConcurrencyAllowed = allowed
		c.UncontrolledConcurrencyResolutionAttempts = attempts
		c.UncontrolledConcurrencyResolutionDelay = delay
	}
}

func WithPortfolio(kinds ...StrategyKind) Option {
	return func(c *Config) { c.PortfolioMode = true; c.Portfolio = kinds }
}

// WithClock overrides the wall clock the engine sleeps on between
// uncontrolled-concurrency polls, letting tests substitute a
// clockwork.FakeClock. The engine never waits for DeadlockTimeout, on this
// clock or any other.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Config) { c.Clock = clock }
}

// NewConfig applies opts over DefaultConfig.
func NewConfig(opts ...Option) Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return cfg
}

// buildStrategy constructs the strategy.Strategy from Config that RunTest
// shares across every iteration of a run, applying the fair wrapper and replay trace if
// configured. replayHistory is nil unless Strategy == StrategyReplay.
func buildStrategy(cfg Config, seed int64, replayHistory strategy.History) strategy.Strategy {
	if cfg.Strategy == StrategyReplay {
		return strategy.NewReplay(replayHistory)
	}

	if cfg.PortfolioMode && len(cfg.Portfolio) > 0 {
		members := make([]strategy.Strategy, 0, len(cfg.Portfolio))
		for _, kind := range cfg.Portfolio {
			members = append(members, buildNamedStrategy(kind, cfg, seed))
		}
		return strategy.NewPortfolio(members...)
	}

	s := buildNamedStrategy(cfg.Strategy, cfg, seed)
	if cfg.FairWrapper && !s.IsFair() {
		return strategy.NewFair(s, cfg.MaxUnfairSteps)
	}
	return s
}

func buildNamedStrategy(kind StrategyKind, cfg Config, seed int64) strategy.Strategy {
	switch kind {
	case StrategyProbabilisticRandom:
		return strategy.NewProbabilistic(seed, cfg.StrategyBound)
	case StrategyPriorityBounded:
		return strategy.NewPriorityBounded(seed, cfg.StrategyBound)
	case StrategyDepthFirst:
		return strategy.NewDepthFirst(cfg.MaxFairSteps + cfg.MaxUnfairSteps)
	default:
		return strategy.NewRandom(seed)
	}
}
