package coyote

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/orizon-lang/coyote/internal/coyote/coyoteerr"
	"github.com/orizon-lang/coyote/internal/coyote/strategy"
)

// EngineVersion is reported as the top-level CoyoteVersion field of
// emitted trace JSON and checked (via semver) against incoming replay
// traces (SPEC_FULL.md domain stack: Masterminds/semver).
const EngineVersion = "1.0.0"

// SchedulingDecision is the engine-internal form of spec.md §3's "Scheduling
// Decision" tuple.
type SchedulingDecision struct {
	CurrentOp  OpID
	SequenceID uint64
	Kind       PointKind

	// Meaningful for scheduling choices (Kind is not a data choice).
	NextOp  OpID
	NextSeq uint64

	// Meaningful for nondeterministic data choices.
	IsDataChoice bool
	BoolValue    bool
	IntValue     int
}

// toStrategyDecision adapts an engine SchedulingDecision to the
// strategy-package's decoupled Decision type.
func (d SchedulingDecision) toStrategyDecision() strategy.Decision {
	return strategy.Decision{
		CurrentOp:    strategy.OpID(d.CurrentOp),
		SequenceID:   d.SequenceID,
		Kind:         strategy.Kind(d.Kind.String()),
		NextOp:       strategy.OpID(d.NextOp),
		NextSeq:      d.NextSeq,
		IsDataChoice: d.IsDataChoice,
		BoolValue:    d.BoolValue,
		IntValue:     d.IntValue,
	}
}

// step renders one decision in the Steps[] string grammar of spec.md §6.
func (d SchedulingDecision) step() string {
	if d.IsDataChoice {
		if d.Kind == PointNondetBoolean {
			return fmt.Sprintf("op(%d:%d),bool(%t)", d.CurrentOp, d.SequenceID, d.BoolValue)
		}
		return fmt.Sprintf("op(%d:%d),int(%d)", d.CurrentOp, d.SequenceID, d.IntValue)
	}
	return fmt.Sprintf("op(%d:%d),sp(%s),next(%d:%d)", d.CurrentOp, d.SequenceID, d.Kind, d.NextOp, d.NextSeq)
}

// ExecutionTrace is the append-only decision log of one testing iteration
// (spec.md §3). Replay consumes it to deterministically reproduce a run.
type ExecutionTrace struct {
	Steps        []SchedulingDecision
	Descriptions map[OpID]string
}

func newExecutionTrace() *ExecutionTrace {
	return &ExecutionTrace{Descriptions: make(map[OpID]string)}
}

func (t *ExecutionTrace) append(d SchedulingDecision) {
	t.Steps = append(t.Steps, d)
}

// History converts the trace to the read-only strategy.History a Strategy
// consults.
func (t *ExecutionTrace) History() strategy.History {
	h := make(strategy.History, len(t.Steps))
	for i, d := range t.Steps {
		h[i] = d.toStrategyDecision()
	}
	return h
}

// TraceSettings mirrors spec.md §6's Settings object, bit-exact field names.
type TraceSettings struct {
	Strategy                                        string `json:"Strategy"`
	StrategyBound                                    int    `json:"StrategyBound"`
	Seed                                             *int64 `json:"Seed"`
	MaxFairSchedulingSteps                           int    `json:"MaxFairSchedulingSteps"`
	MaxUnfairSchedulingSteps                         int    `json:"MaxUnfairSchedulingSteps"`
	TimeoutDelay                                     int64  `json:"TimeoutDelay"`
	DeadlockTimeout                                   int64  `json:"DeadlockTimeout"`
	PortfolioMode                                     string `json:"PortfolioMode"`
	IsLivenessCheckingEnabled                         bool   `json:"IsLivenessCheckingEnabled"`
	LivenessTemperatureThreshold                      int    `json:"LivenessTemperatureThreshold"`
	IsLockAccessRaceCheckingEnabled                   bool   `json:"IsLockAccessRaceCheckingEnabled"`
	IsPartiallyControlledConcurrencyAllowed           bool   `json:"IsPartiallyControlledConcurrencyAllowed"`
	IsPartiallyControlledDataNondeterminismAllowed    bool   `json:"IsPartiallyControlledDataNondeterminismAllowed"`
	UncontrolledConcurrencyResolutionAttempts         uint   `json:"UncontrolledConcurrencyResolutionAttempts"`
	UncontrolledConcurrencyResolutionDelay            uint64 `json:"UncontrolledConcurrencyResolutionDelay"`
}

// TraceJSON is the bit-exact wire schema of spec.md §6.
type TraceJSON struct {
	TestName      string            `json:"TestName"`
	CoyoteVersion string            `json:"CoyoteVersion,omitempty"`
	Settings      TraceSettings     `json:"Settings"`
	Operations    map[string]string `json:"Operations"`
	Steps         []string          `json:"Steps"`
}

// ToJSON renders the trace plus the configuration that produced it into the
// spec.md §6 wire schema.
func (t *ExecutionTrace) ToJSON(testName string, cfg Config, portfolioName string) *TraceJSON {
	ops := make(map[string]string, len(t.Descriptions))
	for id, desc := range t.Descriptions {
		ops[fmt.Sprintf("op(%d)", id)] = desc
	}

	steps := make([]string, len(t.Steps))
	for i, d := range t.Steps {
		steps[i] = d.step()
	}

	var seed *int64
	if cfg.HasRandomSeed {
		s := cfg.RandomSeed
		seed = &s
	}

	return &TraceJSON{
		TestName:      testName,
		CoyoteVersion: EngineVersion,
		Settings: TraceSettings{
			Strategy:                     string(cfg.Strategy),
			StrategyBound:                cfg.StrategyBound,
			Seed:                         seed,
			MaxFairSchedulingSteps:       cfg.MaxFairSteps,
			MaxUnfairSchedulingSteps:     cfg.MaxUnfairSteps,
			TimeoutDelay:                 cfg.DeadlockTimeout.Milliseconds(),
			DeadlockTimeout:              cfg.DeadlockTimeout.Milliseconds(),
			PortfolioMode:                portfolioName,
			IsLivenessCheckingEnabled:    cfg.LivenessCheckingEnabled,
			LivenessTemperatureThreshold: cfg.LivenessTemperatureThreshold,
			IsPartiallyControlledConcurrencyAllowed:        cfg.IsPartiallyControlledConcurrencyAllowed,
			IsPartiallyControlledDataNondeterminismAllowed: false,
			UncontrolledConcurrencyResolutionAttempts:      uint(cfg.UncontrolledConcurrencyResolutionAttempts),
			UncontrolledConcurrencyResolutionDelay:         uint64(cfg.UncontrolledConcurrencyResolutionDelay.Milliseconds()),
		},
		Operations: ops,
		Steps:      steps,
	}
}

// Marshal renders the trace to indented JSON bytes.
func (t *ExecutionTrace) Marshal(testName string, cfg Config, portfolioName string) ([]byte, error) {
	return json.MarshalIndent(t.ToJSON(testName, cfg, portfolioName), "", "  ")
}

// ParseTraceJSON parses trace JSON (e.g. read from disk) back into a
// TraceJSON, validating CoyoteVersion compatibility against EngineVersion
// when present.
func ParseTraceJSON(data []byte) (*TraceJSON, error) {
	var tj TraceJSON
	if err := json.Unmarshal(data, &tj); err != nil {
		return nil, coyoteerr.Wrap(coyoteerr.CategoryReplay, "MALFORMED_JSON", "failed to parse trace JSON", err, nil)
	}
	if tj.CoyoteVersion != "" {
		traceVer, err1 := semver.NewVersion(tj.CoyoteVersion)
		engineVer, err2 := semver.NewVersion(EngineVersion)
		if err1 == nil && err2 == nil && traceVer.Major() != engineVer.Major() {
			return nil, coyoteerr.ReplayVersionIncompatible(tj.CoyoteVersion, EngineVersion)
		}
	}
	return &tj, nil
}

// ToConfig extracts the Config fields a replay run should apply, per
// spec.md §6 "Replay parses this, sets every configuration field that is
// present, then drives the scheduler with the recorded decisions."
func (tj *TraceJSON) ToConfig() Config {
	cfg := DefaultConfig()
	cfg.Strategy = StrategyReplay
	cfg.StrategyBound = tj.Settings.StrategyBound
	if tj.Settings.Seed != nil {
		cfg.RandomSeed = *tj.Settings.Seed
		cfg.HasRandomSeed = true
	}
	cfg.MaxFairSteps = tj.Settings.MaxFairSchedulingSteps
	cfg.MaxUnfairSteps = tj.Settings.MaxUnfairSchedulingSteps
	cfg.DeadlockTimeout = time.Duration(tj.Settings.DeadlockTimeout) * time.Millisecond
	cfg.LivenessCheckingEnabled = tj.Settings.IsLivenessCheckingEnabled
	cfg.LivenessTemperatureThreshold = tj.Settings.LivenessTemperatureThreshold
	cfg.IsPartiallyControlledConcurrencyAllowed = tj.Settings.IsPartiallyControlledConcurrencyAllowed
	cfg.UncontrolledConcurrencyResolutionAttempts = int(tj.Settings.UncontrolledConcurrencyResolutionAttempts)
	cfg.UncontrolledConcurrencyResolutionDelay = time.Duration(tj.Settings.UncontrolledConcurrencyResolutionDelay) * time.Millisecond
	cfg.TestingIterations = 1
	return cfg
}

// ToHistory reconstructs a strategy.History by parsing each Steps[] entry
// back into a strategy.Decision, for driving strategy.Replay.
func (tj *TraceJSON) ToHistory() (strategy.History, error) {
	history := make(strategy.History, 0, len(tj.Steps))
	for i, line := range tj.Steps {
		d, err := parseStep(line)
		if err != nil {
			return nil, coyoteerr.Wrap(coyoteerr.CategoryReplay, "MALFORMED_STEP",
				fmt.Sprintf("step %d unparsable", i), err, map[string]interface{}{"line": line})
		}
		history = append(history, d)
	}
	return history, nil
}

func parseStep(line string) (strategy.Decision, error) {
	var curOp, curSeq uint64
	var d strategy.Decision

	if n, err := fmt.Sscanf(line, "op(%d:%d),bool(%t)", &curOp, &curSeq, &d.BoolValue); err == nil && n == 3 {
		d.CurrentOp, d.SequenceID, d.IsDataChoice = strategy.OpID(curOp), curSeq, true
		d.Kind = strategy.Kind(PointNondetBoolean.String())
		return d, nil
	}
	if n, err := fmt.Sscanf(line, "op(%d:%d),int(%d)", &curOp, &curSeq, &d.IntValue); err == nil && n == 3 {
		d.CurrentOp, d.SequenceID, d.IsDataChoice = strategy.OpID(curOp), curSeq, true
		d.Kind = strategy.Kind(PointNondetInteger.String())
		return d, nil
	}

	if n, err := fmt.Sscanf(line, "op(%d:%d),sp(", &curOp, &curSeq); err == nil && n == 2 {
		kind, nextOp, nextSeq, err := parseSchedulingPointTail(line)
		if err != nil {
			return d, err
		}
		d.CurrentOp, d.SequenceID = strategy.OpID(curOp), curSeq
		d.Kind = strategy.Kind(kind)
		d.NextOp, d.NextSeq = strategy.OpID(nextOp), nextSeq
		return d, nil
	}

	return d, fmt.Errorf("unrecognized step format: %q", line)
}

// parseSchedulingPointTail extracts the "<kind>),next(<op>:<seq>)" suffix of
// a scheduling-decision step. fmt.Sscanf's %s is unusable here: it greedily
// consumes every non-space rune, so it swallows "),next(2:0)" along with the
// kind token and leaves NextOp/NextSeq unscanned. Split on the surrounding
// literals instead.
func parseSchedulingPointTail(line string) (kind string, nextOp, nextSeq uint64, err error) {
	open := strings.Index(line, ",sp(")
	if open < 0 {
		return "", 0, 0, fmt.Errorf("unrecognized step format: %q", line)
	}
	rest := line[open+len(",sp("):]

	tailIdx := strings.Index(rest, "),next(")
	if tailIdx < 0 {
		return "", 0, 0, fmt.Errorf("unrecognized step format: %q", line)
	}
	kind = rest[:tailIdx]

	tail := rest[tailIdx+len("),next("):]
	tail = strings.TrimSuffix(tail, ")")
	if n, serr := fmt.Sscanf(tail, "%d:%d", &nextOp, &nextSeq); serr != nil || n != 2 {
		return "", 0, 0, fmt.Errorf("unrecognized step format: %q", line)
	}
	return kind, nextOp, nextSeq, nil
}

// parsePointKind reverses PointKind.String, for reconstructing an
// ExecutionTrace from its wire form (TraceFromJSON).
func parsePointKind(s string) PointKind {
	switch s {
	case "Create":
		return PointCreate
	case "Send":
		return PointSend
	case "ReceiveBlocking":
		return PointReceiveBlocking
	case "Yield":
		return PointYield
	case "ContinueWith":
		return PointContinueWith
	case "Completed":
		return PointCompleted
	case "InterleaveMemoryAccess":
		return PointInterleaveMemoryAccess
	case "InterleaveControlFlow":
		return PointInterleaveControlFlow
	case "ResourceAcquire":
		return PointResourceAcquire
	case "ResourceRelease":
		return PointResourceRelease
	case "NondetBoolean":
		return PointNondetBoolean
	case "NondetInteger":
		return PointNondetInteger
	default:
		return PointYield
	}
}

// TraceFromJSON reconstructs the subset of an ExecutionTrace needed for
// read-only inspection (DOT rendering, coverage summaries) directly from its
// parsed wire form, without re-running the originating test.
func TraceFromJSON(tj *TraceJSON) (*ExecutionTrace, error) {
	t := newExecutionTrace()

	for key, desc := range tj.Operations {
		var id uint64
		if n, err := fmt.Sscanf(key, "op(%d)", &id); err != nil || n != 1 {
			return nil, coyoteerr.New(coyoteerr.CategoryReplay, "MALFORMED_OPERATION_KEY",
				fmt.Sprintf("unrecognized operation key %q", key), nil)
		}
		t.Descriptions[OpID(id)] = desc
	}

	for i, line := range tj.Steps {
		d, err := parseStep(line)
		if err != nil {
			return nil, coyoteerr.Wrap(coyoteerr.CategoryReplay, "MALFORMED_STEP",
				fmt.Sprintf("step %d unparsable", i), err, map[string]interface{}{"line": line})
		}
		t.append(SchedulingDecision{
			CurrentOp:    OpID(d.CurrentOp),
			SequenceID:   d.SequenceID,
			Kind:         parsePointKind(string(d.Kind)),
			NextOp:       OpID(d.NextOp),
			NextSeq:      d.NextSeq,
			IsDataChoice: d.IsDataChoice,
			BoolValue:    d.BoolValue,
			IntValue:     d.IntValue,
		})
	}

	return t, nil
}
