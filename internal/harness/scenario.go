package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/roach88/sadhana/internal/journal"
)

// Scenario modes.
const (
	ModeGuest         = "guest"
	ModeAuthenticated = "authenticated"
)

// Flow operations.
const (
	OpMarkDone        = "mark_done"
	OpDelete          = "delete"
	OpAdd             = "add"
	OpRemove          = "remove"
	OpLoad            = "load"
	OpLoadPage        = "load_page"
	OpAdvanceDay      = "advance_day"
	OpRollover        = "rollover"
	OpRecomputePoints = "recompute_points"
	OpFault           = "fault"
)

var knownOps = map[string]bool{
	OpMarkDone: true, OpDelete: true, OpAdd: true, OpRemove: true,
	OpLoad: true, OpLoadPage: true, OpAdvanceDay: true, OpRollover: true,
	OpRecomputePoints: true, OpFault: true,
}

// Scenario defines an engine behavior test.
// A scenario seeds local and remote state, executes a flow of operations
// against a real engine and tracker, and asserts on the resulting trace and
// final state.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Mode is "guest" or "authenticated".
	Mode string `yaml:"mode"`

	// Today is the fixed calendar day the scenario starts on (YYYY-MM-DD).
	Today string `yaml:"today"`

	// Catalog overrides the default items (yoga 10, med 25, japa 5).
	Catalog []CatalogItem `yaml:"catalog,omitempty"`

	// Seed is the state present before the flow runs.
	Seed Seed `yaml:"seed,omitempty"`

	// Flow contains the operations to execute, with optional expectations.
	Flow []FlowStep `yaml:"flow"`

	// Assertions validate the final trace and state.
	// Supported types: trace_contains, trace_order, trace_count, final_state
	Assertions []Assertion `yaml:"assertions"`
}

// CatalogItem is one catalog entry in a scenario.
type CatalogItem struct {
	ID     string `yaml:"id"`
	Name   string `yaml:"name,omitempty"`
	Points int    `yaml:"points"`
}

// EventSpec is a completion written as {day, item}.
type EventSpec struct {
	Day  string `yaml:"day"`
	Item string `yaml:"item"`
}

// Event converts the entry to a journal event.
func (e EventSpec) Event() journal.Event {
	return journal.Event{DayKey: e.Day, ItemID: e.Item}
}

// Seed is the pre-flow state.
type Seed struct {
	// Local is the local log (guest log, or the cached merged log).
	Local []EventSpec `yaml:"local,omitempty"`

	// Extras is the extras overlay.
	Extras []EventSpec `yaml:"extras,omitempty"`

	// Remote is what the fake tracker holds. Authenticated mode only.
	Remote []EventSpec `yaml:"remote,omitempty"`

	// Points is the starting ledger total.
	Points int `yaml:"points,omitempty"`
}

// FlowStep is one operation in the main flow.
type FlowStep struct {
	// Op is the operation name (mark_done, delete, add, remove, load,
	// load_page, advance_day, rollover, recompute_points, fault).
	Op string `yaml:"op"`

	// Args holds the operation arguments.
	Args map[string]any `yaml:"args,omitempty"`

	// Expect optionally checks the step's outcome.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause specifies the expected outcome of a flow step.
type ExpectClause struct {
	// Case is "ok" or "error".
	Case string `yaml:"case"`

	// Result fields must match the step result (subset match).
	Result map[string]any `yaml:"result,omitempty"`
}

// Assertion validates the trace or the final state.
type Assertion struct {
	// Type is one of: trace_contains, trace_order, trace_count, final_state
	Type string `yaml:"type"`

	// Op is the operation for trace_contains and trace_count.
	Op string `yaml:"op,omitempty"`

	// Args is matched as a subset for trace_contains.
	Args map[string]any `yaml:"args,omitempty"`

	// Outcome optionally narrows trace_contains and trace_count.
	Outcome string `yaml:"outcome,omitempty"`

	// Ops is the expected order for trace_order.
	Ops []string `yaml:"ops,omitempty"`

	// Target is the state inspected by final_state: local, extras,
	// remote, view, points or marks.
	Target string `yaml:"target,omitempty"`

	// Where filters log targets by day and item, and marks by item.
	Where *EventSpec `yaml:"where,omitempty"`

	// Count is the expected occurrence count or value.
	Count *int `yaml:"count,omitempty"`

	// Events, when set, is the exact expected log for a log target.
	Events []EventSpec `yaml:"events,omitempty"`
}

// Assertion types.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
)

// final_state targets.
const (
	TargetLocal  = "local"
	TargetExtras = "extras"
	TargetRemote = "remote"
	TargetView   = "view"
	TargetPoints = "points"
	TargetMarks  = "marks"
)

// LoadScenario reads and parses a scenario YAML file.
// Unknown fields are rejected to catch typos.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates a scenario document.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// LoadScenarios loads every *.yaml scenario in dir, sorted by file name.
func LoadScenarios(dir string) ([]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("list scenarios: %w", err)
	}
	sort.Strings(paths)

	out := make([]*Scenario, 0, len(paths))
	for _, p := range paths {
		s, err := LoadScenario(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
		out = append(out, s)
	}
	return out, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Mode != ModeGuest && s.Mode != ModeAuthenticated {
		return fmt.Errorf("mode must be %q or %q, got %q", ModeGuest, ModeAuthenticated, s.Mode)
	}
	if s.Today == "" {
		return fmt.Errorf("today is required")
	}
	if err := (journal.Event{DayKey: s.Today, ItemID: "-"}).Validate(); err != nil {
		return fmt.Errorf("today: %w", err)
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	if s.Mode == ModeGuest && len(s.Seed.Remote) > 0 {
		return fmt.Errorf("seed.remote requires authenticated mode")
	}
	for name, events := range map[string][]EventSpec{
		"seed.local": s.Seed.Local, "seed.extras": s.Seed.Extras, "seed.remote": s.Seed.Remote,
	} {
		for i, e := range events {
			if err := e.Event().Validate(); err != nil {
				return fmt.Errorf("%s[%d]: %w", name, i, err)
			}
		}
	}
	for i, it := range s.Catalog {
		if it.ID == "" {
			return fmt.Errorf("catalog[%d]: id is required", i)
		}
	}

	for i, step := range s.Flow {
		if step.Op == "" {
			return fmt.Errorf("flow[%d]: op is required", i)
		}
		if !knownOps[step.Op] {
			return fmt.Errorf("flow[%d]: unknown op %q", i, step.Op)
		}
		if step.Expect != nil && step.Expect.Case != OutcomeOK && step.Expect.Case != OutcomeError {
			return fmt.Errorf("flow[%d].expect: case must be %q or %q", i, OutcomeOK, OutcomeError)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Ops) == 0 {
			return fmt.Errorf("assertions[%d]: ops list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for trace_count", index)
		}
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be set and non-negative for trace_count", index)
		}
	case AssertFinalState:
		switch a.Target {
		case TargetLocal, TargetExtras, TargetRemote, TargetView:
			if a.Count == nil && a.Events == nil {
				return fmt.Errorf("assertions[%d]: count or events is required for final_state %s", index, a.Target)
			}
		case TargetPoints, TargetMarks:
			if a.Count == nil {
				return fmt.Errorf("assertions[%d]: count is required for final_state %s", index, a.Target)
			}
			if a.Target == TargetMarks && (a.Where == nil || a.Where.Item == "") {
				return fmt.Errorf("assertions[%d]: where.item is required for final_state marks", index)
			}
		case "":
			return fmt.Errorf("assertions[%d]: target is required for final_state", index)
		default:
			return fmt.Errorf("assertions[%d]: unknown final_state target %q", index, a.Target)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
