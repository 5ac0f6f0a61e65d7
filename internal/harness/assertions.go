package harness

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/roach88/sadhana/internal/daykey"
	"github.com/roach88/sadhana/internal/journal"
	"github.com/roach88/sadhana/internal/store"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %v -> %s %v\n", event.Seq, event.Op, event.Args, event.Outcome, event.Result)
		}
	}
	return buf.String()
}

// AssertionContext gives final_state assertions access to the run.
type AssertionContext struct {
	Ctx     context.Context
	Harness *Harness
}

// EvaluateAssertions runs every assertion and returns the failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var failures []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, a)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, a)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, a)
		case AssertFinalState:
			if actx == nil || actx.Harness == nil {
				err = fmt.Errorf("final_state assertion requires a harness")
			} else {
				err = assertFinalState(actx.Ctx, actx.Harness, a)
			}
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			failures = append(failures, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return failures
}

// assertTraceContains checks that some step ran op with matching args
// (subset match) and, if given, the expected outcome.
func assertTraceContains(trace []TraceEvent, assertion Assertion) error {
	for _, event := range trace {
		if matchesStep(event, assertion) {
			return nil
		}
	}

	expected := fmt.Sprintf("op %s with args %v", assertion.Op, assertion.Args)
	if assertion.Outcome != "" {
		expected += " and outcome " + assertion.Outcome
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: expected,
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that ops first appear in the given order.
// Intervening steps are allowed.
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	positions := make(map[string]int)
	for _, event := range trace {
		if _, seen := positions[event.Op]; !seen {
			positions[event.Op] = int(event.Seq)
		}
	}

	for _, op := range assertion.Ops {
		if positions[op] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all ops present: %v", assertion.Ops),
				Actual:   fmt.Sprintf("missing op: %s", op),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(assertion.Ops); i++ {
		prev, curr := assertion.Ops[i-1], assertion.Ops[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("ops in order: %v", assertion.Ops),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

// assertTraceCount checks that op ran exactly Count times, optionally
// counting only steps with the given outcome.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if matchesStep(event, assertion) {
			count++
		}
	}

	want := 0
	if assertion.Count != nil {
		want = *assertion.Count
	}
	if count != want {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", want, assertion.Op),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

func matchesStep(event TraceEvent, a Assertion) bool {
	if event.Op != a.Op {
		return false
	}
	if a.Outcome != "" && event.Outcome != a.Outcome {
		return false
	}
	return matchArgs(event.Args, a.Args)
}

// assertFinalState inspects the store and the fake tracker after the flow.
func assertFinalState(ctx context.Context, h *Harness, a Assertion) error {
	switch a.Target {
	case TargetPoints:
		view, err := h.tracker.Today(ctx)
		if err != nil {
			return fmt.Errorf("read points: %w", err)
		}
		return compareInt(a, "points", view.Points)

	case TargetMarks:
		day := daykey.Today(h.clock)
		if a.Where.Day != "" {
			day = a.Where.Day
		}
		marks, err := store.NewMarks(h.store, h.clock).Day(ctx, day)
		if err != nil {
			return fmt.Errorf("read marks: %w", err)
		}
		return compareInt(a, fmt.Sprintf("marks for %s on %s", a.Where.Item, day), marks[a.Where.Item])
	}

	log, err := h.logFor(ctx, a.Target)
	if err != nil {
		return err
	}

	if a.Events != nil {
		want := toLog(a.Events)
		if !reflect.DeepEqual(nonNil(log), want) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("%s log %v", a.Target, want),
				Actual:   fmt.Sprintf("%s log %v", a.Target, log),
			}
		}
	}
	if a.Count != nil {
		return compareInt(a, a.Target+" "+describeWhere(a.Where), countWhere(log, a.Where))
	}
	return nil
}

func (h *Harness) logFor(ctx context.Context, target string) (journal.Log, error) {
	switch target {
	case TargetLocal:
		return h.engine.Local(ctx)
	case TargetExtras:
		return h.engine.Extras(ctx)
	case TargetRemote:
		if h.fake == nil {
			return nil, fmt.Errorf("final_state remote requires authenticated mode")
		}
		return h.fake.Records(), nil
	case TargetView:
		if h.fake == nil {
			return h.engine.Local(ctx)
		}
		extras, err := h.engine.Extras(ctx)
		if err != nil {
			return nil, err
		}
		return journal.Merge(h.fake.Records(), extras), nil
	default:
		return nil, fmt.Errorf("unknown final_state target %q", target)
	}
}

func compareInt(a Assertion, what string, got int) error {
	if got == *a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertFinalState,
		Expected: fmt.Sprintf("%s = %d", what, *a.Count),
		Actual:   fmt.Sprintf("%s = %d", what, got),
	}
}

// countWhere counts events matching where; empty fields match anything.
func countWhere(log journal.Log, where *EventSpec) int {
	if where == nil {
		return len(log)
	}
	n := 0
	for _, ev := range log {
		if where.Day != "" && ev.DayKey != where.Day {
			continue
		}
		if where.Item != "" && ev.ItemID != where.Item {
			continue
		}
		n++
	}
	return n
}

func describeWhere(where *EventSpec) string {
	if where == nil {
		return "size"
	}
	var parts []string
	if where.Day != "" {
		parts = append(parts, "day="+where.Day)
	}
	if where.Item != "" {
		parts = append(parts, "item="+where.Item)
	}
	return "count where " + strings.Join(parts, " AND ")
}

func nonNil(l journal.Log) journal.Log {
	if l == nil {
		return journal.Log{}
	}
	return l
}

// matchArgs checks if actual args contain all expected args (subset match).
// Extra keys in actual are ignored.
func matchArgs(actual, expected map[string]any) bool {
	for key, want := range expected {
		got, ok := actual[key]
		if !ok || !valuesEqual(want, got) {
			return false
		}
	}
	return true
}

// valuesEqual compares YAML-decoded expectations with step results,
// treating every integer type alike.
func valuesEqual(expected, actual any) bool {
	if ei, ok := asInt(expected); ok {
		ai, ok := asInt(actual)
		return ok && ei == ai
	}
	return reflect.DeepEqual(expected, actual)
}

func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case uint64:
		return int64(n), true
	case float64:
		if n == float64(int64(n)) {
			return int64(n), true
		}
	}
	return 0, false
}
