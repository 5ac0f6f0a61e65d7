package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sadhana/internal/journal"
)

func sampleTrace() []TraceEvent {
	return []TraceEvent{
		{Seq: 1, Op: OpMarkDone, Args: map[string]any{"item": "yoga"}, Outcome: OutcomeOK, Result: map[string]any{"points": 10}},
		{Seq: 2, Op: OpLoad, Outcome: OutcomeOK, Result: map[string]any{"fresh": true, "log": 1}},
		{Seq: 3, Op: OpMarkDone, Args: map[string]any{"item": "yoga"}, Outcome: OutcomeError, Result: map[string]any{"code": "CAP_REACHED"}},
	}
}

func TestAssertTraceContains_Found(t *testing.T) {
	err := assertTraceContains(sampleTrace(), Assertion{
		Type: AssertTraceContains,
		Op:   OpMarkDone,
		Args: map[string]any{"item": "yoga"},
	})
	assert.NoError(t, err)
}

func TestAssertTraceContains_OutcomeNarrows(t *testing.T) {
	err := assertTraceContains(sampleTrace(), Assertion{Type: AssertTraceContains, Op: OpLoad, Outcome: OutcomeError})
	require.Error(t, err)

	var aerr *AssertionError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, AssertTraceContains, aerr.Type)
	assert.Contains(t, err.Error(), "not found in trace")
	assert.Contains(t, err.Error(), "[2] load")
}

func TestAssertTraceContains_ArgsMismatch(t *testing.T) {
	err := assertTraceContains(sampleTrace(), Assertion{
		Type: AssertTraceContains,
		Op:   OpMarkDone,
		Args: map[string]any{"item": "med"},
	})
	require.Error(t, err)
}

func TestAssertTraceOrder(t *testing.T) {
	assert.NoError(t, assertTraceOrder(sampleTrace(), Assertion{Ops: []string{OpMarkDone, OpLoad}}))

	err := assertTraceOrder(sampleTrace(), Assertion{Ops: []string{OpLoad, OpMarkDone}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load (pos 2) should be before mark_done (pos 1)")

	err = assertTraceOrder(sampleTrace(), Assertion{Ops: []string{OpMarkDone, OpRollover}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing op: rollover")
}

func TestAssertTraceCount(t *testing.T) {
	assert.NoError(t, assertTraceCount(sampleTrace(), Assertion{Op: OpMarkDone, Count: intp(2)}))
	assert.NoError(t, assertTraceCount(sampleTrace(), Assertion{Op: OpMarkDone, Outcome: OutcomeError, Count: intp(1)}))
	assert.NoError(t, assertTraceCount(sampleTrace(), Assertion{Op: OpDelete, Count: intp(0)}))

	err := assertTraceCount(sampleTrace(), Assertion{Op: OpLoad, Count: intp(2)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 occurrences")
}

func TestEvaluateAssertions_CollectsFailures(t *testing.T) {
	result := NewResult()
	result.Trace = sampleTrace()

	failures := EvaluateAssertions(result, []Assertion{
		{Type: AssertTraceContains, Op: OpLoad},
		{Type: AssertTraceCount, Op: OpLoad, Count: intp(5)},
		{Type: AssertFinalState, Target: TargetPoints, Count: intp(1)},
	}, nil)

	require.Len(t, failures, 2)
	assert.Contains(t, failures[0], "assertions[1]")
	assert.Contains(t, failures[1], "final_state assertion requires a harness")
}

func TestCountWhere(t *testing.T) {
	log := journal.Log{
		{DayKey: "2024-02-05", ItemID: "yoga"},
		{DayKey: "2024-02-05", ItemID: "yoga"},
		{DayKey: "2024-02-05", ItemID: "med"},
		{DayKey: "2024-02-04", ItemID: "yoga"},
	}
	assert.Equal(t, 4, countWhere(log, nil))
	assert.Equal(t, 3, countWhere(log, &EventSpec{Day: "2024-02-05"}))
	assert.Equal(t, 3, countWhere(log, &EventSpec{Item: "yoga"}))
	assert.Equal(t, 2, countWhere(log, &EventSpec{Day: "2024-02-05", Item: "yoga"}))
	assert.Equal(t, 0, countWhere(log, &EventSpec{Day: "2024-02-03"}))
}

func TestValuesEqual(t *testing.T) {
	assert.True(t, valuesEqual(2, int64(2)))
	assert.True(t, valuesEqual(float64(3), 3))
	assert.False(t, valuesEqual(2, "2"))
	assert.True(t, valuesEqual(true, true))
	assert.False(t, valuesEqual(true, false))
	assert.True(t, valuesEqual("CAP_REACHED", "CAP_REACHED"))
}

func TestMatchArgs(t *testing.T) {
	actual := map[string]any{"day": "2024-02-05", "item": "yoga"}
	assert.True(t, matchArgs(actual, nil))
	assert.True(t, matchArgs(actual, map[string]any{"item": "yoga"}))
	assert.False(t, matchArgs(actual, map[string]any{"item": "med"}))
	assert.False(t, matchArgs(nil, map[string]any{"item": "yoga"}))
}
