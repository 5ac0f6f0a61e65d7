package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalScenario = `
name: minimal
description: "one completion"
mode: guest
today: "2024-02-05"
flow:
  - op: mark_done
    args:
      item: yoga
assertions:
  - type: trace_contains
    op: mark_done
`

func TestLoadScenario_ValidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalScenario), 0644))

	scenario, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "minimal", scenario.Name)
	assert.Equal(t, ModeGuest, scenario.Mode)
	assert.Equal(t, "2024-02-05", scenario.Today)
	require.Len(t, scenario.Flow, 1)
	assert.Equal(t, OpMarkDone, scenario.Flow[0].Op)
	assert.Equal(t, "yoga", scenario.Flow[0].Args["item"])
	assert.Len(t, scenario.Assertions, 1)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestParseScenario_UnknownFieldRejected(t *testing.T) {
	_, err := ParseScenario([]byte(minimalScenario + "flow_token: x\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestParseScenario_Seed(t *testing.T) {
	doc := `
name: seeded
description: seeded state
mode: authenticated
today: "2024-02-05"
seed:
  points: 12
  remote:
    - {day: "2024-02-04", item: med}
  extras:
    - {day: "2024-02-04", item: med}
flow:
  - op: load
assertions:
  - type: final_state
    target: view
    count: 2
`
	s, err := ParseScenario([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, 12, s.Seed.Points)
	require.Len(t, s.Seed.Remote, 1)
	assert.Equal(t, "med", s.Seed.Remote[0].Event().ItemID)
	assert.Equal(t, "2024-02-04", s.Seed.Extras[0].Event().DayKey)
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{
			name: "missing name",
			doc:  "description: d\nmode: guest\ntoday: \"2024-02-05\"\nflow: [{op: load}]\nassertions: [{type: trace_contains, op: load}]\n",
			want: "name is required",
		},
		{
			name: "bad mode",
			doc:  "name: n\ndescription: d\nmode: offline\ntoday: \"2024-02-05\"\nflow: [{op: load}]\nassertions: [{type: trace_contains, op: load}]\n",
			want: "mode must be",
		},
		{
			name: "bad today",
			doc:  "name: n\ndescription: d\nmode: guest\ntoday: \"Feb 5\"\nflow: [{op: load}]\nassertions: [{type: trace_contains, op: load}]\n",
			want: "today",
		},
		{
			name: "empty flow",
			doc:  "name: n\ndescription: d\nmode: guest\ntoday: \"2024-02-05\"\nflow: []\nassertions: [{type: trace_contains, op: load}]\n",
			want: "flow list is required",
		},
		{
			name: "unknown op",
			doc:  "name: n\ndescription: d\nmode: guest\ntoday: \"2024-02-05\"\nflow: [{op: teleport}]\nassertions: [{type: trace_contains, op: load}]\n",
			want: "unknown op",
		},
		{
			name: "remote seed in guest mode",
			doc:  "name: n\ndescription: d\nmode: guest\ntoday: \"2024-02-05\"\nseed: {remote: [{day: \"2024-02-05\", item: yoga}]}\nflow: [{op: load}]\nassertions: [{type: trace_contains, op: load}]\n",
			want: "seed.remote requires authenticated mode",
		},
		{
			name: "bad seed event",
			doc:  "name: n\ndescription: d\nmode: guest\ntoday: \"2024-02-05\"\nseed: {local: [{day: yesterday, item: yoga}]}\nflow: [{op: load}]\nassertions: [{type: trace_contains, op: load}]\n",
			want: "seed.local[0]",
		},
		{
			name: "bad expect case",
			doc:  "name: n\ndescription: d\nmode: guest\ntoday: \"2024-02-05\"\nflow: [{op: load, expect: {case: Success}}]\nassertions: [{type: trace_contains, op: load}]\n",
			want: "case must be",
		},
		{
			name: "no assertions",
			doc:  "name: n\ndescription: d\nmode: guest\ntoday: \"2024-02-05\"\nflow: [{op: load}]\nassertions: []\n",
			want: "assertions list is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateAssertion(t *testing.T) {
	two := 2
	neg := -1
	tests := []struct {
		name string
		a    Assertion
		want string
	}{
		{"missing type", Assertion{}, "type is required"},
		{"contains without op", Assertion{Type: AssertTraceContains}, "op is required"},
		{"order without ops", Assertion{Type: AssertTraceOrder}, "ops list is required"},
		{"count without count", Assertion{Type: AssertTraceCount, Op: "load"}, "count must be set"},
		{"negative count", Assertion{Type: AssertTraceCount, Op: "load", Count: &neg}, "count must be set"},
		{"state without target", Assertion{Type: AssertFinalState}, "target is required"},
		{"state unknown target", Assertion{Type: AssertFinalState, Target: "cloud", Count: &two}, "unknown final_state target"},
		{"log target without count", Assertion{Type: AssertFinalState, Target: TargetLocal}, "count or events"},
		{"marks without item", Assertion{Type: AssertFinalState, Target: TargetMarks, Count: &two}, "where.item"},
		{"unknown type", Assertion{Type: "trace_magic"}, "unknown assertion type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateAssertion(0, &tt.a)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	ok := Assertion{Type: AssertFinalState, Target: TargetMarks, Where: &EventSpec{Item: "yoga"}, Count: &two}
	assert.NoError(t, validateAssertion(0, &ok))
}

func TestLoadScenarios_Testdata(t *testing.T) {
	scenarios, err := LoadScenarios("testdata/scenarios")
	require.NoError(t, err)
	require.NotEmpty(t, scenarios)

	names := make(map[string]bool)
	for _, s := range scenarios {
		assert.False(t, names[s.Name], "duplicate scenario name %s", s.Name)
		names[s.Name] = true
	}
	assert.True(t, names["guest_double_completion"])
	assert.True(t, names["delete_consumes_extras_first"])
}
