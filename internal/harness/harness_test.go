package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/concord/internal/compiler"
	"github.com/roach88/concord/internal/crdt"
	"github.com/roach88/concord/internal/ir"
)

func counterScenario(steps []Step, assertions ...Assertion) *Scenario {
	return &Scenario{
		Name:        "counter",
		Description: "counter",
		Fields: []compiler.FieldSpec{
			{Name: "hits", Type: "i64", Strategy: crdt.PNCounter},
		},
		Replicas:   []string{"A", "B"},
		Steps:      steps,
		Assertions: assertions,
	}
}

func TestRun_Scenarios(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("testdata", "scenarios", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			s, err := LoadScenario(path)
			require.NoError(t, err)

			result, err := RunWithGolden(t, s)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestRun_Deterministic(t *testing.T) {
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", "or_set_add_wins.yaml"))
	require.NoError(t, err)

	first, err := Run(s)
	require.NoError(t, err)
	second, err := Run(s)
	require.NoError(t, err)

	a, err := NewSnapshot(s.Name, first).MarshalCanonical()
	require.NoError(t, err)
	b, err := NewSnapshot(s.Name, second).MarshalCanonical()
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestRun_FinalValues(t *testing.T) {
	result, err := Run(counterScenario(
		[]Step{
			{Replica: "A", Field: "hits", Op: "increment", Amount: 4},
			{Sync: &SyncStep{From: "A", To: "B"}},
		},
		Assertion{Type: AssertConverged},
	))
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, ir.Object{"hits": ir.Int(4)}, result.Final["A"])
	assert.Equal(t, ir.Object{"hits": ir.Int(4)}, result.Final["B"])
}

func TestRun_StepExpectationFails(t *testing.T) {
	result, err := Run(counterScenario(
		[]Step{{Replica: "A", Field: "hits", Op: "increment", Amount: 1, Expect: "ESCROW_EXCEEDED"}},
		Assertion{Type: AssertConverged},
	))
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "expected ESCROW_EXCEEDED, got emitted")
	assert.Contains(t, result.Errors[1], "converged")
}

func TestRun_RejectionIsRecorded(t *testing.T) {
	result, err := Run(counterScenario(
		[]Step{{Replica: "A", Field: "hits", Op: "add", Value: "x", Expect: "TYPE_MISMATCH"}},
		Assertion{Type: AssertLogCount, Replica: "A", Count: 0},
	))
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	require.Len(t, result.Trace, 1)
	assert.Equal(t, "rejected:TYPE_MISMATCH", result.Trace[0].Outcome)
	assert.Empty(t, result.Trace[0].Stamp)
}

func TestRun_ValueAssertionFails(t *testing.T) {
	result, err := Run(counterScenario(
		[]Step{{Replica: "A", Field: "hits", Op: "increment", Amount: 3}},
		Assertion{Type: AssertValue, Replica: "B", Field: "hits", Expect: 3},
	))
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "Expected: B.hits = 3")
	assert.Contains(t, result.Errors[0], "Actual: 0")
	assert.Contains(t, result.Errors[0], "A increment hits -> emitted @1@A")
}

func TestRun_Violations(t *testing.T) {
	s := &Scenario{
		Name:        "tags",
		Description: "tags",
		Fields: []compiler.FieldSpec{
			{Name: "tags", Type: "Set<string>", Strategy: crdt.ORSet},
		},
		Constraints: []compiler.ConstraintSpec{
			{Name: "few_tags", Category: "eventual", Kind: "max_elements", Fields: []string{"tags"}, Limit: 1},
		},
		Replicas: []string{"A", "B"},
		Steps: []Step{
			{Replica: "A", Field: "tags", Op: "add", Value: "x"},
			{Replica: "B", Field: "tags", Op: "add", Value: "y"},
			{Sync: &SyncStep{From: "A", To: "B"}},
		},
		Assertions: []Assertion{
			{Type: AssertViolations, Replica: "B", Constraint: "few_tags", Count: 1},
			{Type: AssertViolations, Replica: "A", Count: 0},
		},
	}

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	require.Len(t, result.Violations, 1)
	assert.Equal(t, "B", result.Violations[0].Replica)
	assert.Equal(t, "tags", result.Violations[0].Field)
}

func TestRun_Reconcile(t *testing.T) {
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", "escrow_split.yaml"))
	require.NoError(t, err)
	s.Steps = append(s.Steps, Step{Reconcile: "A"})
	s.Assertions = []Assertion{{Type: AssertConverged}}

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)

	last := result.Trace[len(result.Trace)-1]
	assert.Equal(t, KindReconcile, last.Kind)
	assert.Equal(t, "A", last.Replica)
	assert.Positive(t, last.ConfirmedTotal)
}

func TestRun_UnknownDocumentInSchema(t *testing.T) {
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", "escrow_split.yaml"))
	require.NoError(t, err)
	s.Document = "Ledger"

	_, err = Run(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `no document "Ledger"`)
}

func TestBuildIntent(t *testing.T) {
	tests := []struct {
		step Step
		want crdt.Intent
	}{
		{Step{Op: "set", Value: "v"}, crdt.Set{Value: ir.String("v")}},
		{Step{Op: "add", Value: 1}, crdt.Add{Value: ir.Int(1)}},
		{Step{Op: "remove", Value: true}, crdt.Remove{Value: ir.Bool(true)}},
		{Step{Op: "increment", Amount: 2}, crdt.Increment{Amount: 2}},
		{Step{Op: "decrement", Amount: 3}, crdt.Decrement{Amount: 3}},
		{Step{Op: "insert", Index: 1, Value: "c"}, crdt.InsertAt{Index: 1, Value: ir.String("c")}},
		{Step{Op: "delete", Index: 4}, crdt.DeleteAt{Index: 4}},
		{
			Step{Op: "format", Index: 0, End: 3, Mark: "bold", Value: true, Expand: "after"},
			crdt.Format{Start: 0, End: 3, Mark: "bold", Value: ir.Bool(true), Expand: crdt.Expand("after")},
		},
	}
	for _, tt := range tests {
		t.Run(tt.step.Op, func(t *testing.T) {
			got, err := BuildIntent(tt.step)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := BuildIntent(Step{Op: "set", Value: 1.5})
	require.Error(t, err)
}
