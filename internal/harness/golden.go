package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/concord/internal/ir"
)

// Snapshot captures what a scenario run produced.
// It serializes through canonical JSON so runs compare byte for byte.
type Snapshot struct {
	ScenarioName string
	Trace        []TraceEvent
	Final        map[string]ir.Object
	Violations   []ViolationEvent
}

// NewSnapshot builds a snapshot from a run result.
func NewSnapshot(name string, result *Result) Snapshot {
	return Snapshot{
		ScenarioName: name,
		Trace:        result.Trace,
		Final:        result.Final,
		Violations:   result.Violations,
	}
}

// toCanonicalMap converts a Snapshot to a map[string]any for canonical JSON serialization.
// This is required because ir.MarshalCanonical only handles IR types and primitives.
func (s Snapshot) toCanonicalMap() map[string]any {
	trace := make([]any, len(s.Trace))
	for i, e := range s.Trace {
		m := map[string]any{
			"step": e.Step,
			"kind": e.Kind,
		}
		for k, v := range map[string]string{
			"replica": e.Replica,
			"field":   e.Field,
			"intent":  e.Intent,
			"outcome": e.Outcome,
			"stamp":   e.Stamp,
			"from":    e.From,
			"to":      e.To,
		} {
			if v != "" {
				m[k] = v
			}
		}
		if e.Changed != 0 {
			m["changed"] = e.Changed
		}
		if e.ConfirmedTotal != 0 {
			m["confirmed_total"] = e.ConfirmedTotal
		}
		trace[i] = m
	}

	final := make(map[string]any, len(s.Final))
	for name, values := range s.Final {
		final[name] = values
	}

	out := map[string]any{
		"scenario": s.ScenarioName,
		"trace":    trace,
		"final":    final,
	}
	if len(s.Violations) > 0 {
		vs := make([]any, len(s.Violations))
		for i, v := range s.Violations {
			vs[i] = map[string]any{
				"replica":     v.Replica,
				"constraint":  v.Constraint,
				"field":       v.Field,
				"description": v.Description,
			}
		}
		out["violations"] = vs
	}
	return out
}

// MarshalCanonical encodes the snapshot as canonical JSON.
func (s Snapshot) MarshalCanonical() ([]byte, error) {
	return ir.MarshalCanonical(s.toCanonicalMap())
}

// RunWithGolden executes a scenario and compares its snapshot against a
// golden file in testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if the snapshot doesn't match.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result against its golden file
// without re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := NewSnapshot(scenarioName, result).MarshalCanonical()
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}
