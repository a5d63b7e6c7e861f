package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/roach88/concord/internal/compiler"
)

// Scenario defines a replication scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Schema is a path to a CUE schema file, relative to the scenario file.
	// Mutually exclusive with Fields.
	Schema string `yaml:"schema,omitempty"`

	// Document names the schema document to bind. Required with Schema.
	Document string `yaml:"document,omitempty"`

	// Fields declares the document inline.
	Fields []compiler.FieldSpec `yaml:"fields,omitempty"`

	// Constraints declares constraints inline, alongside Fields.
	Constraints []compiler.ConstraintSpec `yaml:"constraints,omitempty"`

	// Replicas lists the actor ids taking part, at least one.
	Replicas []string `yaml:"replicas"`

	// Escrow attaches a ledger to every replica's copy of the document.
	Escrow *EscrowSpec `yaml:"escrow,omitempty"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final state.
	Assertions []Assertion `yaml:"assertions"`
}

// EscrowSpec is the initial escrow split.
type EscrowSpec struct {
	Total  int64    `yaml:"total"`
	Actors []string `yaml:"actors"`
}

// Step is one scenario step. Exactly one of Op, Sync or Reconcile is set.
type Step struct {
	// Replica performs an op step.
	Replica string `yaml:"replica,omitempty"`
	Field   string `yaml:"field,omitempty"`
	Op      string `yaml:"op,omitempty"`

	// Operation arguments; which apply depends on Op.
	Value  any    `yaml:"value,omitempty"`
	Index  int    `yaml:"index,omitempty"`
	End    int    `yaml:"end,omitempty"`
	Amount int64  `yaml:"amount,omitempty"`
	Mark   string `yaml:"mark,omitempty"`
	Expand string `yaml:"expand,omitempty"`

	// At pins the Lamport time of the op's stamp.
	At int64 `yaml:"at,omitempty"`

	// Expect is the expected outcome: emitted, noop, or a rejection reason.
	Expect string `yaml:"expect,omitempty"`

	// Sync delivers emitted operations between replicas.
	Sync *SyncStep `yaml:"sync,omitempty"`

	// Reconcile names a replica that runs an escrow reconciliation round.
	Reconcile string `yaml:"reconcile,omitempty"`
}

// SyncStep delivers operations from one replica to another. Both empty
// means every replica to every other.
type SyncStep struct {
	From string `yaml:"from,omitempty"`
	To   string `yaml:"to,omitempty"`
}

// Assertion validates the final state.
type Assertion struct {
	Type       string `yaml:"type"`
	Replica    string `yaml:"replica,omitempty"`
	Field      string `yaml:"field,omitempty"`
	Actor      string `yaml:"actor,omitempty"`
	Constraint string `yaml:"constraint,omitempty"`
	Expect     any    `yaml:"expect,omitempty"`
	Count      int    `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertValue      = "value"
	AssertConverged  = "converged"
	AssertAvailable  = "available"
	AssertViolations = "violations"
	AssertLogCount   = "log_count"
)

// Op names accepted in steps.
var opNames = []string{"set", "add", "remove", "increment", "decrement", "insert", "delete", "format"}

// LoadScenario reads and parses a scenario YAML file. The schema path is
// resolved relative to the file's directory.
// Returns an error if the file doesn't exist, is malformed, contains
// unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file,
// resolving the schema path relative to basePath.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data, basePath)
}

// ParseScenario parses scenario YAML. Unknown fields are rejected.
func ParseScenario(data []byte, basePath string) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Schema != "" && !filepath.IsAbs(scenario.Schema) && basePath != "" {
		scenario.Schema = filepath.Join(basePath, scenario.Schema)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
// Schema-level problems are left to the compiler at run time.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	switch {
	case s.Schema != "" && len(s.Fields) > 0:
		return fmt.Errorf("schema and fields are mutually exclusive")
	case s.Schema != "":
		if s.Document == "" {
			return fmt.Errorf("document is required with schema")
		}
		if len(s.Constraints) > 0 {
			return fmt.Errorf("constraints belong in the schema file")
		}
		if _, err := os.Stat(s.Schema); err != nil {
			return fmt.Errorf("schema file not found: %s", s.Schema)
		}
	case len(s.Fields) == 0:
		return fmt.Errorf("either schema or fields is required")
	}

	if len(s.Replicas) == 0 {
		return fmt.Errorf("replicas list is required and must be non-empty")
	}
	seen := map[string]bool{}
	for _, r := range s.Replicas {
		if r == "" || seen[r] {
			return fmt.Errorf("replica %q is empty or duplicated", r)
		}
		seen[r] = true
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	for i, step := range s.Steps {
		if err := validateStep(i, step, seen); err != nil {
			return err
		}
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, a, seen); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(i int, step Step, replicas map[string]bool) error {
	kinds := 0
	if step.Op != "" {
		kinds++
	}
	if step.Sync != nil {
		kinds++
	}
	if step.Reconcile != "" {
		kinds++
	}
	if kinds != 1 {
		return fmt.Errorf("steps[%d]: exactly one of op, sync or reconcile is required", i)
	}

	switch {
	case step.Op != "":
		if !replicas[step.Replica] {
			return fmt.Errorf("steps[%d]: unknown replica %q", i, step.Replica)
		}
		if step.Field == "" {
			return fmt.Errorf("steps[%d]: field is required", i)
		}
		if !slices.Contains(opNames, step.Op) {
			return fmt.Errorf("steps[%d]: unknown op %q", i, step.Op)
		}
		if step.At < 0 {
			return fmt.Errorf("steps[%d]: at must be non-negative", i)
		}
	case step.Sync != nil:
		if (step.Sync.From == "") != (step.Sync.To == "") {
			return fmt.Errorf("steps[%d]: sync needs both from and to, or neither", i)
		}
		for _, r := range []string{step.Sync.From, step.Sync.To} {
			if r != "" && !replicas[r] {
				return fmt.Errorf("steps[%d]: unknown replica %q", i, r)
			}
		}
	default:
		if !replicas[step.Reconcile] {
			return fmt.Errorf("steps[%d]: unknown replica %q", i, step.Reconcile)
		}
	}
	return nil
}

func validateAssertion(i int, a Assertion, replicas map[string]bool) error {
	needReplica := func() error {
		if !replicas[a.Replica] {
			return fmt.Errorf("assertions[%d]: unknown replica %q", i, a.Replica)
		}
		return nil
	}

	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", i)
	case AssertValue:
		if a.Field == "" {
			return fmt.Errorf("assertions[%d]: field is required for value", i)
		}
		return needReplica()
	case AssertConverged:
		return nil
	case AssertAvailable:
		if _, ok := a.Expect.(int); !ok {
			return fmt.Errorf("assertions[%d]: integer expect is required for available", i)
		}
		return needReplica()
	case AssertViolations, AssertLogCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", i)
		}
		return needReplica()
	}
	return fmt.Errorf("assertions[%d]: unknown assertion type %q", i, a.Type)
}

// Discover lists the scenario files in dir, sorted by name.
func Discover(dir string) ([]string, error) {
	var paths []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, err
		}
		paths = append(paths, matches...)
	}
	slices.Sort(paths)
	return paths, nil
}
