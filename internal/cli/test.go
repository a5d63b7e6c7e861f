package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/concord/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Update    bool   // regenerate golden files
	Filter    string // glob over scenario file names, without extension
	GoldenDir string // defaults to "golden" beside the scenarios directory
}

// ScenarioResult is the outcome of one scenario file.
type ScenarioResult struct {
	Name   string   `json:"name"`
	Pass   bool     `json:"pass"`
	Errors []string `json:"errors,omitempty"`
}

// TestResult summarizes a test run.
type TestResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

func (r *TestResult) add(s ScenarioResult) {
	r.Scenarios = append(r.Scenarios, s)
	if s.Pass {
		r.Passed++
	} else {
		r.Failed++
	}
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenarios-dir>",
		Short: "Run convergence scenarios",
		Long: `Run YAML convergence scenarios through the harness.

Each scenario starts fresh in-memory replicas, runs its steps, checks its
assertions and, when a golden file exists, compares the canonical
snapshot (trace, final values, violations) byte for byte.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - The scenarios directory is missing or the filter is malformed

Examples:
  concord test ./testdata/scenarios
  concord test ./testdata/scenarios --filter "escrow_*"
  concord test ./testdata/scenarios --update
  concord test ./testdata/scenarios --golden-dir ./golden --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, newFormatter(rootOpts, cmd), args[0])
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "only run scenarios whose file name matches this glob")
	cmd.Flags().StringVar(&opts.GoldenDir, "golden-dir", "", "golden file directory")

	return cmd
}

func runTests(opts *TestOptions, f *OutputFormatter, dir string) error {
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return f.Fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("scenarios directory not found: %s", dir))
	}
	goldenDir := opts.GoldenDir
	if goldenDir == "" {
		goldenDir = filepath.Join(filepath.Dir(filepath.Clean(dir)), "golden")
	}

	files, err := selectScenarios(dir, opts.Filter)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeScanError, err.Error())
	}
	f.VerboseLog("Running %d scenario(s) from %s, goldens in %s", len(files), dir, goldenDir)

	result := TestResult{Scenarios: []ScenarioResult{}, Total: len(files)}
	if len(files) == 0 {
		if f.isJSON() {
			return f.Success(result)
		}
		fmt.Fprintln(f.Writer, "No scenarios found.")
		return nil
	}

	r := scenarioRunner{f: f, goldenDir: goldenDir, update: opts.Update}
	for _, file := range files {
		result.add(r.run(file))
	}
	return reportTests(f, result)
}

// selectScenarios lists the scenario files in dir whose base name matches
// filter. An empty filter keeps everything.
func selectScenarios(dir, filter string) ([]string, error) {
	files, err := harness.Discover(dir)
	if err != nil || filter == "" {
		return files, err
	}
	if _, err := filepath.Match(filter, ""); err != nil {
		return nil, fmt.Errorf("invalid filter %q: %w", filter, err)
	}
	var kept []string
	for _, file := range files {
		base := filepath.Base(file)
		if ok, _ := filepath.Match(filter, strings.TrimSuffix(base, filepath.Ext(base))); ok {
			kept = append(kept, file)
		}
	}
	return kept, nil
}

type scenarioRunner struct {
	f         *OutputFormatter
	goldenDir string
	update    bool
}

// run executes one scenario file, prints its line in text mode and returns
// its result.
func (r scenarioRunner) run(file string) ScenarioResult {
	res := r.check(file)
	if !r.f.isJSON() {
		switch {
		case !res.Pass:
			fmt.Fprintf(r.f.Writer, "✗ %s\n", res.Name)
		case r.update:
			fmt.Fprintf(r.f.Writer, "✓ %s (golden updated)\n", res.Name)
		default:
			fmt.Fprintf(r.f.Writer, "✓ %s\n", res.Name)
		}
		for _, e := range res.Errors {
			fmt.Fprintf(r.f.Writer, "  %s\n", e)
		}
	}
	return res
}

func (r scenarioRunner) check(file string) ScenarioResult {
	failed := func(name, format string, args ...any) ScenarioResult {
		return ScenarioResult{Name: name, Errors: []string{fmt.Sprintf(format, args...)}}
	}

	scenario, err := harness.LoadScenario(file)
	if err != nil {
		return failed(filepath.Base(file), "load: %v", err)
	}
	name := scenario.Name

	outcome, err := harness.Run(scenario)
	if err != nil {
		return failed(name, "run: %v", err)
	}
	got, err := harness.NewSnapshot(name, outcome).MarshalCanonical()
	if err != nil {
		return failed(name, "encode snapshot: %v", err)
	}

	golden := filepath.Join(r.goldenDir, name+".golden")
	if r.update {
		if err := os.MkdirAll(r.goldenDir, 0755); err != nil {
			return failed(name, "create golden directory: %v", err)
		}
		if err := os.WriteFile(golden, got, 0644); err != nil {
			return failed(name, "write golden file: %v", err)
		}
		r.f.VerboseLog("Updated %s", golden)
	} else {
		// Without a golden file only the assertions decide.
		want, err := os.ReadFile(golden)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return failed(name, "read golden file: %v", err)
		case !bytes.Equal(want, got):
			return failed(name, "snapshot does not match golden file (run with --update to regenerate)")
		}
	}

	if !outcome.Pass {
		return ScenarioResult{Name: name, Errors: outcome.Errors}
	}
	return ScenarioResult{Name: name, Pass: true}
}

func reportTests(f *OutputFormatter, result TestResult) error {
	var failure error
	if result.Failed > 0 {
		failure = NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}

	if f.isJSON() {
		response := CLIResponse{Status: "ok", Data: result}
		if failure != nil {
			response.Status = "error"
			response.Error = &CLIError{Code: "E_TEST_FAILED", Message: failure.Error()}
		}
		if err := writeJSON(f.Writer, response); err != nil {
			return err
		}
		return failure
	}

	fmt.Fprintf(f.Writer, "\nTest Summary: %d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)
	if failure == nil {
		fmt.Fprintln(f.Writer, "✓ All scenarios passed")
	}
	return failure
}
