package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/kern/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Update bool   // regenerate golden files
	Golden bool   // compare against golden files that exist
	Filter string // scenario filter (glob pattern)
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenario-path>...",
		Short: "Run scenario files against their rule sets",
		Long: `Run YAML scenarios: each loads a rule set, runs the engine and checks
assertions on the trace, resolution history and final state.

Paths may be scenario files or directories, which are searched
recursively. With --golden each scenario's trace is also compared with
golden/<name>.golden next to the scenario file, when that file exists;
--update rewrites those files instead.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, bad filter)

Examples:
  kern test ./scenarios
  kern test ./scenarios --filter "override*"
  kern test ./scenarios --golden
  kern test ./scenarios/counter.yaml --update
  kern test ./scenarios --format json`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().BoolVar(&opts.Golden, "golden", false, "compare traces against golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")

	return cmd
}

func runTests(opts *TestOptions, paths []string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	var files []string
	for _, p := range paths {
		found, err := harness.FindScenarios(p, opts.Filter)
		if err != nil {
			var notFound *harness.ScenarioNotFoundError
			if errors.As(err, &notFound) {
				return f.Fail(ExitCommandError, "scenario path not found", err)
			}
			return f.Fail(ExitCommandError, "failed to find scenarios", err)
		}
		files = append(files, found...)
	}
	f.VerboseLog("Found %d scenario(s)", len(files))

	suite := harness.RunSuite(cmd.Context(), files)
	if opts.Update || opts.Golden {
		if err := checkGoldens(f, suite, opts.Update); err != nil {
			return f.Fail(ExitCommandError, "failed to write golden file", err)
		}
	}

	if f.JSON() {
		resp := CLIResponse{Status: "ok", Data: suite}
		if suite.Failed > 0 {
			resp.Status = "error"
			resp.Error = &CLIError{
				Code:    ErrCodeTestFailed,
				Message: fmt.Sprintf("%d of %d scenario(s) failed", suite.Failed, suite.Total),
			}
		}
		if err := f.Response(resp); err != nil {
			return err
		}
	} else {
		writeTestText(f.Writer, suite)
	}

	if suite.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", suite.Failed))
	}
	return nil
}

// goldenPath is where a scenario's golden trace lives.
func goldenPath(out harness.ScenarioOutcome) string {
	return filepath.Join(filepath.Dir(out.Path), "golden", out.Scenario.Name+".golden")
}

// checkGoldens writes (update) or compares the golden trace of every
// scenario that ran. A mismatch fails the scenario; only write errors are
// returned.
func checkGoldens(f *OutputFormatter, suite *harness.SuiteResult, update bool) error {
	for i := range suite.Scenarios {
		out := &suite.Scenarios[i]
		if out.Result == nil {
			continue
		}
		got, err := harness.MarshalGolden(out.Scenario.Name, out.Result)
		if err != nil {
			failScenario(suite, out, fmt.Sprintf("golden: %v", err))
			continue
		}
		path := goldenPath(*out)

		if update {
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(path, got, 0o644); err != nil {
				return err
			}
			f.VerboseLog("Wrote %s", path)
			continue
		}

		want, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			f.VerboseLog("No golden file for %s", out.Name)
			continue
		}
		if err != nil {
			failScenario(suite, out, fmt.Sprintf("golden: %v", err))
			continue
		}
		if !bytes.Equal(bytes.TrimSpace(want), bytes.TrimSpace(got)) {
			failScenario(suite, out, fmt.Sprintf("golden mismatch: %s (rerun with --update to accept)", path))
		}
	}
	return nil
}

func failScenario(suite *harness.SuiteResult, out *harness.ScenarioOutcome, msg string) {
	if out.Pass {
		suite.Passed--
		suite.Failed++
	}
	out.Pass = false
	out.Errors = append(out.Errors, msg)
}

func writeTestText(w io.Writer, suite *harness.SuiteResult) {
	if suite.Total == 0 {
		fmt.Fprintln(w, "No scenarios found.")
		return
	}
	for _, sc := range suite.Scenarios {
		if sc.Pass {
			fmt.Fprintf(w, "✓ %s\n", sc.Name)
			continue
		}
		fmt.Fprintf(w, "✗ %s\n", sc.Name)
		for _, msg := range sc.Errors {
			fmt.Fprintf(w, "    %s\n", msg)
		}
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Results: %d passed, %d failed, %d total\n", suite.Passed, suite.Failed, suite.Total)
}
