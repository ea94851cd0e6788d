package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/tasksync/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Update bool   // regenerate golden files
	Filter string // scenario filter (glob pattern)
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenarios-dir>",
		Short: "Run sync scenarios",
		Long: `Run scripted sync scenarios against an in-process engine.

Each scenario drives the engine over a fresh in-memory store, then checks
its assertions and compares the step trace with golden/<name>.golden next
to the scenario file. The configured backend is not used.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  tasksync test ./scenarios
  tasksync test ./scenarios --filter "task_*"
  tasksync test ./scenarios --update
  tasksync test ./scenarios --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")

	return cmd
}

func runTests(opts *TestOptions, scenariosDir string, cmd *cobra.Command) error {
	if _, err := os.Stat(scenariosDir); os.IsNotExist(err) {
		return NewExitError(ExitCommandError, fmt.Sprintf("scenarios directory not found: %s", scenariosDir))
	}

	suiteOpts := harness.SuiteOptions{Update: opts.Update, Filter: opts.Filter}
	if opts.Verbose {
		suiteOpts.Logger = opts.Logger
	}

	var each func(harness.ScenarioReport)
	if opts.Format != "json" {
		w := cmd.OutOrStdout()
		each = func(r harness.ScenarioReport) {
			switch {
			case r.Pass && r.GoldenUpdated:
				fmt.Fprintf(w, "PASS %s (golden updated)\n", r.Name)
			case r.Pass:
				fmt.Fprintf(w, "PASS %s\n", r.Name)
			default:
				fmt.Fprintf(w, "FAIL %s\n", r.Name)
				for _, e := range r.Errors {
					fmt.Fprintf(w, "  %s\n", e)
				}
			}
		}
	}

	suite, err := harness.RunSuite(cmd.Context(), scenariosDir, suiteOpts, each)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to run scenarios", err)
	}

	if suite.Total == 0 && opts.Format != "json" {
		fmt.Fprintln(cmd.OutOrStdout(), "No scenarios found.")
		return nil
	}
	if opts.Format == "json" {
		return outputTestJSON(cmd, suite)
	}
	return outputTestText(cmd, suite)
}

// outputTestJSON outputs the suite report as JSON.
func outputTestJSON(cmd *cobra.Command, suite harness.SuiteReport) error {
	status := "ok"
	if suite.Failed > 0 {
		status = "error"
	}

	response := CLIResponse{
		Status: status,
		Data:   suite,
	}

	if suite.Failed > 0 {
		response.Error = &CLIError{
			Code:    "E_TEST_FAILED",
			Message: fmt.Sprintf("%d scenario(s) failed", suite.Failed),
		}
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(response); err != nil {
		return err
	}

	if suite.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", suite.Failed))
	}
	return nil
}

// outputTestText prints the summary line.
func outputTestText(cmd *cobra.Command, suite harness.SuiteReport) error {
	w := cmd.OutOrStdout()

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Test Summary: %d passed, %d failed, %d total\n", suite.Passed, suite.Failed, suite.Total)

	if suite.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", suite.Failed))
	}

	fmt.Fprintln(w, "All scenarios passed")
	return nil
}
