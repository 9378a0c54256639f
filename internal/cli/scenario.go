package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/timewave-computer/causality-sub006/internal/harness"
)

// ScenarioOptions holds flags for the scenario command.
type ScenarioOptions struct {
	*RootOptions
	Golden string // golden directory; empty disables comparison
	Update bool   // regenerate golden files
	Filter string // scenario filter (glob pattern)
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name   string   `json:"name"`
	Pass   bool     `json:"pass"`
	Steps  int      `json:"steps"`
	Errors []string `json:"errors,omitempty"`
}

// ScenarioReport holds the overall scenario run result.
type ScenarioReport struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewScenarioCommand creates the scenario command.
func NewScenarioCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ScenarioOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "scenario <file-or-dir>",
		Short: "Run register lifecycle scenarios",
		Long: `Run YAML register lifecycle scenarios against a fresh in-memory
workspace, checking step expectations and assertions. With --golden the
trace of each scenario is compared against <golden>/<name>.golden.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  causality scenario ./scenarios
  causality scenario ./scenarios --filter "register-*"
  causality scenario ./scenarios --golden ./golden --update
  causality scenario ./scenarios/consume.yaml --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarios(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Golden, "golden", "", "directory of golden trace files")
	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")

	return cmd
}

func runScenarios(opts *ScenarioOptions, path string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)

	info, err := os.Stat(path)
	if err != nil {
		_ = f.Error(ErrCodeNotFound, fmt.Sprintf("scenario path not found: %s", path), nil)
		return WrapExitError(ExitCommandError, "scenario path not found", err)
	}
	files := []string{path}
	if info.IsDir() {
		if files, err = findScenarioFiles(path, opts.Filter); err != nil {
			return f.fail(ExitCommandError, "find scenarios", err)
		}
	}

	report := ScenarioReport{Scenarios: make([]ScenarioResult, 0, len(files)), Total: len(files)}
	for _, file := range files {
		res := runScenarioFile(opts, file)
		report.Scenarios = append(report.Scenarios, res)
		if res.Pass {
			report.Passed++
		} else {
			report.Failed++
		}
	}

	if f.Format == "json" {
		if err := f.Success(report); err != nil {
			return err
		}
	} else if err := outputScenarioText(f, report); err != nil {
		return err
	}
	if report.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", report.Failed))
	}
	return nil
}

// findScenarioFiles finds all YAML scenario files in a directory.
func findScenarioFiles(dir string, filter string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		// Only process .yaml and .yml files
		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}

		// Apply filter if specified
		if filter != "" {
			name := strings.TrimSuffix(filepath.Base(path), ext)
			matched, err := filepath.Match(filter, name)
			if err != nil {
				return fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				return nil
			}
		}

		files = append(files, path)
		return nil
	})
	return files, err
}

// runScenarioFile executes a single scenario and returns the result.
func runScenarioFile(opts *ScenarioOptions, file string) ScenarioResult {
	scenario, err := harness.LoadScenario(file)
	if err != nil {
		return ScenarioResult{
			Name:   filepath.Base(file),
			Errors: []string{fmt.Sprintf("failed to load scenario: %v", err)},
		}
	}

	result, err := harness.Run(scenario)
	if err != nil {
		return ScenarioResult{
			Name:   scenario.Name,
			Errors: []string{fmt.Sprintf("execution failed: %v", err)},
		}
	}
	out := ScenarioResult{
		Name:   scenario.Name,
		Pass:   result.Pass,
		Steps:  len(result.Trace),
		Errors: result.Errors,
	}

	if opts.Golden != "" {
		if err := checkGolden(opts, scenario.Name, result); err != nil {
			out.Pass = false
			out.Errors = append(out.Errors, err.Error())
		}
	}
	return out
}

// checkGolden compares the trace with its golden file, or rewrites the
// file when updating.
func checkGolden(opts *ScenarioOptions, name string, result *harness.Result) error {
	data, err := harness.MarshalSnapshot(name, result.Trace)
	if err != nil {
		return fmt.Errorf("failed to render trace: %w", err)
	}
	path := filepath.Join(opts.Golden, name+".golden")
	if opts.Update {
		if err := os.MkdirAll(opts.Golden, 0o755); err != nil {
			return fmt.Errorf("%s: failed to create golden directory: %w", ErrCodeWriteFailed, err)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("%s: failed to write golden file: %w", ErrCodeWriteFailed, err)
		}
		return nil
	}
	want, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("golden file %s not found (run with --update to create)", path)
	}
	if !bytes.Equal(want, data) {
		return fmt.Errorf("trace differs from golden file %s", path)
	}
	return nil
}

func outputScenarioText(f *OutputFormatter, report ScenarioReport) error {
	if report.Total == 0 {
		fmt.Fprintln(f.Writer, "No scenarios found.")
		return nil
	}
	rows := make([]table.Row, len(report.Scenarios))
	for i, s := range report.Scenarios {
		mark := "✓"
		if !s.Pass {
			mark = "✗"
		}
		rows[i] = table.Row{mark, s.Name, s.Steps, len(s.Errors)}
	}
	if err := f.Table(table.Row{"", "Scenario", "Steps", "Errors"}, rows, report); err != nil {
		return err
	}
	for _, s := range report.Scenarios {
		for _, e := range s.Errors {
			fmt.Fprintf(f.Writer, "%s: %s\n", s.Name, e)
		}
	}
	fmt.Fprintf(f.Writer, "\n%d passed, %d failed, %d total\n", report.Passed, report.Failed, report.Total)
	return nil
}
