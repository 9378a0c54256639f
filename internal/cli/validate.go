package cli

import (
	"errors"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/timewave-computer/causality-sub006/internal/relationship"
	"github.com/timewave-computer/causality-sub006/internal/teg"
)

// Finding is one validation error or warning.
type Finding struct {
	Code        string `json:"code"`
	Declaration string `json:"declaration"`
	Severity    string `json:"severity"` // "error" | "warning"
	Message     string `json:"message"`
	Line        int    `json:"line,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid         bool      `json:"valid"`
	Level         string    `json:"level"`
	Relationships int       `json:"relationships"`
	Graphs        int       `json:"graphs"`
	Findings      []Finding `json:"findings,omitempty"`
}

// Errors counts the error findings.
func (r ValidationResult) Errors() int {
	n := 0
	for _, f := range r.Findings {
		if f.Severity == "error" {
			n++
		}
	}
	return n
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	var level string
	cmd := &cobra.Command{
		Use:   "validate <decls-dir>",
		Short: "Validate relationship and effect graph declarations",
		Long: `Compile the CUE declarations in a directory and validate them.

Relationships are checked at --level with the builtin rules plus any
declared CEL rules. Effect graphs are compiled, which rejects dependency
cycles; cycles through continuations are reported as warnings.

Exit codes:
  0 - No errors (warnings allowed)
  1 - One or more declarations are invalid
  2 - Command error (directory not found, no CUE files, etc.)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, level, args[0], cmd)
		},
	}
	cmd.Flags().StringVar(&level, "level", relationship.Moderate.String(), "validation level (strict|moderate|permissive)")
	return cmd
}

func runValidate(opts *RootOptions, levelName, dir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	level, err := relationship.ParseLevel(levelName)
	if err != nil {
		return formatter.fail(ExitCommandError, "parse level", err)
	}

	loadResult, loadErrors := LoadDeclarations(dir, LoadModeCollectAll)

	// Handle load errors (directory not found, no files, etc.)
	if loadResult == nil {
		var loadErr *LoadError
		if errors.As(loadErrors[0], &loadErr) {
			_ = formatter.Error(loadErr.Code, loadErr.Message, nil)
		} else {
			_ = formatter.Error(ErrCodeGeneric, loadErrors[0].Error(), nil)
		}
		return WrapExitError(ExitCommandError, "load declarations", loadErrors[0])
	}
	formatter.VerboseLog("Found %d CUE file(s) in %s", loadResult.FileCount, dir)

	result := ValidationResult{
		Level:         level.String(),
		Relationships: len(loadResult.Relationships),
		Graphs:        len(loadResult.Graphs),
	}
	for _, err := range loadErrors {
		result.Findings = append(result.Findings, findingFromLoadError(err))
	}

	validator, err := newValidator(level, loadResult.Rules)
	if err != nil {
		return formatter.fail(ExitCommandError, "load rules", err)
	}
	for _, d := range loadResult.Relationships {
		formatter.VerboseLog("Validating relationship: %s", d.Name)
		res := validator.Validate(d.Relationship)
		for _, issue := range res.Errors {
			result.Findings = append(result.Findings, Finding{
				Code:        ErrCodeInvalid,
				Declaration: "relationship." + d.Name,
				Severity:    "error",
				Message:     fmt.Sprintf("%s: %s", issue.Kind, issue.Message),
			})
		}
		for _, w := range res.Warnings {
			result.Findings = append(result.Findings, Finding{
				Code:        ErrCodeInvalid,
				Declaration: "relationship." + d.Name,
				Severity:    "warning",
				Message:     fmt.Sprintf("%s: %s", w.Kind, w.Message),
			})
		}
	}
	for _, g := range loadResult.Graphs {
		formatter.VerboseLog("Analyzing graph: %s", g.Name)
		for _, w := range teg.AnalyzeCycles(g.Graph) {
			result.Findings = append(result.Findings, Finding{
				Code:        ErrCodeCycle,
				Declaration: "graph." + g.Name,
				Severity:    "warning",
				Message:     w.Message,
			})
		}
	}
	result.Valid = result.Errors() == 0

	if formatter.Format == "json" {
		if err := formatter.Success(result); err != nil {
			return err
		}
	} else {
		if len(result.Findings) > 0 {
			rows := make([]table.Row, len(result.Findings))
			for i, f := range result.Findings {
				rows[i] = table.Row{f.Severity, f.Code, f.Declaration, f.Message}
			}
			if err := formatter.Table(table.Row{"Severity", "Code", "Declaration", "Message"}, rows, result); err != nil {
				return err
			}
		}
		if result.Valid {
			fmt.Fprintf(formatter.Writer, "✓ All declarations valid (%d relationships, %d graphs, level %s)\n",
				result.Relationships, result.Graphs, result.Level)
		} else {
			fmt.Fprintf(formatter.Writer, "✗ %d error(s)\n", result.Errors())
		}
	}
	if !result.Valid {
		return NewExitError(ExitFailure, "validation failed")
	}
	return nil
}

// newValidator returns a validator at level carrying rules.
func newValidator(level relationship.Level, rules []relationship.Rule) (*relationship.Validator, error) {
	v := relationship.NewValidator(level)
	for _, r := range rules {
		if err := v.AddRule(r); err != nil {
			return nil, err
		}
	}
	return v, nil
}

func findingFromLoadError(err error) Finding {
	var le *LoadError
	if !errors.As(err, &le) {
		return Finding{Code: ErrCodeGeneric, Declaration: "load", Severity: "error", Message: err.Error()}
	}
	f := Finding{Code: le.Code, Declaration: "load", Severity: "error", Message: le.Message}
	if le.Pos.IsValid() {
		f.Line = le.Pos.Line()
	}
	return f
}
