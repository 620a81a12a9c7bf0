package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/kern/internal/compiler"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool                       `json:"valid"`
	Rules    int                        `json:"rules"`
	Hash     string                     `json:"hash,omitempty"`
	Errors   []compiler.ValidationError `json:"errors,omitempty"`
	Warnings []compiler.CycleWarning    `json:"warnings,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <rules-dir>",
		Short: "Validate a rule set without running it",
		Long: `Load a CUE rule set, check every rule, and report rule cycles.

All validation errors are reported, not just the first. Cycle warnings
never fail validation; the recursion guard bounds them at run time.

Exit codes:
  0 - Rule set valid
  1 - Validation failed
  2 - Command error (missing directory, CUE syntax error)

Examples:
  kern validate ./rules
  kern validate --format json ./rules`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, rulesDir string, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	rs, err := compiler.LoadDir(rulesDir)
	if err != nil {
		return f.Fail(ExitCommandError, "failed to load rules", err)
	}
	f.VerboseLog("Loaded %d rule(s) from %s", len(rs.Rules), rulesDir)

	result := ValidationResult{
		Rules:    len(rs.Rules),
		Errors:   compiler.Validate(rs),
		Warnings: compiler.AnalyzeCycles(rs.Rules),
	}
	result.Valid = len(result.Errors) == 0
	if result.Valid {
		hash, err := rs.Hash()
		if err != nil {
			return f.Fail(ExitCommandError, "failed to hash rule set", err)
		}
		result.Hash = hash
	}

	if f.JSON() {
		resp := CLIResponse{Status: "ok", Data: result}
		if !result.Valid {
			resp.Status = "error"
			resp.Error = &CLIError{Code: result.Errors[0].Code, Message: result.Errors[0].Error()}
		}
		if err := f.Response(resp); err != nil {
			return err
		}
	} else {
		writeValidateText(f, result)
	}

	if !result.Valid {
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(result.Errors)))
	}
	return nil
}

func writeValidateText(f *OutputFormatter, result ValidationResult) {
	w := f.Writer
	if result.Valid {
		fmt.Fprintf(w, "✓ Rule set valid (%d rule(s))\n", result.Rules)
		f.VerboseLog("Hash: %s", result.Hash)
	} else {
		fmt.Fprintln(w, "✗ Validation failed")
		fmt.Fprintln(w)
		for _, err := range result.Errors {
			if err.Rule != 0 {
				fmt.Fprintf(w, "rule %d\n", err.Rule)
			}
			fmt.Fprintf(w, "  %s: %s: %s\n\n", err.Code, err.Field, err.Message)
		}
	}

	for _, warn := range result.Warnings {
		fmt.Fprintf(w, "⚠ %s cycle: %s\n", warn.Level, strings.Join(warn.Path, " -> "))
		fmt.Fprintf(w, "  %s\n", warn.Message)
	}
}
