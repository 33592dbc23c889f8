package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gridstone/tidewater/internal/harness"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
}

// ValidationResult holds the validation outcome for one scenario file.
type ValidationResult struct {
	File  string `json:"file"`
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate <scenario-file-or-dir>...",
		Short: "Validate scenario files",
		Long: `Validate YAML scenario files without running them.

Checks structure, step shapes, entity types, and assertion fields.
Directories are walked recursively for .yaml and .yml files.

Examples:
  tidewater validate ./scenarios
  tidewater validate scenario.yaml other.yaml
  tidewater validate ./scenarios --format json`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, args, cmd)
		},
	}

	return cmd
}

func runValidate(opts *ValidateOptions, paths []string, cmd *cobra.Command) error {
	formatter := NewOutputFormatter(opts.RootOptions)
	formatter.Writer = cmd.OutOrStdout()
	formatter.ErrWriter = cmd.ErrOrStderr()

	var files []string
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("cannot access %s", path), err)
		}
		if info.IsDir() {
			found, err := findScenarioFiles(path, "")
			if err != nil {
				return WrapExitError(ExitCommandError, fmt.Sprintf("failed to walk %s", path), err)
			}
			files = append(files, found...)
		} else {
			files = append(files, path)
		}
	}

	if len(files) == 0 {
		return NewExitError(ExitCommandError, "no scenario files found")
	}

	results := make([]ValidationResult, 0, len(files))
	invalid := 0
	for _, file := range files {
		res := ValidationResult{File: file, Valid: true}
		if _, err := harness.LoadScenario(file); err != nil {
			res.Valid = false
			res.Error = err.Error()
			invalid++
		}
		results = append(results, res)
	}

	if opts.Format == "json" {
		if err := formatter.Success(map[string]any{
			"results": results,
			"valid":   len(files) - invalid,
			"invalid": invalid,
		}); err != nil {
			return err
		}
	} else {
		w := cmd.OutOrStdout()
		for _, res := range results {
			if res.Valid {
				fmt.Fprintf(w, "✓ %s\n", res.File)
			} else {
				fmt.Fprintf(w, "✗ %s\n  %s\n", res.File, res.Error)
			}
		}
		fmt.Fprintf(w, "\n%d valid, %d invalid\n", len(files)-invalid, invalid)
	}

	if invalid > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d invalid scenario file(s)", invalid))
	}
	return nil
}
