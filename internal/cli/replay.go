package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gridstone/tidewater/internal/harness"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay <scenario-file>",
		Short: "Run a scenario and print its trace",
		Long: `Run a single YAML scenario and print the execution trace.

The trace lists every edit, remote write, confirmation, and poll in
order, with the versions and cursors observed. Useful for inspecting
what a scenario does before recording it as a golden file.

Examples:
  tidewater replay scenario.yaml
  tidewater replay scenario.yaml --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, args[0], cmd)
		},
	}

	return cmd
}

func runReplay(opts *ReplayOptions, scenarioFile string, cmd *cobra.Command) error {
	scenario, err := harness.LoadScenario(scenarioFile)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load scenario", err)
	}

	result, err := harness.Run(scenario)
	if err != nil {
		return WrapExitError(ExitFailure, "execution failed", err)
	}

	w := cmd.OutOrStdout()
	if opts.Format == "json" {
		data, err := harness.MarshalTrace(scenario.Name, result)
		if err != nil {
			return WrapExitError(ExitFailure, "failed to marshal trace", err)
		}
		if _, err := w.Write(data); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(w, "%s (%d events)\n", scenario.Name, len(result.Trace))
		for i, ev := range result.Trace {
			fmt.Fprintf(w, "%3d  %s", i, ev.Event)
			if ev.Op != "" {
				fmt.Fprintf(w, " %s", ev.Op)
			}
			if ev.Entity != "" {
				fmt.Fprintf(w, " %s", ev.Entity)
			}
			if ev.ID != "" {
				fmt.Fprintf(w, " %s", ev.ID)
			}
			if ev.Mode != "" {
				fmt.Fprintf(w, " mode=%s", ev.Mode)
			}
			if ev.Version != 0 {
				fmt.Fprintf(w, " v%d", ev.Version)
			}
			if ev.Cursor != "" {
				fmt.Fprintf(w, " cursor=%s", ev.Cursor)
			}
			if ev.Error != "" {
				fmt.Fprintf(w, " error=%s", ev.Error)
			}
			fmt.Fprintln(w)
		}
	}

	if !result.Pass {
		for _, e := range result.Errors {
			fmt.Fprintf(cmd.ErrOrStderr(), "assertion failed: %s\n", e)
		}
		return NewExitError(ExitFailure, "scenario assertions failed")
	}
	return nil
}
