package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/reconcile/internal/store"
)

// NewRunsCommand creates the runs command.
func NewRunsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "runs",
		Short:         "List recent import runs",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRuns(rootOpts, cmd)
		},
	}

	cmd.Flags().String("db", "", "path to SQLite database")
	cmd.Flags().Int("limit", 20, "maximum number of runs to list")

	return cmd
}

func runRuns(opts *RootOptions, cmd *cobra.Command) error {
	env, err := newCommandEnv(opts, cmd)
	if err != nil {
		return err
	}
	f := env.formatter

	st, err := store.Open(env.settings.GetString("db"))
	if err != nil {
		return f.fail(ExitCommandError, ErrCodeStore, "failed to open database", err, nil)
	}
	defer st.Close()

	runs, err := st.Runs(cmd.Context(), env.settings.GetInt("limit"))
	if err != nil {
		return f.fail(ExitCommandError, ErrCodeStore, "failed to read runs", err, nil)
	}
	return f.Success(runsView(runs))
}
