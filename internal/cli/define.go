package cli

import (
	"os"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/roach88/reconcile/internal/store"
)

// NewDefineCommand creates the define command.
func NewDefineCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "define <setup.yaml>",
		Short: "Define websites, scopes, entity types and attributes",
		Long: `Bootstrap a store from a YAML setup document.

The document lists websites with their default scope, scopes, and entity types
with their natural key and attribute metadata. Applying a document twice is a
no-op; changed attribute flags are updated in place.

Example:
  reconcile define --db ./catalog.db setup.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDefine(rootOpts, args[0], cmd)
		},
	}

	cmd.Flags().String("db", "", "path to SQLite database")

	return cmd
}

func runDefine(opts *RootOptions, setupPath string, cmd *cobra.Command) error {
	env, err := newCommandEnv(opts, cmd)
	if err != nil {
		return err
	}
	f := env.formatter

	setup, err := readSetup(setupPath)
	if err != nil {
		return f.fail(ExitCommandError, ErrCodeInput, "failed to load setup", err, nil)
	}

	dbPath := env.settings.GetString("db")
	st, err := store.Open(dbPath)
	if err != nil {
		return f.fail(ExitCommandError, ErrCodeStore, "failed to open database", err, nil)
	}
	defer st.Close()

	if err := st.ApplySetup(cmd.Context(), setup); err != nil {
		return f.fail(ExitCommandError, ErrCodeStore, "failed to apply setup", err, nil)
	}
	env.logger.Info("setup applied", "db", dbPath, "entity_types", len(setup.EntityTypes))
	return f.Success(newSetupView(setup))
}

func readSetup(path string) (*store.Setup, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open setup")
	}
	defer file.Close()
	return store.LoadSetup(file)
}
