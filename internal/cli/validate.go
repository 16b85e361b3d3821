package cli

import (
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/roach88/reconcile/internal/importer"
	"github.com/roach88/reconcile/internal/store"
)

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <input>",
		Short: "Validate elements without writing",
		Long: `Run only the validation stage of an import.

Scopes, replace attributes, capability items and attribute values are checked
against the store's metadata. Nothing is written and no run is logged.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	addImportFlags(cmd)

	return cmd
}

func runValidate(opts *RootOptions, inputPath string, cmd *cobra.Command) error {
	env, err := newCommandEnv(opts, cmd)
	if err != nil {
		return err
	}
	f := env.formatter

	profile, elements, err := loadRunInput(env.settings.GetString("profile"), inputPath, cmd.InOrStdin())
	if err != nil {
		return f.fail(ExitCommandError, ErrCodeInput, "failed to load input", err, nil)
	}

	st, err := store.Open(env.settings.GetString("db"))
	if err != nil {
		return f.fail(ExitCommandError, ErrCodeStore, "failed to open database", err, nil)
	}
	defer st.Close()

	report, err := importer.New(st, importer.WithLogger(env.logger)).Validate(cmd.Context(), profile, elements)
	if err != nil {
		if errors.Is(err, importer.ErrInvalidProfile) {
			return f.fail(ExitCommandError, ErrCodeSettings, "invalid profile", err, nil)
		}
		return f.fail(ExitCommandError, ErrCodeStore, "validation failed", err, nil)
	}

	view := validationView{Report: report}
	if report.Counts.Invalid > 0 {
		return f.fail(ExitFailure, ErrCodeInvalid, invalidMessage(report), nil, view)
	}
	return f.Success(view)
}
