package cli

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/roach88/reconcile/internal/element"
	"github.com/roach88/reconcile/internal/importer"
	"github.com/roach88/reconcile/internal/store"
	"github.com/roach88/reconcile/internal/writer"
)

// ImportOptions holds flags for the import and validate commands.
type ImportOptions struct {
	*RootOptions

	// RunTokens overrides the run token generator (for testing).
	// If nil, runs get UUIDv7 tokens.
	RunTokens importer.RunTokenGenerator
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ImportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "import <input>",
		Short: "Import elements into the store",
		Long: `Import a YAML or JSON sequence of elements with a run profile.

Elements are validated, matched to existing entities by their natural key,
diffed attribute by attribute and written in chunked transactions. Use "-"
to read the input from stdin.

Example:
  reconcile import --db ./catalog.db --profile product.cue products.yaml
  reconcile import --profile product.yaml --dry-run --format json products.json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(opts, args[0], cmd)
		},
	}

	addImportFlags(cmd)
	cmd.Flags().Int("chunk-size", 0, "elements per transaction (overrides the profile; 0 = one chunk)")
	cmd.Flags().Bool("dry-run", false, "roll back every chunk instead of committing")

	return cmd
}

func addImportFlags(cmd *cobra.Command) {
	cmd.Flags().String("db", "", "path to SQLite database")
	cmd.Flags().String("profile", "", "run profile (.cue, .yaml, .yml or .json)")
}

func runImport(opts *ImportOptions, inputPath string, cmd *cobra.Command) error {
	env, err := newCommandEnv(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	f := env.formatter
	v := env.settings

	profile, elements, err := loadRunInput(v.GetString("profile"), inputPath, cmd.InOrStdin())
	if err != nil {
		return f.fail(ExitCommandError, ErrCodeInput, "failed to load input", err, nil)
	}
	if v.IsSet("chunk-size") {
		size := v.GetInt("chunk-size")
		profile.ChunkSize = &size
	}
	if v.GetBool("dry-run") {
		profile.DryRun = true
	}

	st, err := store.Open(v.GetString("db"))
	if err != nil {
		return f.fail(ExitCommandError, ErrCodeStore, "failed to open database", err, nil)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			env.logger.Error("error closing database", "error", closeErr)
		}
	}()

	engineOpts := []importer.Option{importer.WithLogger(env.logger)}
	if opts.RunTokens != nil {
		engineOpts = append(engineOpts, importer.WithRunTokens(opts.RunTokens))
	}
	eng := importer.New(st, engineOpts...)

	ctx, cancel := signalContext(cmd)
	defer cancel()

	report, runErr := eng.Run(ctx, profile, elements)
	if report == nil {
		if errors.Is(runErr, importer.ErrInvalidProfile) {
			return f.fail(ExitCommandError, ErrCodeSettings, "invalid profile", runErr, nil)
		}
		return f.fail(ExitCommandError, ErrCodeStore, "import failed", runErr, nil)
	}

	view := reportView{Report: report}
	var chunkErr *writer.ChunkError
	switch {
	case errors.As(runErr, &chunkErr):
		return f.fail(ExitFailure, ErrCodeAborted, "run aborted", runErr, view)
	case runErr != nil:
		return f.fail(ExitCommandError, ErrCodeStore, "import failed", runErr, view)
	case !report.OK():
		return f.fail(ExitFailure, ErrCodeInvalid, invalidMessage(report), nil, view)
	}
	return f.Success(view)
}

// loadRunInput reads the profile and decodes the elements. inputPath "-" reads stdin.
func loadRunInput(profilePath, inputPath string, stdin io.Reader) (*importer.Profile, []*element.Element, error) {
	if profilePath == "" {
		return nil, nil, errors.WithHint(errors.New("no profile given"), "pass --profile or set RECONCILE_PROFILE")
	}
	profile, err := importer.LoadProfile(profilePath)
	if err != nil {
		return nil, nil, err
	}

	r := stdin
	if inputPath != "-" {
		file, err := os.Open(inputPath)
		if err != nil {
			return nil, nil, errors.Wrap(err, "open input")
		}
		defer file.Close()
		r = file
	}
	elements, err := element.Decode(r)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "decode %s", inputPath)
	}
	return profile, elements, nil
}

// signalContext cancels on SIGINT or SIGTERM. The command's context is the parent
// when set (tests), otherwise context.Background.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
