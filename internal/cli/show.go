package cli

import (
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/roach88/reconcile/internal/gateway"
	"github.com/roach88/reconcile/internal/store"
)

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective attribute values of an entity",
		Long: `Print what a reader at a scope sees for one entity: the scope's own
value of every attribute, falling back to the admin value.

Example:
  reconcile show --db ./catalog.db --entity-type product --key sku-1 --scope french`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(rootOpts, cmd)
		},
	}

	cmd.Flags().String("db", "", "path to SQLite database")
	cmd.Flags().String("entity-type", "", "entity type (required)")
	cmd.Flags().String("key", "", "natural key of the entity (required)")
	cmd.Flags().String("scope", "0", "scope id or code")
	_ = cmd.MarkFlagRequired("entity-type")
	_ = cmd.MarkFlagRequired("key")

	return cmd
}

func runShow(opts *RootOptions, cmd *cobra.Command) error {
	env, err := newCommandEnv(opts, cmd)
	if err != nil {
		return err
	}
	f := env.formatter
	v := env.settings
	ctx := cmd.Context()

	st, err := store.Open(v.GetString("db"))
	if err != nil {
		return f.fail(ExitCommandError, ErrCodeStore, "failed to open database", err, nil)
	}
	defer st.Close()

	entityType, key := v.GetString("entity-type"), v.GetString("key")
	scopeID, err := resolveScope(cmd, st, v.GetString("scope"))
	if err != nil {
		return notFoundOr(f, "unknown scope", err)
	}
	entityID, err := st.EntityIDByKey(ctx, entityType, key)
	if err != nil {
		return notFoundOr(f, "entity not found", err)
	}
	values, err := st.EffectiveValues(ctx, entityType, entityID, scopeID)
	if err != nil {
		return f.fail(ExitCommandError, ErrCodeStore, "failed to read values", err, nil)
	}

	view := entityView{
		EntityType: entityType,
		Key:        key,
		EntityID:   entityID,
		ScopeID:    scopeID,
		Values:     make(map[string]string, len(values)),
	}
	for code, val := range values {
		view.Values[code] = val.String()
	}
	return f.Success(view)
}

// resolveScope accepts a numeric scope id or a scope code.
func resolveScope(cmd *cobra.Command, st *store.Store, s string) (int64, error) {
	if id, err := strconv.ParseInt(s, 10, 64); err == nil {
		scope, err := st.Scope(cmd.Context(), id)
		return scope.ID, err
	}
	scope, err := st.ScopeByCode(cmd.Context(), s)
	return scope.ID, err
}

func notFoundOr(f *OutputFormatter, message string, err error) error {
	if errors.Is(err, gateway.ErrNotFound) {
		return f.fail(ExitFailure, ErrCodeNotFound, message, err, nil)
	}
	return f.fail(ExitCommandError, ErrCodeStore, message, err, nil)
}
