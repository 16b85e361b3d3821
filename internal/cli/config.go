package cli

import (
	"io"
	"log/slog"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. RECONCILE_DB.
const EnvPrefix = "RECONCILE"

// SetDefaults configures default values for all settings.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("format", "text")
	v.SetDefault("verbose", false)
	v.SetDefault("db", "reconcile.db")
	v.SetDefault("limit", 20)
	v.SetDefault("scope", "0")
}

// loadSettings resolves the command's settings. Precedence: explicit flags,
// RECONCILE_* environment, the settings file, then defaults.
func loadSettings(opts *RootOptions, cmd *cobra.Command) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)
	if opts.Format != "" {
		v.SetDefault("format", opts.Format)
	}
	if opts.Verbose {
		v.SetDefault("verbose", true)
	}

	if opts.Config != "" {
		v.SetConfigFile(opts.Config)
	} else {
		v.SetConfigName("reconcile")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if opts.Config != "" || !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "read settings file")
		}
	}

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, errors.Wrap(err, "bind flags")
	}

	if format := v.GetString("format"); !isValidFormat(format) {
		return nil, errors.WithHint(
			errors.Newf("invalid format %q", format),
			"use text or json")
	}
	return v, nil
}

// newLogger returns a text logger on w; Debug when verbose.
func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// commandEnv is what every command needs once settings are resolved.
type commandEnv struct {
	settings  *viper.Viper
	formatter *OutputFormatter
	logger    *slog.Logger
}

func newCommandEnv(opts *RootOptions, cmd *cobra.Command) (*commandEnv, error) {
	v, err := loadSettings(opts, cmd)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid settings", err)
	}
	verbose := v.GetBool("verbose")
	return &commandEnv{
		settings: v,
		formatter: &OutputFormatter{
			Format:    v.GetString("format"),
			Writer:    cmd.OutOrStdout(),
			ErrWriter: cmd.ErrOrStderr(),
			Verbose:   verbose,
		},
		logger: newLogger(cmd.ErrOrStderr(), verbose),
	}, nil
}
