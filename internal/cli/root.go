package cli

import (
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable the CLI reads, e.g.
// CAUSALITY_WORKSPACE or CAUSALITY_SECRET.
const EnvPrefix = "CAUSALITY"

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose   bool
	Format    string // "json" | "text"
	Workspace string
	Secret    string

	v *viper.Viper
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the causality CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{v: viper.New()}

	cmd := &cobra.Command{
		Use:   "causality",
		Short: "causality - registers, relationships and effect graphs",
		Long: `Operate a local causality workspace: a SQLite database holding the
sparse Merkle state tree, register lifecycle log, nullifier set and
scheduler task log.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			opts.resolve()
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			slog.SetDefault(slog.New(newLogHandler(cmd.ErrOrStderr(), opts)))
			return nil
		},
	}

	// Global flags
	flags := cmd.PersistentFlags()
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	flags.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	flags.StringVarP(&opts.Workspace, "workspace", "w", ".", "workspace directory holding causality.yml")
	flags.StringVar(&opts.Secret, "secret", "", "seed for deterministic signing keys")

	opts.v.SetEnvPrefix(EnvPrefix)
	opts.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	opts.v.AutomaticEnv()
	for _, name := range []string{"verbose", "format", "workspace", "secret"} {
		_ = opts.v.BindPFlag(name, flags.Lookup(name))
	}

	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewStateCommand(opts))
	cmd.AddCommand(NewRegisterCommand(opts))
	cmd.AddCommand(NewScenarioCommand(opts))

	return cmd
}

// resolve copies flag, environment and default values into opts.
func (o *RootOptions) resolve() {
	if o.v == nil {
		return
	}
	o.Verbose = o.v.GetBool("verbose")
	o.Format = o.v.GetString("format")
	o.Workspace = o.v.GetString("workspace")
	o.Secret = o.v.GetString("secret")
}

// newLogHandler logs JSON when the output format is JSON and text
// otherwise, at debug level with --verbose and warn level without.
func newLogHandler(w io.Writer, opts *RootOptions) slog.Handler {
	level := slog.LevelWarn
	if opts.Verbose {
		level = slog.LevelDebug
	}
	ho := &slog.HandlerOptions{Level: level}
	if opts.Format == "json" {
		return slog.NewJSONHandler(w, ho)
	}
	return slog.NewTextHandler(w, ho)
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}
