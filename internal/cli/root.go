package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/roach88/invar/internal/ir"
	"github.com/roach88/invar/internal/sandbox"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigFile string
	Verbose    bool
	Format     string // "json" | "text"
	Library    bool
	Defensive  bool
	Strict     bool
	Allowed    []string

	// Config is the merged flag, environment and config file settings.
	// It is resolved before any subcommand runs.
	Config Config
	Logger *slog.Logger
}

// Config is the resolved configuration. Keys match the invar.yaml layout;
// INVAR_<KEY> environment variables override the file and flags override
// both.
type Config struct {
	Format    string         `mapstructure:"format"`
	Verbose   bool           `mapstructure:"verbose"`
	Library   bool           `mapstructure:"library"`
	Defensive bool           `mapstructure:"defensive"`
	Workers   int            `mapstructure:"workers"`
	Database  string         `mapstructure:"db"`
	Sandbox   sandbox.Config `mapstructure:"sandbox"`
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// configKeys maps configuration keys to the flags that override them.
var configKeys = map[string]string{
	"format":                    "format",
	"verbose":                   "verbose",
	"library":                   "library",
	"defensive":                 "defensive",
	"workers":                   "workers",
	"db":                        "db",
	"sandbox.strict":            "strict",
	"sandbox.allowed_functions": "allow",
}

// NewRootCommand creates the root command for the invar CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "invar",
		Short: "invar - invariant expression engine",
		Long: `Type-check, evaluate and generate on-chain checks for smart-contract
safety invariants.

Settings are read from --config (default ./invar.yaml when present),
INVAR_* environment variables and flags, in increasing precedence.`,
		Version:       fmt.Sprintf("%s (lowering v%s)", ir.EngineVersion, ir.LoweringVersion),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts.ConfigFile, cmd.Flags())
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to load configuration", err)
			}
			if !slices.Contains(ValidFormats, cfg.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", cfg.Format, ValidFormats))
			}
			opts.Config = cfg
			opts.Logger = newLogger(cmd, cfg.Verbose)
			return nil
		},
	}

	// Global flags
	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.ConfigFile, "config", "", "config file (default ./invar.yaml)")
	pf.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	pf.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	pf.BoolVar(&opts.Library, "library", false, "include the built-in invariant library")
	pf.BoolVar(&opts.Defensive, "defensive", false, "include the invariants guarding against known attack patterns")
	pf.BoolVar(&opts.Strict, "strict", false, "require every mutation to be covered by an invariant")
	pf.StringSliceVar(&opts.Allowed, "allow", nil, "restrict callable functions to this list")

	// Add subcommands
	cmd.AddCommand(NewCheckCommand(opts))
	cmd.AddCommand(NewEvalCommand(opts))
	cmd.AddCommand(NewCoverageCommand(opts))
	cmd.AddCommand(NewGenerateCommand(opts))
	cmd.AddCommand(NewVerifyCommand(opts))
	cmd.AddCommand(NewLibraryCommand(opts))
	cmd.AddCommand(NewAttacksCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))
	cmd.AddCommand(NewDiffCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// loadConfig merges the config file, environment and flags.
func loadConfig(path string, fs *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("INVAR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("invar")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, err
		}
	}

	if err := bindFlags(v, fs); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// bindFlags binds every configuration key whose flag the command has.
// Commands without --db or --workers leave those keys to the file and
// environment.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for key, name := range configKeys {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind --%s: %w", name, err)
		}
	}
	return nil
}

// newLogger writes text logs to the command's stderr, at debug level when
// verbose.
func newLogger(cmd *cobra.Command, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}
