package cli

import (
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/tasksync/internal/config"
	"github.com/roach88/tasksync/internal/logging"
)

// RootOptions holds global flags and the state resolved from them before a
// subcommand runs.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string
	Backend    string
	Account    string

	// DotEnv lists .env files read before environment overrides.
	DotEnv []string
	// LookupEnv overrides os.LookupEnv (for testing).
	LookupEnv func(string) (string, bool)
	// Open overrides OpenStore (for testing).
	Open StoreOpener

	Config *config.Config
	Logger *slog.Logger

	logCloser io.Closer
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the tasksync CLI.
func NewRootCommand() *cobra.Command {
	return NewRootCommandWith(&RootOptions{DotEnv: []string{".env"}})
}

// NewRootCommandWith creates the root command around preset options.
func NewRootCommandWith(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasksync",
		Short: "tasksync - live project and task sync",
		Long: `Keep a project and task list in sync with a remote document store.

Every command attaches to the configured backend for one account, waits
for the first snapshot and then reads or mutates the synchronized list.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.prepare(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return opts.release()
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "config file (default "+config.DefaultPath()+")")
	cmd.PersistentFlags().StringVar(&opts.Backend, "backend", "", "override the configured backend (memory|sqlite|mongo|rest)")
	cmd.PersistentFlags().StringVar(&opts.Account, "account", "", "override the configured account id")

	cmd.AddCommand(NewWatchCommand(opts))
	cmd.AddCommand(NewProjectsCommand(opts))
	cmd.AddCommand(NewProjectCommand(opts))
	cmd.AddCommand(NewTaskCommand(opts))
	cmd.AddCommand(NewLoginCommand(opts))
	cmd.AddCommand(NewWhoamiCommand(opts))
	cmd.AddCommand(NewFakeServerCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// prepare validates global flags, loads config and builds the logger.
func (o *RootOptions) prepare(cmd *cobra.Command) error {
	if !isValidFormat(o.Format) {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", o.Format, ValidFormats))
	}

	loadOpts := []config.LoadOption{config.WithDotEnv(o.DotEnv...)}
	if o.LookupEnv != nil {
		loadOpts = append(loadOpts, config.WithLookupEnv(o.LookupEnv))
	}
	cfg, err := config.Load(o.ConfigPath, loadOpts...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if o.Backend != "" {
		cfg.Backend = o.Backend
	}
	if o.Account != "" {
		cfg.Account = o.Account
	}
	if !slices.Contains([]string{config.BackendMemory, config.BackendSQLite, config.BackendMongo, config.BackendREST}, cfg.Backend) {
		return NewExitError(ExitCommandError, fmt.Sprintf("unknown backend %q", cfg.Backend))
	}
	if o.Verbose {
		cfg.Log.Level = "debug"
	}

	logger, closer, err := logging.New(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to configure logging", err)
	}
	slog.SetDefault(logger)

	o.Config = cfg
	o.Logger = logger
	o.logCloser = closer
	return nil
}

func (o *RootOptions) release() error {
	if o.logCloser == nil {
		return nil
	}
	err := o.logCloser.Close()
	o.logCloser = nil
	return err
}

// formatter returns an OutputFormatter bound to cmd's writers.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}
