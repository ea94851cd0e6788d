package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/tasksync/internal/codec"
	"github.com/roach88/tasksync/internal/config"
	"github.com/roach88/tasksync/internal/doc"
	"github.com/roach88/tasksync/internal/model"
	"github.com/roach88/tasksync/internal/remote/rest"
)

// LoginOptions holds flags for the login command.
type LoginOptions struct {
	*RootOptions
	Email    string
	Password string
	Name     string
	Register bool
	Save     bool
}

// NewLoginCommand creates the login command.
func NewLoginCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LoginOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Obtain a token from the project API",
		Long: `Log in to (or register with) the REST backend and print the account id
and bearer token. With --save both are written to the config file, so later
commands attach to that account.

Example:
  tasksync login --email ana@example.com --password secret --save
  tasksync login --register --name "Ana" --email ana@example.com --password secret`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogin(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Email, "email", "", "account email (required)")
	cmd.Flags().StringVar(&opts.Password, "password", "", "account password (required)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "display name (with --register)")
	cmd.Flags().BoolVar(&opts.Register, "register", false, "create the account first")
	cmd.Flags().BoolVar(&opts.Save, "save", false, "store the account and token in the config file")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")

	return cmd
}

type loginResult struct {
	User  doc.Map `json:"user"`
	Token string  `json:"token"`
	Saved string  `json:"saved,omitempty"`
}

func runLogin(opts *LoginOptions, cmd *cobra.Command) error {
	if opts.Config.Backend != config.BackendREST {
		return NewExitError(ExitCommandError, "login needs the rest backend (use --backend rest)")
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	client := newRESTClient(opts.Config, opts.Logger)
	creds := rest.Credentials{DisplayName: opts.Name, Email: opts.Email, Password: opts.Password}

	var (
		user  model.User
		token string
		err   error
	)
	if opts.Register {
		user, token, err = client.Register(ctx, creds)
	} else {
		user, token, err = client.Login(ctx, creds)
	}
	if err != nil {
		return WrapExitError(ExitFailure, "login failed", err)
	}

	result := loginResult{User: codec.EncodeUser(user), Token: token}
	if opts.Save {
		path := opts.ConfigPath
		if path == "" {
			path = config.DefaultPath()
		}
		cfg := *opts.Config
		cfg.Account = user.ID
		cfg.REST.Token = token
		if err := config.Save(path, &cfg); err != nil {
			return WrapExitError(ExitCommandError, "failed to save config", err)
		}
		result.Saved = path
	}

	f := opts.formatter(cmd)
	if f.Format == "json" {
		return f.Success(result)
	}
	fmt.Fprintf(f.Writer, "Logged in as %s (%s)\n", displayName(user), user.ID)
	fmt.Fprintf(f.Writer, "Token: %s\n", token)
	if result.Saved != "" {
		fmt.Fprintf(f.Writer, "Saved to %s\n", result.Saved)
	}
	return nil
}

// NewWhoamiCommand creates the whoami command.
func NewWhoamiCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Print the account commands act on",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			f := rootOpts.formatter(cmd)
			cfg := rootOpts.Config

			if cfg.Backend == config.BackendREST && cfg.REST.Token != "" {
				user, err := newRESTClient(cfg, rootOpts.Logger).Me(ctx)
				if err != nil {
					return WrapExitError(ExitFailure, "whoami failed", err)
				}
				return f.Done(fmt.Sprintf("%s (%s)", displayName(user), user.ID), codec.EncodeUser(user))
			}
			if cfg.Account == "" {
				return NewExitError(ExitFailure, "not signed in")
			}
			return f.Done(cfg.Account, map[string]any{"id": cfg.Account})
		},
	}
}

func displayName(u model.User) string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	if u.Email != "" {
		return u.Email
	}
	return u.ID
}
