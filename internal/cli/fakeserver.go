package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/tasksync/internal/remote/rest/restfake"
)

// FakeServerOptions holds flags for the fake-server command.
type FakeServerOptions struct {
	*RootOptions
	Addr         string
	SeedName     string
	SeedEmail    string
	SeedPassword string
}

// NewFakeServerCommand creates the fake-server command.
func NewFakeServerCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FakeServerOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "fake-server",
		Short: "Serve an in-memory project API",
		Long: `Serve an in-memory implementation of the project REST API, for trying
the rest backend without a real server. State is lost on exit.

Example:
  tasksync fake-server --addr :8080 --seed-email ana@example.com --seed-password secret`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFakeServer(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&opts.SeedName, "seed-name", "Demo", "display name of the seeded account")
	cmd.Flags().StringVar(&opts.SeedEmail, "seed-email", "", "create an account with this email at startup")
	cmd.Flags().StringVar(&opts.SeedPassword, "seed-password", "", "password of the seeded account")

	return cmd
}

func runFakeServer(opts *FakeServerOptions, cmd *cobra.Command) error {
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			opts.Logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	fake := restfake.New()
	out := cmd.OutOrStdout()
	if opts.SeedEmail != "" {
		id, token := fake.SeedUser(opts.SeedName, opts.SeedEmail, opts.SeedPassword)
		fmt.Fprintf(out, "Seeded account %s token %s\n", id, token)
	}

	ln, err := net.Listen("tcp", opts.Addr)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}
	srv := &http.Server{
		Handler:           fake,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ln) }()
	opts.Logger.Info("fake server listening", "addr", ln.Addr().String())
	fmt.Fprintf(out, "Listening on http://%s\n", ln.Addr())

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return WrapExitError(ExitFailure, "server error", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, stop := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return WrapExitError(ExitFailure, "shutdown failed", err)
	}
	opts.Logger.Info("fake server stopped")
	return nil
}
