package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/tasksync/internal/config"
	"github.com/roach88/tasksync/internal/remote"
	"github.com/roach88/tasksync/internal/remote/memory"
	"github.com/roach88/tasksync/internal/remote/mongo"
	"github.com/roach88/tasksync/internal/remote/rest"
	"github.com/roach88/tasksync/internal/remote/sqlite"
)

// StoreOpener opens the configured backend. Tests replace it to inject a
// shared store.
type StoreOpener func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (remote.Store, error)

// OpenStore is the default StoreOpener.
func OpenStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (remote.Store, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return memory.New(), nil
	case config.BackendSQLite:
		st, err := sqlite.Open(cfg.SQLite.Path,
			sqlite.WithPollInterval(cfg.SQLite.PollInterval.Std()),
			sqlite.WithLogger(logger),
		)
		if err != nil {
			return nil, err
		}
		return st, nil
	case config.BackendMongo:
		st, err := mongo.Connect(ctx, mongo.Config{
			URI:        cfg.Mongo.URI,
			Database:   cfg.Mongo.Database,
			Collection: cfg.Mongo.Collection,
		}, logger)
		if err != nil {
			return nil, err
		}
		return st, nil
	case config.BackendREST:
		return rest.NewStore(newRESTClient(cfg, logger),
			rest.WithPollInterval(cfg.REST.PollInterval.Std()),
			rest.WithLogger(logger),
		), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

func newRESTClient(cfg *config.Config, logger *slog.Logger) *rest.Client {
	return rest.NewClient(rest.ClientConfig{
		BaseURL: cfg.REST.BaseURL,
		Token:   cfg.REST.Token,
		Timeout: cfg.REST.Timeout.Std(),
		Logger:  logger,
	})
}

// resolveAccount returns the account to attach. The REST backend asks the
// server who owns the token when no account is configured.
func resolveAccount(ctx context.Context, cfg *config.Config, store remote.Store) (string, error) {
	if cfg.Account != "" {
		return cfg.Account, nil
	}
	if rs, ok := store.(*rest.Store); ok && rs.Client().Token() != "" {
		user, err := rs.Client().Me(ctx)
		if err != nil {
			return "", fmt.Errorf("resolve account: %w", err)
		}
		return user.ID, nil
	}
	return "", errors.New("no account configured: set account in the config file, TASKSYNC_ACCOUNT or --account")
}
