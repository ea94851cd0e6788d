package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"github.com/roach88/tasksync/internal/doc"
	"github.com/roach88/tasksync/internal/remote"
)

//go:embed migrations/*.sql
var migrations embed.FS

// goose keeps its dialect and filesystem in package globals.
var gooseMu sync.Mutex

// DefaultPollInterval is how often subscriptions check the collection
// version for writes made by other processes.
const DefaultPollInterval = 500 * time.Millisecond

// Option configures a Store.
type Option func(*Store)

// WithPollInterval sets the cross-process poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithLogger sets the logger used for subscription diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store is a SQLite-backed remote.Store.
type Store struct {
	db           *sql.DB
	pollInterval time.Duration
	logger       *slog.Logger

	mu     sync.Mutex
	subs   map[*watcher]struct{}
	closed bool
	wg     sync.WaitGroup
}

var _ remote.Store = (*Store)(nil)

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//
// This function is idempotent - safe to call multiple times.
func Open(path string, opts ...Option) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	s := &Store{
		db:           db,
		pollInterval: DefaultPollInterval,
		logger:       slog.Default(),
		subs:         make(map[*watcher]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// migrate runs database migrations using embedded SQL files
func migrate(db *sql.DB) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetLogger(log.New(io.Discard, "", 0))
	goose.SetBaseFS(migrations)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}

	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}

// Close ends all subscriptions and closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	watchers := make([]*watcher, 0, len(s.subs))
	for w := range s.subs {
		watchers = append(watchers, w)
	}
	s.subs = make(map[*watcher]struct{})
	s.mu.Unlock()

	for _, w := range watchers {
		w.Cancel()
	}
	s.wg.Wait()
	return s.db.Close()
}

func (s *Store) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Get implements remote.Store.
func (s *Store) Get(ctx context.Context, path doc.Path) (doc.Map, error) {
	if err := path.Validate(true); err != nil {
		return nil, err
	}
	if s.isClosed() {
		return nil, remote.ErrClosed
	}

	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM documents WHERE path = ?`, path.String()).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get %s: %w", path, remote.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", path, err)
	}
	m, err := doc.Unmarshal([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("get %s: %w: %w", path, remote.ErrMalformed, err)
	}
	return m, nil
}

// Set implements remote.Store.
func (s *Store) Set(ctx context.Context, path doc.Path, data doc.Map) error {
	return s.write(ctx, path, func(tx *sql.Tx) (bool, error) {
		return true, upsert(ctx, tx, path, data)
	})
}

// Merge implements remote.Store.
func (s *Store) Merge(ctx context.Context, path doc.Path, data doc.Map) error {
	return s.write(ctx, path, func(tx *sql.Tx) (bool, error) {
		var existing doc.Map
		var raw string
		err := tx.QueryRowContext(ctx, `SELECT data FROM documents WHERE path = ?`, path.String()).Scan(&raw)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return false, err
		default:
			if existing, err = doc.Unmarshal([]byte(raw)); err != nil {
				return false, err
			}
		}
		return true, upsert(ctx, tx, path, remote.MergeFields(existing, data))
	})
}

// Delete implements remote.Store.
func (s *Store) Delete(ctx context.Context, path doc.Path) error {
	return s.write(ctx, path, func(tx *sql.Tx) (bool, error) {
		res, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE path = ?`, path.String())
		if err != nil {
			return false, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return false, err
		}
		return n > 0, nil
	})
}

// List implements remote.Store.
func (s *Store) List(ctx context.Context, col doc.Path) (remote.Snapshot, error) {
	if err := col.Validate(false); err != nil {
		return nil, err
	}
	if s.isClosed() {
		return nil, remote.ErrClosed
	}
	_, snap, err := s.read(ctx, col)
	return snap, err
}

// write runs fn in a transaction. When fn reports a change, the collection
// version is bumped in the same transaction and local subscribers are woken
// after commit.
func (s *Store) write(ctx context.Context, path doc.Path, fn func(*sql.Tx) (bool, error)) error {
	if err := path.Validate(true); err != nil {
		return err
	}
	if s.isClosed() {
		return remote.ErrClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write %s: begin: %w", path, err)
	}

	changed, err := fn(tx)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if changed {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO collection_versions (account_id, collection, version) VALUES (?, ?, 1)
			ON CONFLICT(account_id, collection) DO UPDATE SET version = version + 1`,
			path.AccountID, path.Collection)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("write %s: bump version: %w", path, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write %s: commit: %w", path, err)
	}

	if changed {
		s.wake(path.CollectionPath())
	}
	return nil
}

func upsert(ctx context.Context, tx *sql.Tx, path doc.Path, data doc.Map) error {
	canonical, err := doc.MarshalCanonical(data)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	rev, err := doc.Revision(data)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (path, account_id, collection, doc_id, data, revision, created_seq)
		VALUES (?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(created_seq), 0) + 1 FROM documents))
		ON CONFLICT(path) DO UPDATE SET data = excluded.data, revision = excluded.revision`,
		path.String(), path.AccountID, path.Collection, path.DocumentID, string(canonical), rev)
	return err
}

// read returns the collection version and contents from one consistent
// read transaction.
func (s *Store) read(ctx context.Context, col doc.Path) (int64, remote.Snapshot, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("list %s: begin: %w", col, err)
	}
	defer tx.Rollback()

	var version int64
	err = tx.QueryRowContext(ctx,
		`SELECT version FROM collection_versions WHERE account_id = ? AND collection = ?`,
		col.AccountID, col.Collection).Scan(&version)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, nil, fmt.Errorf("list %s: version: %w", col, err)
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT doc_id, data FROM documents
		WHERE account_id = ? AND collection = ?
		ORDER BY created_seq`,
		col.AccountID, col.Collection)
	if err != nil {
		return 0, nil, fmt.Errorf("list %s: %w", col, err)
	}
	defer rows.Close()

	snap := remote.Snapshot{}
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return 0, nil, fmt.Errorf("list %s: scan: %w", col, err)
		}
		data, err := doc.Unmarshal([]byte(raw))
		if err != nil {
			return 0, nil, fmt.Errorf("list %s: document %s: %w: %w", col, id, remote.ErrMalformed, err)
		}
		snap = append(snap, remote.Document{ID: id, Data: data})
	}
	if err := rows.Err(); err != nil {
		return 0, nil, fmt.Errorf("list %s: %w", col, err)
	}
	return version, snap, nil
}
