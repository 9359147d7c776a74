// Package postgres persists tasks, scraped items and API keys in Postgres.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/scrapeflow/internal/task"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// Config controls the Postgres connection pool and table names.
type Config struct {
	DSN             string
	TasksTable      string
	ItemsTable      string
	KeysTable       string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// Tables names the three tables the store reads and writes.
type Tables struct {
	Tasks string
	Items string
	Keys  string
}

func (t Tables) withDefaults() (Tables, error) {
	if t.Tasks == "" {
		t.Tasks = "scraping_tasks"
	}
	if t.Items == "" {
		t.Items = "scraped_data"
	}
	if t.Keys == "" {
		t.Keys = "api_keys"
	}
	for _, name := range []string{t.Tasks, t.Items, t.Keys} {
		if !validTableName.MatchString(name) {
			return Tables{}, fmt.Errorf("invalid table name %q", name)
		}
	}
	return t, nil
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Ping(context.Context) error
	Close()
}

// Store implements task.Store and task.KeyStore on a pgx pool.
type Store struct {
	pool   pool
	tables Tables
	clock  task.Clock
}

// NewStore connects a pgx pool using cfg.
func NewStore(ctx context.Context, cfg Config, clock task.Clock) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.postgres.dsn is required")
	}
	tables, err := Tables{Tasks: cfg.TasksTable, Items: cfg.ItemsTable, Keys: cfg.KeysTable}.withDefaults()
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: p, tables: tables, clock: clock}, nil
}

// NewStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewStoreWithPool(p pool, tables Tables, clock task.Clock) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	t, err := tables.withDefaults()
	if err != nil {
		return nil, err
	}
	return &Store{pool: p, tables: t, clock: clock}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: ping postgres: %w", task.ErrStore, err)
	}
	return nil
}

// EnsureSchema creates the tables when they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id uuid PRIMARY KEY,
	user_id text NOT NULL,
	url text NOT NULL,
	status text NOT NULL,
	completed integer NOT NULL DEFAULT 0,
	total integer NOT NULL DEFAULT 0,
	credits_used integer NOT NULL DEFAULT 0,
	expires_at timestamptz,
	created_at timestamptz NOT NULL,
	updated_at timestamptz NOT NULL
)`, s.tables.Tasks),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_user_created_idx ON %s (user_id, created_at DESC)`,
			s.tables.Tasks, s.tables.Tasks),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id bigserial PRIMARY KEY,
	task_id uuid NOT NULL REFERENCES %s (id) ON DELETE CASCADE,
	data jsonb NOT NULL,
	created_at timestamptz NOT NULL
)`, s.tables.Items, s.tables.Tasks),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_task_idx ON %s (task_id, id)`, s.tables.Items, s.tables.Items),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	key text PRIMARY KEY,
	user_id text NOT NULL,
	is_active boolean NOT NULL DEFAULT true,
	last_used timestamptz
)`, s.tables.Keys),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
