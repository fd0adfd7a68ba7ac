package database

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"job-queue/pkg/config"
	"job-queue/pkg/job"
	"job-queue/pkg/plans"
)

// Executor is the only thing the command set needs from the store.
// *pgxpool.Pool, *pgx.Conn and pgx.Tx all satisfy it.
type Executor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type Client struct {
	pool            *pgxpool.Pool
	db              Executor
	plans           *plans.Plans
	marker          job.StateMarker
	defaultExpireIn time.Duration
	now             func() time.Time
	logger          *slog.Logger
}

type Option func(*Client)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithStateMarker sets the predicate used to recognise synthetic marker jobs.
func WithStateMarker(m job.StateMarker) Option {
	return func(c *Client) { c.marker = m }
}

// WithDefaultExpireIn sets expire_in for requests that leave it zero.
func WithDefaultExpireIn(d time.Duration) Option {
	return func(c *Client) { c.defaultExpireIn = d }
}

// WithClock overrides the clock used to pick singleton buckets.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

func New(ctx context.Context, cfg config.Database, opts ...Option) (*Client, error) {
	// Parse connection string into pgxpool.Config to allow tweaking settings.
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database URL: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	c, err := NewWithExecutor(pool, cfg.Schema, opts...)
	if err != nil {
		pool.Close()
		return nil, err
	}
	c.pool = pool
	return c, nil
}

// NewWithExecutor builds a client over an existing connection, pool or
// transaction. Close is a no-op for clients built this way.
func NewWithExecutor(db Executor, schema string, opts ...Option) (*Client, error) {
	p, err := plans.New(schema)
	if err != nil {
		return nil, err
	}
	c := &Client{
		db:              db,
		plans:           p,
		marker:          job.DefaultStateMarker(),
		defaultExpireIn: 15 * time.Minute,
		now:             time.Now,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) Close() {
	if c.pool != nil {
		c.pool.Close()
	}
}

func (c *Client) Ping(ctx context.Context) error {
	if c.pool != nil {
		return c.pool.Ping(ctx)
	}
	_, err := c.db.Exec(ctx, "SELECT 1")
	return err
}

func (c *Client) Schema() string { return c.plans.Schema }

// InitSchema creates the schema, tables, enum and indexes if they are
// missing and records the schema version. Concurrent callers serialize on a
// transaction-scoped advisory lock.
func (c *Client) InitSchema(ctx context.Context) error {
	b, ok := c.db.(beginner)
	if !ok {
		return c.initSchema(ctx, c.db)
	}

	tx, err := b.Begin(ctx)
	if err != nil {
		return fmt.Errorf("database: begin init schema: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, lockKey(c.plans.Schema)); err != nil {
		return fmt.Errorf("database: lock schema: %w", err)
	}
	if err := c.initSchema(ctx, tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("database: commit init schema: %w", err)
	}
	c.logger.Info("schema ready", "schema", c.plans.Schema, "version", plans.SchemaVersion)
	return nil
}

func (c *Client) initSchema(ctx context.Context, db Executor) error {
	for _, stmt := range c.plans.Create() {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("database: init schema: %w", err)
		}
	}
	if _, err := db.Exec(ctx, c.plans.InsertVersion, plans.SchemaVersion); err != nil {
		return fmt.Errorf("database: insert version: %w", err)
	}
	return nil
}

// SchemaVersion returns the recorded version, or "" if the schema has not
// been created yet.
func (c *Client) SchemaVersion(ctx context.Context) (string, error) {
	var exists bool
	if err := c.db.QueryRow(ctx, c.plans.VersionTableExists).Scan(&exists); err != nil {
		return "", fmt.Errorf("database: check version table: %w", err)
	}
	if !exists {
		return "", nil
	}
	var version string
	err := c.db.QueryRow(ctx, c.plans.GetVersion).Scan(&version)
	if isNoRows(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("database: get version: %w", err)
	}
	return version, nil
}

func lockKey(schema string) int64 {
	h := fnv.New64a()
	h.Write([]byte("job-queue:" + schema))
	return int64(h.Sum64())
}
