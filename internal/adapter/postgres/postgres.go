package postgres

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/tern/v2/migrate"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

const (
	// migrationLockID is the advisory lock serializing migrations across replicas
	// and admin runs. Value: 0x636f64656376 ("codecv" in ASCII hex).
	migrationLockID      = 0x636f64656376
	migrationUnlockAfter = 5 * time.Second
	schemaVersionTable   = "public.schema_version"
)

// ConnectOption tunes the pool built by Connect.
type ConnectOption func(*pgxpool.Config)

// WithTracer reports every query to tracer.
func WithTracer(tracer pgx.QueryTracer) ConnectOption {
	return func(cfg *pgxpool.Config) { cfg.ConnConfig.Tracer = tracer }
}

// WithApplicationName tags the pool's sessions in pg_stat_activity, so the API
// and the admin tool can be told apart.
func WithApplicationName(name string) ConnectOption {
	return func(cfg *pgxpool.Config) { cfg.ConnConfig.RuntimeParams["application_name"] = name }
}

// Connect opens a pool and pings it once.
func Connect(ctx context.Context, databaseURL string, opts ...ConnectOption) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	for _, opt := range opts {
		opt(cfg)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	slog.Info("Database connected",
		"host", cfg.ConnConfig.Host,
		"database", cfg.ConnConfig.Database,
		"tls", cfg.ConnConfig.TLSConfig != nil,
		"max_conns", cfg.MaxConns)
	return pool, nil
}

// MigrationState compares the applied schema version with the embedded migrations.
type MigrationState struct {
	Current int32
	Latest  int32
}

func (s MigrationState) Pending() int32 { return s.Latest - s.Current }

func newMigrator(ctx context.Context, conn *pgx.Conn) (*migrate.Migrator, error) {
	files, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations: %w", err)
	}
	m, err := migrate.NewMigrator(ctx, conn, schemaVersionTable)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}
	if err := m.LoadMigrations(files); err != nil {
		return nil, fmt.Errorf("failed to load migrations: %w", err)
	}
	return m, nil
}

func state(ctx context.Context, m *migrate.Migrator) (MigrationState, error) {
	current, err := m.GetCurrentVersion(ctx)
	if err != nil {
		return MigrationState{}, fmt.Errorf("failed to read schema version: %w", err)
	}
	return MigrationState{Current: current, Latest: int32(len(m.Migrations))}, nil
}

// MigrationStatus reports the schema version without changing anything.
func MigrationStatus(ctx context.Context, pool *pgxpool.Pool) (MigrationState, error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return MigrationState{}, fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Release()

	m, err := newMigrator(ctx, conn.Conn())
	if err != nil {
		return MigrationState{}, err
	}
	return state(ctx, m)
}

// RunMigrationsWithLock applies pending migrations under migrationLockID.
func RunMigrationsWithLock(ctx context.Context, pool *pgxpool.Pool) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection for migration: %w", err)
	}
	defer conn.Release()

	return withAdvisoryLock(ctx, conn.Conn(), migrationLockID, func() error {
		m, err := newMigrator(ctx, conn.Conn())
		if err != nil {
			return err
		}
		before, err := state(ctx, m)
		if err != nil {
			return err
		}
		if before.Pending() <= 0 {
			slog.Info("Database schema up to date", "version", before.Current)
			return nil
		}

		m.OnStart = func(sequence int32, name, _, _ string) {
			slog.Info("Applying migration", "sequence", sequence, "name", name)
		}
		if err := m.Migrate(ctx); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
		slog.Info("Database migrated", "from", before.Current, "to", before.Latest)
		return nil
	})
}

// withAdvisoryLock runs fn while conn holds the session-level lock id. The
// unlock gets its own deadline so a cancelled ctx still releases the lock.
func withAdvisoryLock(ctx context.Context, conn *pgx.Conn, id int64, fn func() error) error {
	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", id); err != nil {
		return fmt.Errorf("failed to acquire advisory lock %d: %w", id, err)
	}
	defer func() {
		unlockCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), migrationUnlockAfter)
		defer cancel()
		if _, err := conn.Exec(unlockCtx, "SELECT pg_advisory_unlock($1)", id); err != nil {
			slog.Error("Failed to release advisory lock", "lock_id", id, "error", err)
		}
	}()
	return fn()
}
