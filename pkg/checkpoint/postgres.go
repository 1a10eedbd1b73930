package checkpoint

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx driver for database/sql
)

//go:embed migrations
var migrationsFS embed.FS

// PostgresStore is the durable checkpoint backend. One row per thread;
// the state body is stored as JSONB so schema churn stays in Go.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore opens the database, runs migrations, and returns the
// store.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromDB wraps an existing connection (used by tests).
// Migrations are still applied.
func NewPostgresStoreFromDB(db *sql.DB) (*PostgresStore, error) {
	if err := runMigrations(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	source, err := iofs.New(sub, ".")
	if err != nil {
		return err
	}
	driver, err := migratepg.WithInstance(db, &migratepg.Config{
		MigrationsTable: "checkpoint_schema_migrations",
	})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// GetState returns the snapshot for a thread, or ErrNotFound.
func (s *PostgresStore) GetState(ctx context.Context, threadID string) (*State, error) {
	var (
		body      []byte
		updatedAt time.Time
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT state, updated_at FROM react_checkpoints WHERE thread_id = $1`,
		threadID).Scan(&body, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	var st State
	if err := json.Unmarshal(body, &st); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
	}
	st.ThreadID = threadID
	st.UpdatedAt = updatedAt
	return &st, nil
}

// UpdateState applies a partial update inside a transaction so concurrent
// writers to the same thread serialize on the row.
func (s *PostgresStore) UpdateState(ctx context.Context, threadID string, patch Patch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	st := &State{ThreadID: threadID}
	var body []byte
	err = tx.QueryRowContext(ctx,
		`SELECT state FROM react_checkpoints WHERE thread_id = $1 FOR UPDATE`,
		threadID).Scan(&body)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// New thread, start from the zero state.
	case err != nil:
		return fmt.Errorf("failed to load checkpoint for update: %w", err)
	default:
		if err := json.Unmarshal(body, st); err != nil {
			return fmt.Errorf("failed to decode checkpoint: %w", err)
		}
		st.ThreadID = threadID
	}

	now := time.Now().UTC()
	st.apply(patch, now)

	encoded, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO react_checkpoints (thread_id, state, updated_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (thread_id) DO UPDATE SET state = $2, updated_at = $3`,
		threadID, encoded, now)
	if err != nil {
		return fmt.Errorf("failed to store checkpoint: %w", err)
	}
	return tx.Commit()
}

// Delete removes one thread's checkpoint, or all when threadID is empty.
func (s *PostgresStore) Delete(ctx context.Context, threadID string) error {
	var err error
	if threadID == "" {
		_, err = s.db.ExecContext(ctx, `DELETE FROM react_checkpoints`)
	} else {
		_, err = s.db.ExecContext(ctx,
			`DELETE FROM react_checkpoints WHERE thread_id = $1`, threadID)
	}
	if err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}
