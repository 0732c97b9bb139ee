package db

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is the single handle to the four record collections. It is owned by
// whoever opened it and must be closed by the same owner.
type Store struct {
	db *sql.DB
	ops
}

var testSeq atomic.Uint64

func Open(dbPath string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?mode=rwc&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", dbPath)
	return open(dsn)
}

// OpenForTesting opens an isolated in-memory store with every migration
// applied. Each call gets its own database.
func OpenForTesting() (*Store, error) {
	dsn := fmt.Sprintf("file:manholedex_test_%d?mode=memory&cache=shared&_pragma=foreign_keys(1)", testSeq.Add(1))
	return open(dsn)
}

func open(dsn string) (*Store, error) {
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", classify(err))
	}
	// One UI thread issues every read and write.
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", classify(err))
	}

	if err := runMigrations(sqlDB); err != nil {
		if cerr := sqlDB.Close(); cerr != nil {
			return nil, fmt.Errorf("failed to run migrations: %w (also failed to close db: %v)", err, cerr)
		}
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Store{db: sqlDB, ops: ops{q: sqlDB}}, nil
}

// runMigrations creates any collection missing from the database. Every
// migration is additive, so running it on each launch is safe.
func runMigrations(sqlDB *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	driver, err := migratesqlite.WithInstance(sqlDB, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", classify(err))
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", classify(err))
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Tx is a transaction spanning all four collections.
type Tx struct {
	ops
}

// Clear removes every record from collection c.
func (t *Tx) Clear(ctx context.Context, c Collection) error {
	table, err := c.table()
	if err != nil {
		return err
	}
	if _, err := t.q.ExecContext(ctx, "DELETE FROM "+table); err != nil {
		return fmt.Errorf("failed to clear %s: %w", c, classify(err))
	}
	return nil
}

// Update runs fn inside a single transaction. Either every write made
// through the Tx is committed or none is. fn must not use the Store itself
// while the transaction is open.
func (s *Store) Update(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", classify(err))
	}

	if err := fn(&Tx{ops: ops{q: sqlTx}}); err != nil {
		if rerr := sqlTx.Rollback(); rerr != nil {
			return fmt.Errorf("%w (also failed to roll back: %v)", err, rerr)
		}
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", classify(err))
	}
	return nil
}
