// Package postgres implements the store.Store interface backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lib/pq"

	"github.com/alfredjeanlab/coedit/internal/idgen"
	"github.com/alfredjeanlab/coedit/internal/model"
	"github.com/alfredjeanlab/coedit/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// foreignKeyViolation is the SQLSTATE raised when a participant row
// references a missing session.
const foreignKeyViolation = "23503"

// PostgresStore implements store.Store backed by a PostgreSQL database.
type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
}

// Compile-time check that PostgresStore implements store.Store.
var _ store.Store = (*PostgresStore)(nil)

// New opens a connection to the PostgreSQL database at the given URL,
// configures the connection pool, and runs any pending migrations.
func New(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return newWithDB(db), nil
}

func newWithDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func runMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// CreateSession inserts the session row and the creator's roster entry in
// one transaction.
func (s *PostgresStore) CreateSession(ctx context.Context, creatorID, code string) (*model.Session, error) {
	id, err := idgen.SessionID()
	if err != nil {
		return nil, store.Wrap("create session", err)
	}
	now := s.now()
	sess := &model.Session{
		ID:        id,
		CreatorID: creatorID,
		Code:      code,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = s.runInTransaction(ctx, func(tx executor) error {
		if err := queryCreateSession(ctx, tx, sess); err != nil {
			return err
		}
		return queryAddParticipant(ctx, tx, id, creatorID, model.RoleCreator, now)
	})
	if err != nil {
		return nil, store.Wrap("create session", err)
	}
	return sess, nil
}

func (s *PostgresStore) GetSession(ctx context.Context, id string) (*model.Session, error) {
	sess, err := queryGetSession(ctx, s.db, id)
	if err != nil {
		return nil, mapError("get session", id, err)
	}
	return sess, nil
}

func (s *PostgresStore) ListSessions(ctx context.Context) ([]*model.Session, error) {
	sessions, err := queryListSessions(ctx, s.db)
	if err != nil {
		return nil, store.Wrap("list sessions", err)
	}
	return sessions, nil
}

func (s *PostgresStore) SetCode(ctx context.Context, id, code string) error {
	return mapError("set code", id, querySetCode(ctx, s.db, id, code, s.now()))
}

func (s *PostgresStore) SetLocked(ctx context.Context, id string, locked bool) error {
	return mapError("set locked", id, querySetLocked(ctx, s.db, id, locked, s.now()))
}

func (s *PostgresStore) AddParticipant(ctx context.Context, sessionID, name string, role model.Role) error {
	return mapError("add participant", sessionID, queryAddParticipant(ctx, s.db, sessionID, name, role, s.now()))
}

func (s *PostgresStore) RemoveParticipant(ctx context.Context, sessionID, name string) error {
	return store.Wrap("remove participant", queryRemoveParticipant(ctx, s.db, sessionID, name))
}

func (s *PostgresStore) ListParticipants(ctx context.Context, sessionID string) ([]string, error) {
	names, err := queryListParticipants(ctx, s.db, sessionID)
	if err != nil {
		return nil, store.Wrap("list participants", err)
	}
	return names, nil
}

// runInTransaction begins a database transaction, calls fn with it, and
// commits on success or rolls back on error.
func (s *PostgresStore) runInTransaction(ctx context.Context, fn func(tx executor) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// mapError translates missing rows and dangling foreign keys into
// store.ErrNotFound and wraps everything else as a *store.Error.
func mapError(op, sessionID string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", op, sessionID, store.ErrNotFound)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == foreignKeyViolation {
		return fmt.Errorf("%s %s: %w", op, sessionID, store.ErrNotFound)
	}
	return store.Wrap(op, err)
}
