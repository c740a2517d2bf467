package sqlbase

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/novotx/elsa-core/pkg/persistence"
)

type scanner interface {
	Scan(dest ...any) error
}

// Store implements persistence.Persistence over a database/sql handle. The schema is created by
// the migrations of the owning backend.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	definitions *DefinitionRepository
	instances   *InstanceRepository
	bookmarks   *BookmarkRepository
	triggers    *TriggerRepository
}

// NewStore wraps db. The store owns db and closes it on Close.
func NewStore(db *sql.DB, dialect Dialect, logger *slog.Logger) *Store {
	q := querier{db: db, dialect: dialect, logger: logger}

	return &Store{
		db:          db,
		logger:      logger,
		definitions: &DefinitionRepository{q},
		instances:   &InstanceRepository{q},
		bookmarks:   &BookmarkRepository{q},
		triggers:    &TriggerRepository{q},
	}
}

// DB returns the underlying handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) WorkflowDefinitionRepository() persistence.WorkflowDefinitionRepository {
	return s.definitions
}

func (s *Store) WorkflowInstanceRepository() persistence.WorkflowInstanceRepository {
	return s.instances
}

func (s *Store) BookmarkRepository() persistence.BookmarkRepository {
	return s.bookmarks
}

func (s *Store) TriggerRepository() persistence.TriggerRepository {
	return s.triggers
}

// HealthCheck verifies the database connection is healthy.
func (s *Store) HealthCheck(ctx context.Context) error {
	err := s.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *Store) Close(_ context.Context) error {
	err := s.db.Close()
	if err != nil {
		return fmt.Errorf("failed to close database connection: %w", err)
	}

	return nil
}

type querier struct {
	db      *sql.DB
	dialect Dialect
	logger  *slog.Logger
}

func (q querier) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return q.db.QueryContext(ctx, q.dialect.Rebind(query), args...)
}

func (q querier) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return q.db.QueryRowContext(ctx, q.dialect.Rebind(query), args...)
}

func (q querier) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return q.db.ExecContext(ctx, q.dialect.Rebind(query), args...)
}

// inTx runs fn in a transaction, rolling back when fn fails.
func (q querier) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	err = fn(tx)
	if err != nil {
		_ = tx.Rollback()

		return err
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (q querier) closeRows(ctx context.Context, rows *sql.Rows) {
	err := rows.Close()
	if err != nil {
		q.logger.ErrorContext(ctx, "failed to close rows", "error", err)
	}
}

// collect scans every row with scan.
func collect[T any](ctx context.Context, q querier, rows *sql.Rows, scan func(scanner) (*T, error)) ([]*T, error) {
	defer q.closeRows(ctx, rows)

	items := make([]*T, 0)

	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, err
		}

		items = append(items, item)
	}

	err := rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return items, nil
}

func rowsAffected(result sql.Result) (int, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return int(n), nil
}

var (
	_ persistence.Persistence = (*Store)(nil)
	_ persistence.IndexStore  = (*Store)(nil)
)
