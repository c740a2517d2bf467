// Package sqlite provides the single-node SQLite store for definitions, instances, bookmarks and triggers.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/novotx/elsa-core/pkg/persistence/sqlbase"
	_ "modernc.org/sqlite"
)

// Persistence implements the persistence layer on a SQLite database file.
type Persistence struct {
	*sqlbase.Store

	path string
}

// NewPersistence opens (or creates) the database at path and migrates the schema.
// SQLite allows one writer at a time, so the pool holds a single connection.
func NewPersistence(ctx context.Context, logger *slog.Logger, path string) (*Persistence, error) {
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		_, err = db.ExecContext(ctx, pragma)
		if err != nil {
			_ = db.Close()

			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	logger = logger.With("module", "sqlite_persistence", "path", path)

	err = sqlbase.NewMigrationManager(logger, db, sqlbase.SQLite, migrations()).RunMigrations(ctx)
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{Store: sqlbase.NewStore(db, sqlbase.SQLite, logger), path: path}, nil
}

// Path returns the database location.
func (p *Persistence) Path() string {
	return p.path
}

// dsn stores timestamps in the SQLite text format so they sort and parse consistently.
func dsn(path string) string {
	if strings.Contains(path, "?") {
		return path + "&_time_format=sqlite"
	}

	return path + "?_time_format=sqlite"
}

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE workflow_definitions (
				id TEXT PRIMARY KEY,
				definition_id TEXT NOT NULL,
				name TEXT NOT NULL DEFAULT '',
				version INTEGER NOT NULL,
				is_latest BOOLEAN NOT NULL DEFAULT 0,
				is_published BOOLEAN NOT NULL DEFAULT 0,
				string_data TEXT NOT NULL,
				materializer_name TEXT NOT NULL,
				activation_strategy TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP NOT NULL
			);

			CREATE INDEX idx_workflow_definitions_definition_id ON workflow_definitions(definition_id, version);
			CREATE INDEX idx_workflow_definitions_published ON workflow_definitions(is_published);

			CREATE TABLE workflow_instances (
				id TEXT PRIMARY KEY,
				definition_id TEXT NOT NULL,
				definition_version INTEGER NOT NULL,
				correlation_id TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL,
				data TEXT NOT NULL,
				created_at TIMESTAMP NOT NULL,
				updated_at TIMESTAMP NOT NULL
			);

			CREATE INDEX idx_workflow_instances_definition ON workflow_instances(definition_id, definition_version);
			CREATE INDEX idx_workflow_instances_correlation_id ON workflow_instances(correlation_id);
			CREATE INDEX idx_workflow_instances_status ON workflow_instances(status);
		`,
		2: `
			CREATE TABLE bookmarks (
				bookmark_id TEXT PRIMARY KEY,
				hash TEXT NOT NULL,
				activity_type_name TEXT NOT NULL,
				workflow_instance_id TEXT NOT NULL,
				correlation_id TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP NOT NULL
			);

			CREATE INDEX idx_bookmarks_hash ON bookmarks(hash);
			CREATE INDEX idx_bookmarks_instance ON bookmarks(workflow_instance_id);

			CREATE TABLE triggers (
				id TEXT PRIMARY KEY,
				workflow_definition_id TEXT NOT NULL,
				activity_id TEXT NOT NULL,
				activity_type_name TEXT NOT NULL,
				hash TEXT NOT NULL,
				payload TEXT NOT NULL DEFAULT ''
			);

			CREATE INDEX idx_triggers_hash ON triggers(hash);
			CREATE INDEX idx_triggers_definition ON triggers(workflow_definition_id);
			CREATE INDEX idx_triggers_activity_type ON triggers(activity_type_name);
		`,
	}
}
