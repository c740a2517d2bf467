package sqlbase

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/novotx/elsa-core/pkg/models"
	"github.com/novotx/elsa-core/pkg/persistence"
)

const definitionColumns = `
	id
  , definition_id
  , name
  , version
  , is_latest
  , is_published
  , string_data
  , materializer_name
  , activation_strategy
  , created_at
`

// DefinitionRepository stores definition versions in workflow_definitions.
type DefinitionRepository struct {
	q querier
}

func scanDefinition(row scanner) (*models.WorkflowDefinition, error) {
	var (
		d        models.WorkflowDefinition
		strategy string
	)

	err := row.Scan(
		&d.ID,
		&d.DefinitionID,
		&d.Name,
		&d.Version,
		&d.IsLatest,
		&d.IsPublished,
		&d.StringData,
		&d.MaterializerName,
		&strategy,
		&d.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.ActivationStrategy = models.ActivationStrategy(strategy)
	d.CreatedAt = d.CreatedAt.UTC()

	return &d, nil
}

func (r *DefinitionRepository) findOne(ctx context.Context, query string, args ...any) (*models.WorkflowDefinition, error) {
	definition, err := scanDefinition(r.q.queryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to scan workflow definition: %w", err)
	}

	return definition, nil
}

func (r *DefinitionRepository) findMany(ctx context.Context, query string, args ...any) ([]*models.WorkflowDefinition, error) {
	rows, err := r.q.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflow definitions: %w", err)
	}

	return collect(ctx, r.q, rows, scanDefinition)
}

func (r *DefinitionRepository) FindByID(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	return r.findOne(ctx, `SELECT `+definitionColumns+` FROM workflow_definitions WHERE id = ?`, id)
}

func (r *DefinitionRepository) FindByDefinitionID(ctx context.Context, definitionID string, opts models.VersionOptions) (*models.WorkflowDefinition, error) {
	var (
		filter string
		args   = []any{definitionID}
	)

	switch {
	case opts.Latest && opts.Published:
		filter = "(is_latest = ? OR is_published = ?)"
		args = append(args, true, true)
	case opts.Latest:
		filter = "is_latest = ?"
		args = append(args, true)
	case opts.Published:
		filter = "is_published = ?"
		args = append(args, true)
	default:
		filter = "version = ?"
		args = append(args, opts.Version)
	}

	query := `SELECT ` + definitionColumns + ` FROM workflow_definitions
		WHERE definition_id = ? AND ` + filter + `
		ORDER BY version DESC
		LIMIT 1`

	return r.findOne(ctx, query, args...)
}

func (r *DefinitionRepository) FindLatestAndPublished(ctx context.Context, definitionID string) ([]*models.WorkflowDefinition, error) {
	return r.findMany(ctx, `SELECT `+definitionColumns+` FROM workflow_definitions
		WHERE definition_id = ? AND (is_latest = ? OR is_published = ?)
		ORDER BY version`, definitionID, true, true)
}

func (r *DefinitionRepository) ListPublished(ctx context.Context) ([]*models.WorkflowDefinition, error) {
	return r.findMany(ctx, `SELECT `+definitionColumns+` FROM workflow_definitions
		WHERE is_published = ?
		ORDER BY definition_id, version`, true)
}

func (r *DefinitionRepository) Save(ctx context.Context, d *models.WorkflowDefinition) error {
	if d.ID == "" {
		return persistence.NewStoreError("Save", "definition", "", persistence.ErrMissingID)
	}

	query := `
		INSERT INTO workflow_definitions (` + definitionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			definition_id = excluded.definition_id,
			name = excluded.name,
			version = excluded.version,
			is_latest = excluded.is_latest,
			is_published = excluded.is_published,
			string_data = excluded.string_data,
			materializer_name = excluded.materializer_name,
			activation_strategy = excluded.activation_strategy
	`

	_, err := r.q.exec(ctx, query,
		d.ID,
		d.DefinitionID,
		d.Name,
		d.Version,
		d.IsLatest,
		d.IsPublished,
		d.StringData,
		d.MaterializerName,
		string(d.ActivationStrategy),
		d.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save workflow definition %s: %w", d.ID, err)
	}

	return nil
}

func (r *DefinitionRepository) DeleteByDefinitionID(ctx context.Context, definitionID string) (int, error) {
	result, err := r.q.exec(ctx, `DELETE FROM workflow_definitions WHERE definition_id = ?`, definitionID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete workflow definitions: %w", err)
	}

	return rowsAffected(result)
}
