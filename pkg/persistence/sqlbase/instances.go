package sqlbase

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/novotx/elsa-core/pkg/models"
	"github.com/novotx/elsa-core/pkg/persistence"
)

// InstanceRepository stores instance snapshots in workflow_instances. The full state is kept as
// JSON next to the columns used for filtering.
type InstanceRepository struct {
	q querier
}

func scanInstance(row scanner) (*models.WorkflowState, error) {
	var (
		id   string
		data []byte
	)

	err := row.Scan(&id, &data)
	if err != nil {
		return nil, err
	}

	state, err := models.UnmarshalWorkflowState(data)
	if err != nil {
		return nil, persistence.NewStoreError("Scan", "instance", id, fmt.Errorf("%w: %w", persistence.ErrCorruptRecord, err))
	}

	return state, nil
}

func (r *InstanceRepository) Save(ctx context.Context, state *models.WorkflowState) error {
	if state.ID == "" {
		return persistence.NewStoreError("Save", "instance", "", persistence.ErrMissingID)
	}

	data, err := state.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal workflow state %s: %w", state.ID, err)
	}

	query := `
		INSERT INTO workflow_instances (id, definition_id, definition_version, correlation_id, status, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			definition_id = excluded.definition_id,
			definition_version = excluded.definition_version,
			correlation_id = excluded.correlation_id,
			status = excluded.status,
			data = excluded.data,
			updated_at = excluded.updated_at
	`

	_, err = r.q.exec(ctx, query,
		state.ID,
		state.DefinitionID,
		state.DefinitionVersion,
		state.CorrelationID,
		string(state.Status),
		string(data),
		state.CreatedAt.UTC(),
		state.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save workflow instance %s: %w", state.ID, err)
	}

	return nil
}

func (r *InstanceRepository) FindByID(ctx context.Context, id string) (*models.WorkflowState, error) {
	state, err := scanInstance(r.q.queryRow(ctx, `SELECT id, data FROM workflow_instances WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to scan workflow instance: %w", err)
	}

	return state, nil
}

func (r *InstanceRepository) Find(ctx context.Context, filter models.InstanceFilter) ([]*models.WorkflowState, error) {
	var (
		conditions = []string{"1 = 1"}
		args       []any
	)

	if filter.DefinitionID != "" {
		conditions = append(conditions, "definition_id = ?")
		args = append(args, filter.DefinitionID)
	}

	if filter.Version > 0 {
		conditions = append(conditions, "definition_version = ?")
		args = append(args, filter.Version)
	}

	if filter.CorrelationID != "" {
		conditions = append(conditions, "correlation_id = ?")
		args = append(args, filter.CorrelationID)
	}

	if len(filter.Statuses) > 0 {
		conditions = append(conditions, "status IN "+In(len(filter.Statuses)))
		for _, status := range filter.Statuses {
			args = append(args, string(status))
		}
	}

	query := `SELECT id, data FROM workflow_instances WHERE ` + strings.Join(conditions, " AND ") + ` ORDER BY created_at, id`

	rows, err := r.q.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflow instances: %w", err)
	}

	return collect(ctx, r.q, rows, scanInstance)
}

func (r *InstanceRepository) DeleteByDefinitionID(ctx context.Context, definitionID string) (int, error) {
	result, err := r.q.exec(ctx, `DELETE FROM workflow_instances WHERE definition_id = ?`, definitionID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete workflow instances: %w", err)
	}

	return rowsAffected(result)
}
