package sqlbase

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/novotx/elsa-core/pkg/models"
	"github.com/novotx/elsa-core/pkg/persistence"
)

// BookmarkRepository is the bookmark index kept in the bookmarks table.
type BookmarkRepository struct {
	q querier
}

func scanStoredBookmark(row scanner) (*models.StoredBookmark, error) {
	var b models.StoredBookmark

	err := row.Scan(&b.BookmarkID, &b.Hash, &b.ActivityTypeName, &b.WorkflowInstanceID, &b.CorrelationID, &b.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan bookmark: %w", err)
	}

	b.CreatedAt = b.CreatedAt.UTC()

	return &b, nil
}

func (r *BookmarkRepository) FindByHash(ctx context.Context, hash string) ([]*models.StoredBookmark, error) {
	rows, err := r.q.query(ctx, `
		SELECT bookmark_id, hash, activity_type_name, workflow_instance_id, correlation_id, created_at
		FROM bookmarks
		WHERE hash = ?
		ORDER BY created_at, bookmark_id`, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to query bookmarks: %w", err)
	}

	return collect(ctx, r.q, rows, scanStoredBookmark)
}

func (r *BookmarkRepository) Save(ctx context.Context, bookmarks []*models.StoredBookmark) error {
	for _, b := range bookmarks {
		if b.BookmarkID == "" {
			return persistence.NewStoreError("Save", "bookmark", b.Hash, persistence.ErrMissingID)
		}
	}

	query := r.q.dialect.Rebind(`
		INSERT INTO bookmarks (bookmark_id, hash, activity_type_name, workflow_instance_id, correlation_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (bookmark_id) DO UPDATE SET
			hash = excluded.hash,
			activity_type_name = excluded.activity_type_name,
			workflow_instance_id = excluded.workflow_instance_id,
			correlation_id = excluded.correlation_id
	`)

	return r.q.inTx(ctx, func(tx *sql.Tx) error {
		for _, b := range bookmarks {
			_, err := tx.ExecContext(ctx, query,
				b.BookmarkID, b.Hash, b.ActivityTypeName, b.WorkflowInstanceID, b.CorrelationID, b.CreatedAt.UTC())
			if err != nil {
				return fmt.Errorf("failed to save bookmark %s: %w", b.BookmarkID, err)
			}
		}

		return nil
	})
}

func (r *BookmarkRepository) RemoveByInstance(ctx context.Context, hash, instanceID string, bookmarkIDs []string) error {
	query := `DELETE FROM bookmarks WHERE hash = ? AND workflow_instance_id = ?`
	args := []any{hash, instanceID}

	if len(bookmarkIDs) > 0 {
		query += ` AND bookmark_id IN ` + In(len(bookmarkIDs))
		for _, id := range bookmarkIDs {
			args = append(args, id)
		}
	}

	_, err := r.q.exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to remove bookmarks of instance %s: %w", instanceID, err)
	}

	return nil
}

// TriggerRepository is the trigger index kept in the triggers table.
type TriggerRepository struct {
	q querier
}

const triggerColumns = `id, workflow_definition_id, activity_id, activity_type_name, hash, payload`

func scanTrigger(row scanner) (*models.Trigger, error) {
	var t models.Trigger

	err := row.Scan(&t.ID, &t.WorkflowDefinitionID, &t.ActivityID, &t.ActivityTypeName, &t.Hash, &t.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to scan trigger: %w", err)
	}

	return &t, nil
}

func (r *TriggerRepository) findMany(ctx context.Context, query string, args ...any) ([]*models.Trigger, error) {
	rows, err := r.q.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query triggers: %w", err)
	}

	return collect(ctx, r.q, rows, scanTrigger)
}

func (r *TriggerRepository) FindByHash(ctx context.Context, hash string) ([]*models.Trigger, error) {
	return r.findMany(ctx, `SELECT `+triggerColumns+` FROM triggers WHERE hash = ? ORDER BY id`, hash)
}

func (r *TriggerRepository) FindByActivityType(ctx context.Context, activityTypeName string) ([]*models.Trigger, error) {
	return r.findMany(ctx, `SELECT `+triggerColumns+` FROM triggers WHERE activity_type_name = ? ORDER BY id`, activityTypeName)
}

func (r *TriggerRepository) ReplaceByDefinitionID(ctx context.Context, definitionID string, triggers []*models.Trigger) error {
	for _, t := range triggers {
		if t.ID == "" {
			return persistence.NewStoreError("ReplaceByDefinitionID", "trigger", definitionID, persistence.ErrMissingID)
		}
	}

	deleteQuery := r.q.dialect.Rebind(`DELETE FROM triggers WHERE workflow_definition_id = ?`)
	insertQuery := r.q.dialect.Rebind(`INSERT INTO triggers (` + triggerColumns + `) VALUES (?, ?, ?, ?, ?, ?)`)

	return r.q.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, deleteQuery, definitionID)
		if err != nil {
			return fmt.Errorf("failed to delete triggers of %s: %w", definitionID, err)
		}

		for _, t := range triggers {
			_, err = tx.ExecContext(ctx, insertQuery, t.ID, t.WorkflowDefinitionID, t.ActivityID, t.ActivityTypeName, t.Hash, t.Payload)
			if err != nil {
				return fmt.Errorf("failed to insert trigger %s: %w", t.ID, err)
			}
		}

		return nil
	})
}

func (r *TriggerRepository) DeleteByDefinitionID(ctx context.Context, definitionID string) error {
	_, err := r.q.exec(ctx, `DELETE FROM triggers WHERE workflow_definition_id = ?`, definitionID)
	if err != nil {
		return fmt.Errorf("failed to delete triggers of %s: %w", definitionID, err)
	}

	return nil
}
