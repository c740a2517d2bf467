package file

import (
	"context"
	"slices"

	"github.com/novotx/elsa-core/pkg/models"
	"github.com/novotx/elsa-core/pkg/persistence"
)

// DefinitionRepository stores each definition version as definitions/<id>.json.
type DefinitionRepository struct {
	store *Persistence
}

func (r *DefinitionRepository) records() collection[models.WorkflowDefinition] {
	return jsonCollection[models.WorkflowDefinition](r.store, definitionsDir, "definition")
}

func byVersion(a, b *models.WorkflowDefinition) bool {
	if a.DefinitionID != b.DefinitionID {
		return a.DefinitionID < b.DefinitionID
	}

	return a.Version < b.Version
}

func (r *DefinitionRepository) FindByID(_ context.Context, id string) (*models.WorkflowDefinition, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	return r.records().get("FindByID", id)
}

func (r *DefinitionRepository) FindByDefinitionID(_ context.Context, definitionID string, opts models.VersionOptions) (*models.WorkflowDefinition, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	matches, err := r.records().filter("FindByDefinitionID", func(d *models.WorkflowDefinition) bool {
		return d.DefinitionID == definitionID && opts.Matches(d)
	}, byVersion)
	if err != nil || len(matches) == 0 {
		return nil, err
	}

	return matches[len(matches)-1], nil
}

func (r *DefinitionRepository) FindLatestAndPublished(_ context.Context, definitionID string) ([]*models.WorkflowDefinition, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	return r.records().filter("FindLatestAndPublished", func(d *models.WorkflowDefinition) bool {
		return d.DefinitionID == definitionID && (d.IsLatest || d.IsPublished)
	}, byVersion)
}

func (r *DefinitionRepository) ListPublished(_ context.Context) ([]*models.WorkflowDefinition, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	return r.records().filter("ListPublished", func(d *models.WorkflowDefinition) bool {
		return d.IsPublished
	}, byVersion)
}

func (r *DefinitionRepository) Save(_ context.Context, definition *models.WorkflowDefinition) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	return r.records().put("Save", definition.ID, definition)
}

func (r *DefinitionRepository) DeleteByDefinitionID(_ context.Context, definitionID string) (int, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	return r.records().deleteWhere("DeleteByDefinitionID", func(d *models.WorkflowDefinition) bool {
		return d.DefinitionID == definitionID
	}, func(d *models.WorkflowDefinition) string { return d.ID })
}

// InstanceRepository stores instance snapshots as instances/<id>.json.
type InstanceRepository struct {
	store *Persistence
}

func (r *InstanceRepository) records() collection[models.WorkflowState] {
	c := jsonCollection[models.WorkflowState](r.store, instancesDir, "instance")
	c.encode = func(s *models.WorkflowState) ([]byte, error) { return s.Marshal() }
	c.decode = models.UnmarshalWorkflowState

	return c
}

func (r *InstanceRepository) Save(_ context.Context, state *models.WorkflowState) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	return r.records().put("Save", state.ID, state)
}

func (r *InstanceRepository) FindByID(_ context.Context, id string) (*models.WorkflowState, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	return r.records().get("FindByID", id)
}

func (r *InstanceRepository) Find(_ context.Context, filter models.InstanceFilter) ([]*models.WorkflowState, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	return r.records().filter("Find", filter.Matches, func(a, b *models.WorkflowState) bool {
		return a.CreatedAt.Before(b.CreatedAt)
	})
}

func (r *InstanceRepository) DeleteByDefinitionID(_ context.Context, definitionID string) (int, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	return r.records().deleteWhere("DeleteByDefinitionID", func(s *models.WorkflowState) bool {
		return s.DefinitionID == definitionID
	}, func(s *models.WorkflowState) string { return s.ID })
}

// BookmarkRepository stores bookmarks as bookmarks/<bookmark id>.json.
type BookmarkRepository struct {
	store *Persistence
}

func (r *BookmarkRepository) records() collection[models.StoredBookmark] {
	return jsonCollection[models.StoredBookmark](r.store, bookmarksDir, "bookmark")
}

func (r *BookmarkRepository) FindByHash(_ context.Context, hash string) ([]*models.StoredBookmark, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	return r.records().filter("FindByHash", func(b *models.StoredBookmark) bool {
		return b.Hash == hash
	}, func(a, b *models.StoredBookmark) bool {
		return a.CreatedAt.Before(b.CreatedAt)
	})
}

func (r *BookmarkRepository) Save(_ context.Context, bookmarks []*models.StoredBookmark) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	records := r.records()

	for _, b := range bookmarks {
		err := records.put("Save", b.BookmarkID, b)
		if err != nil {
			return err
		}
	}

	return nil
}

func (r *BookmarkRepository) RemoveByInstance(_ context.Context, hash, instanceID string, bookmarkIDs []string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	_, err := r.records().deleteWhere("RemoveByInstance", func(b *models.StoredBookmark) bool {
		if b.Hash != hash || b.WorkflowInstanceID != instanceID {
			return false
		}

		return len(bookmarkIDs) == 0 || slices.Contains(bookmarkIDs, b.BookmarkID)
	}, func(b *models.StoredBookmark) string { return b.BookmarkID })

	return err
}

// TriggerRepository stores triggers as triggers/<trigger id>.json.
type TriggerRepository struct {
	store *Persistence
}

func (r *TriggerRepository) records() collection[models.Trigger] {
	return jsonCollection[models.Trigger](r.store, triggersDir, "trigger")
}

func byTriggerID(a, b *models.Trigger) bool {
	return a.ID < b.ID
}

func triggerID(t *models.Trigger) string {
	return t.ID
}

func (r *TriggerRepository) FindByHash(_ context.Context, hash string) ([]*models.Trigger, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	return r.records().filter("FindByHash", func(t *models.Trigger) bool {
		return t.Hash == hash
	}, byTriggerID)
}

func (r *TriggerRepository) FindByActivityType(_ context.Context, activityTypeName string) ([]*models.Trigger, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	return r.records().filter("FindByActivityType", func(t *models.Trigger) bool {
		return t.ActivityTypeName == activityTypeName
	}, byTriggerID)
}

func (r *TriggerRepository) ReplaceByDefinitionID(_ context.Context, definitionID string, triggers []*models.Trigger) error {
	for _, t := range triggers {
		if t.ID == "" {
			return persistence.NewStoreError("ReplaceByDefinitionID", "trigger", definitionID, persistence.ErrMissingID)
		}
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	records := r.records()

	_, err := records.deleteWhere("ReplaceByDefinitionID", func(t *models.Trigger) bool {
		return t.WorkflowDefinitionID == definitionID
	}, triggerID)
	if err != nil {
		return err
	}

	for _, t := range triggers {
		err = records.put("ReplaceByDefinitionID", t.ID, t)
		if err != nil {
			return err
		}
	}

	return nil
}

func (r *TriggerRepository) DeleteByDefinitionID(_ context.Context, definitionID string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	_, err := r.records().deleteWhere("DeleteByDefinitionID", func(t *models.Trigger) bool {
		return t.WorkflowDefinitionID == definitionID
	}, triggerID)

	return err
}
