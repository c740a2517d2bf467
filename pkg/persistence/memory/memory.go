// Package memory provides an in-process persistence implementation, used by tests and single-node setups.
package memory

import (
	"context"
	"slices"

	"github.com/novotx/elsa-core/pkg/models"
	"github.com/novotx/elsa-core/pkg/persistence"
)

// Persistence implements persistence.Persistence with in-memory tables.
type Persistence struct {
	definitions *DefinitionRepository
	instances   *InstanceRepository
	bookmarks   *BookmarkRepository
	triggers    *TriggerRepository
}

// NewPersistence creates an empty in-memory store.
func NewPersistence() *Persistence {
	return &Persistence{
		definitions: &DefinitionRepository{table: newTable[string](cloneDefinition)},
		instances:   &InstanceRepository{table: newTable[string](cloneState)},
		bookmarks:   &BookmarkRepository{table: newTable[string](cloneValue[models.StoredBookmark])},
		triggers:    &TriggerRepository{table: newTable[string](cloneValue[models.Trigger])},
	}
}

func (p *Persistence) WorkflowDefinitionRepository() persistence.WorkflowDefinitionRepository {
	return p.definitions
}

func (p *Persistence) WorkflowInstanceRepository() persistence.WorkflowInstanceRepository {
	return p.instances
}

func (p *Persistence) BookmarkRepository() persistence.BookmarkRepository {
	return p.bookmarks
}

func (p *Persistence) TriggerRepository() persistence.TriggerRepository {
	return p.triggers
}

func (p *Persistence) HealthCheck(_ context.Context) error {
	return nil
}

func (p *Persistence) Close(_ context.Context) error {
	return nil
}

func cloneValue[T any](v *T) (*T, error) {
	c := *v

	return &c, nil
}

func cloneDefinition(d *models.WorkflowDefinition) (*models.WorkflowDefinition, error) {
	return d.ShallowClone(), nil
}

// cloneState copies a snapshot through its JSON form, the same shape the other stores return.
func cloneState(s *models.WorkflowState) (*models.WorkflowState, error) {
	return s.Clone()
}

// DefinitionRepository stores definition versions.
type DefinitionRepository struct {
	table *table[string, models.WorkflowDefinition]
}

func byVersion(a, b *models.WorkflowDefinition) bool {
	return a.Version < b.Version
}

func (r *DefinitionRepository) FindByID(_ context.Context, id string) (*models.WorkflowDefinition, error) {
	return r.table.get(id)
}

func (r *DefinitionRepository) FindByDefinitionID(_ context.Context, definitionID string, opts models.VersionOptions) (*models.WorkflowDefinition, error) {
	matches, err := r.table.filter(func(d *models.WorkflowDefinition) bool {
		return d.DefinitionID == definitionID && opts.Matches(d)
	}, byVersion)
	if err != nil {
		return nil, err
	}

	if len(matches) == 0 {
		return nil, nil
	}

	// Highest version wins when latest and published are different rows.
	return matches[len(matches)-1], nil
}

func (r *DefinitionRepository) FindLatestAndPublished(_ context.Context, definitionID string) ([]*models.WorkflowDefinition, error) {
	return r.table.filter(func(d *models.WorkflowDefinition) bool {
		return d.DefinitionID == definitionID && (d.IsLatest || d.IsPublished)
	}, byVersion)
}

func (r *DefinitionRepository) ListPublished(_ context.Context) ([]*models.WorkflowDefinition, error) {
	return r.table.filter(func(d *models.WorkflowDefinition) bool {
		return d.IsPublished
	}, func(a, b *models.WorkflowDefinition) bool {
		if a.DefinitionID != b.DefinitionID {
			return a.DefinitionID < b.DefinitionID
		}

		return a.Version < b.Version
	})
}

func (r *DefinitionRepository) Save(_ context.Context, definition *models.WorkflowDefinition) error {
	if definition.ID == "" {
		return persistence.NewStoreError("Save", "definition", "", persistence.ErrMissingID)
	}

	err := r.table.put(definition.ID, definition)
	if err != nil {
		return persistence.NewStoreError("Save", "definition", definition.ID, err)
	}

	return nil
}

func (r *DefinitionRepository) DeleteByDefinitionID(_ context.Context, definitionID string) (int, error) {
	return r.table.deleteWhere(func(d *models.WorkflowDefinition) bool {
		return d.DefinitionID == definitionID
	}), nil
}

// InstanceRepository stores workflow instance snapshots.
type InstanceRepository struct {
	table *table[string, models.WorkflowState]
}

func (r *InstanceRepository) Save(_ context.Context, state *models.WorkflowState) error {
	if state.ID == "" {
		return persistence.NewStoreError("Save", "instance", "", persistence.ErrMissingID)
	}

	err := r.table.put(state.ID, state)
	if err != nil {
		return persistence.NewStoreError("Save", "instance", state.ID, err)
	}

	return nil
}

func (r *InstanceRepository) FindByID(_ context.Context, id string) (*models.WorkflowState, error) {
	return r.table.get(id)
}

func (r *InstanceRepository) Find(_ context.Context, filter models.InstanceFilter) ([]*models.WorkflowState, error) {
	return r.table.filter(filter.Matches, func(a, b *models.WorkflowState) bool {
		return a.CreatedAt.Before(b.CreatedAt)
	})
}

func (r *InstanceRepository) DeleteByDefinitionID(_ context.Context, definitionID string) (int, error) {
	return r.table.deleteWhere(func(s *models.WorkflowState) bool {
		return s.DefinitionID == definitionID
	}), nil
}

// BookmarkRepository is the in-memory bookmark index.
type BookmarkRepository struct {
	table *table[string, models.StoredBookmark]
}

func (r *BookmarkRepository) FindByHash(_ context.Context, hash string) ([]*models.StoredBookmark, error) {
	return r.table.filter(func(b *models.StoredBookmark) bool {
		return b.Hash == hash
	}, func(a, b *models.StoredBookmark) bool {
		return a.CreatedAt.Before(b.CreatedAt)
	})
}

func (r *BookmarkRepository) Save(_ context.Context, bookmarks []*models.StoredBookmark) error {
	for _, b := range bookmarks {
		if b.BookmarkID == "" {
			return persistence.NewStoreError("Save", "bookmark", b.Hash, persistence.ErrMissingID)
		}

		err := r.table.put(b.BookmarkID, b)
		if err != nil {
			return persistence.NewStoreError("Save", "bookmark", b.BookmarkID, err)
		}
	}

	return nil
}

func (r *BookmarkRepository) RemoveByInstance(_ context.Context, hash, instanceID string, bookmarkIDs []string) error {
	r.table.deleteWhere(func(b *models.StoredBookmark) bool {
		if b.Hash != hash || b.WorkflowInstanceID != instanceID {
			return false
		}

		return len(bookmarkIDs) == 0 || slices.Contains(bookmarkIDs, b.BookmarkID)
	})

	return nil
}

// TriggerRepository is the in-memory trigger index.
type TriggerRepository struct {
	table *table[string, models.Trigger]
}

func byTriggerID(a, b *models.Trigger) bool {
	return a.ID < b.ID
}

func (r *TriggerRepository) FindByHash(_ context.Context, hash string) ([]*models.Trigger, error) {
	return r.table.filter(func(t *models.Trigger) bool {
		return t.Hash == hash
	}, byTriggerID)
}

func (r *TriggerRepository) FindByActivityType(_ context.Context, activityTypeName string) ([]*models.Trigger, error) {
	return r.table.filter(func(t *models.Trigger) bool {
		return t.ActivityTypeName == activityTypeName
	}, byTriggerID)
}

func (r *TriggerRepository) ReplaceByDefinitionID(_ context.Context, definitionID string, triggers []*models.Trigger) error {
	replacements := make([]*models.Trigger, 0, len(triggers))

	for _, t := range triggers {
		if t.ID == "" {
			return persistence.NewStoreError("ReplaceByDefinitionID", "trigger", definitionID, persistence.ErrMissingID)
		}

		c, err := r.table.clone(t)
		if err != nil {
			return persistence.NewStoreError("ReplaceByDefinitionID", "trigger", definitionID, err)
		}

		replacements = append(replacements, c)
	}

	r.table.mu.Lock()
	defer r.table.mu.Unlock()

	for key, t := range r.table.records {
		if t.WorkflowDefinitionID == definitionID {
			delete(r.table.records, key)
		}
	}

	for _, t := range replacements {
		r.table.records[t.ID] = t
	}

	return nil
}

func (r *TriggerRepository) DeleteByDefinitionID(_ context.Context, definitionID string) error {
	r.table.deleteWhere(func(t *models.Trigger) bool {
		return t.WorkflowDefinitionID == definitionID
	})

	return nil
}

var (
	_ persistence.Persistence = (*Persistence)(nil)
	_ persistence.IndexStore  = (*Persistence)(nil)
)
