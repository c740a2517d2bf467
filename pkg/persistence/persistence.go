// Package persistence provides the storage contract for workflow definitions, instances,
// bookmarks and triggers.
package persistence

import (
	"context"

	"github.com/novotx/elsa-core/pkg/models"
)

// Persistence groups the repositories used by the runtime and the publisher.
type Persistence interface {
	WorkflowDefinitionRepository() WorkflowDefinitionRepository
	WorkflowInstanceRepository() WorkflowInstanceRepository
	BookmarkRepository() BookmarkRepository
	TriggerRepository() TriggerRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// WorkflowDefinitionRepository stores definition versions. Lookups that find nothing return (nil, nil).
type WorkflowDefinitionRepository interface {
	FindByID(ctx context.Context, id string) (*models.WorkflowDefinition, error)
	FindByDefinitionID(ctx context.Context, definitionID string, opts models.VersionOptions) (*models.WorkflowDefinition, error)
	// FindLatestAndPublished returns every version flagged latest or published.
	FindLatestAndPublished(ctx context.Context, definitionID string) ([]*models.WorkflowDefinition, error)
	ListPublished(ctx context.Context) ([]*models.WorkflowDefinition, error)
	// Save upserts by ID.
	Save(ctx context.Context, definition *models.WorkflowDefinition) error
	DeleteByDefinitionID(ctx context.Context, definitionID string) (int, error)
}

// WorkflowInstanceRepository stores instance snapshots keyed by instance id.
type WorkflowInstanceRepository interface {
	// Save upserts by ID.
	Save(ctx context.Context, state *models.WorkflowState) error
	FindByID(ctx context.Context, id string) (*models.WorkflowState, error)
	Find(ctx context.Context, filter models.InstanceFilter) ([]*models.WorkflowState, error)
	DeleteByDefinitionID(ctx context.Context, definitionID string) (int, error)
}

// BookmarkRepository is the hash-keyed bookmark index.
type BookmarkRepository interface {
	FindByHash(ctx context.Context, hash string) ([]*models.StoredBookmark, error)
	// Save upserts by BookmarkID.
	Save(ctx context.Context, bookmarks []*models.StoredBookmark) error
	// RemoveByInstance removes the instance's bookmarks under hash. When bookmarkIDs is not
	// empty only those bookmarks are removed. Removing absent bookmarks is a no-op.
	RemoveByInstance(ctx context.Context, hash, instanceID string, bookmarkIDs []string) error
}

// TriggerRepository is the hash-keyed trigger index.
type TriggerRepository interface {
	FindByHash(ctx context.Context, hash string) ([]*models.Trigger, error)
	FindByActivityType(ctx context.Context, activityTypeName string) ([]*models.Trigger, error)
	// ReplaceByDefinitionID swaps every trigger of a definition for the given set.
	ReplaceByDefinitionID(ctx context.Context, definitionID string, triggers []*models.Trigger) error
	DeleteByDefinitionID(ctx context.Context, definitionID string) error
}

// IndexStore is a bookmark and trigger index kept apart from the main store.
type IndexStore interface {
	BookmarkRepository() BookmarkRepository
	TriggerRepository() TriggerRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

type withIndex struct {
	Persistence

	index IndexStore
}

// WithIndex serves bookmarks and triggers from index and everything else from base.
func WithIndex(base Persistence, index IndexStore) Persistence {
	return &withIndex{Persistence: base, index: index}
}

func (p *withIndex) BookmarkRepository() BookmarkRepository {
	return p.index.BookmarkRepository()
}

func (p *withIndex) TriggerRepository() TriggerRepository {
	return p.index.TriggerRepository()
}

func (p *withIndex) HealthCheck(ctx context.Context) error {
	err := p.Persistence.HealthCheck(ctx)
	if err != nil {
		return err
	}

	return p.index.HealthCheck(ctx)
}

func (p *withIndex) Close(ctx context.Context) error {
	indexErr := p.index.Close(ctx)

	err := p.Persistence.Close(ctx)
	if err != nil {
		return err
	}

	return indexErr
}
