package mocks

import (
	"context"

	"github.com/novotx/elsa-core/pkg/models"
	"github.com/novotx/elsa-core/pkg/persistence"
	"github.com/stretchr/testify/mock"
)

// MockWorkflowDefinitionRepository is a mock implementation of persistence.WorkflowDefinitionRepository.
type MockWorkflowDefinitionRepository struct {
	mock.Mock
}

func (m *MockWorkflowDefinitionRepository) FindByID(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.WorkflowDefinition), args.Error(1)
}

func (m *MockWorkflowDefinitionRepository) FindByDefinitionID(ctx context.Context, definitionID string, opts models.VersionOptions) (*models.WorkflowDefinition, error) {
	args := m.Called(ctx, definitionID, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.WorkflowDefinition), args.Error(1)
}

func (m *MockWorkflowDefinitionRepository) FindLatestAndPublished(ctx context.Context, definitionID string) ([]*models.WorkflowDefinition, error) {
	args := m.Called(ctx, definitionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.WorkflowDefinition), args.Error(1)
}

func (m *MockWorkflowDefinitionRepository) ListPublished(ctx context.Context) ([]*models.WorkflowDefinition, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.WorkflowDefinition), args.Error(1)
}

func (m *MockWorkflowDefinitionRepository) Save(ctx context.Context, definition *models.WorkflowDefinition) error {
	args := m.Called(ctx, definition)

	return args.Error(0)
}

func (m *MockWorkflowDefinitionRepository) DeleteByDefinitionID(ctx context.Context, definitionID string) (int, error) {
	args := m.Called(ctx, definitionID)

	return args.Int(0), args.Error(1)
}

// MockWorkflowInstanceRepository is a mock implementation of persistence.WorkflowInstanceRepository.
type MockWorkflowInstanceRepository struct {
	mock.Mock
}

func (m *MockWorkflowInstanceRepository) Save(ctx context.Context, state *models.WorkflowState) error {
	args := m.Called(ctx, state)

	return args.Error(0)
}

func (m *MockWorkflowInstanceRepository) FindByID(ctx context.Context, id string) (*models.WorkflowState, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.WorkflowState), args.Error(1)
}

func (m *MockWorkflowInstanceRepository) Find(ctx context.Context, filter models.InstanceFilter) ([]*models.WorkflowState, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.WorkflowState), args.Error(1)
}

func (m *MockWorkflowInstanceRepository) DeleteByDefinitionID(ctx context.Context, definitionID string) (int, error) {
	args := m.Called(ctx, definitionID)

	return args.Int(0), args.Error(1)
}

// MockBookmarkRepository is a mock implementation of persistence.BookmarkRepository.
type MockBookmarkRepository struct {
	mock.Mock
}

func (m *MockBookmarkRepository) FindByHash(ctx context.Context, hash string) ([]*models.StoredBookmark, error) {
	args := m.Called(ctx, hash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.StoredBookmark), args.Error(1)
}

func (m *MockBookmarkRepository) Save(ctx context.Context, bookmarks []*models.StoredBookmark) error {
	args := m.Called(ctx, bookmarks)

	return args.Error(0)
}

func (m *MockBookmarkRepository) RemoveByInstance(ctx context.Context, hash, instanceID string, bookmarkIDs []string) error {
	args := m.Called(ctx, hash, instanceID, bookmarkIDs)

	return args.Error(0)
}

// MockTriggerRepository is a mock implementation of persistence.TriggerRepository.
type MockTriggerRepository struct {
	mock.Mock
}

func (m *MockTriggerRepository) FindByHash(ctx context.Context, hash string) ([]*models.Trigger, error) {
	args := m.Called(ctx, hash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Trigger), args.Error(1)
}

func (m *MockTriggerRepository) FindByActivityType(ctx context.Context, activityTypeName string) ([]*models.Trigger, error) {
	args := m.Called(ctx, activityTypeName)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Trigger), args.Error(1)
}

func (m *MockTriggerRepository) ReplaceByDefinitionID(ctx context.Context, definitionID string, triggers []*models.Trigger) error {
	args := m.Called(ctx, definitionID, triggers)

	return args.Error(0)
}

func (m *MockTriggerRepository) DeleteByDefinitionID(ctx context.Context, definitionID string) error {
	args := m.Called(ctx, definitionID)

	return args.Error(0)
}

// MockPersistence is a mock implementation of persistence.Persistence interface.
type MockPersistence struct {
	mock.Mock

	Definitions *MockWorkflowDefinitionRepository
	Instances   *MockWorkflowInstanceRepository
	Bookmarks   *MockBookmarkRepository
	Triggers    *MockTriggerRepository
}

func NewMockPersistence() *MockPersistence {
	return &MockPersistence{
		Definitions: &MockWorkflowDefinitionRepository{},
		Instances:   &MockWorkflowInstanceRepository{},
		Bookmarks:   &MockBookmarkRepository{},
		Triggers:    &MockTriggerRepository{},
	}
}

func (m *MockPersistence) WorkflowDefinitionRepository() persistence.WorkflowDefinitionRepository {
	return m.Definitions
}

func (m *MockPersistence) WorkflowInstanceRepository() persistence.WorkflowInstanceRepository {
	return m.Instances
}

func (m *MockPersistence) BookmarkRepository() persistence.BookmarkRepository {
	return m.Bookmarks
}

func (m *MockPersistence) TriggerRepository() persistence.TriggerRepository {
	return m.Triggers
}

func (m *MockPersistence) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockPersistence) Close(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

var _ persistence.Persistence = (*MockPersistence)(nil)
