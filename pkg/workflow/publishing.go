package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/novotx/elsa-core/pkg/eventbus"
	"github.com/novotx/elsa-core/pkg/events"
	"github.com/novotx/elsa-core/pkg/identity"
	"github.com/novotx/elsa-core/pkg/models"
	"github.com/novotx/elsa-core/pkg/persistence"
)

// DefaultMaterializerName is the materializer of definitions created by Publisher.New.
const DefaultMaterializerName = "json"

// Publisher manages the draft, published and latest flags and the version counter of definitions.
//
// Publish and retract persist several rows one after the other without a transaction. A crash
// between two saves can leave no row or two rows flagged latest; re-running the operation repairs it.
type Publisher struct {
	definitions persistence.WorkflowDefinitionRepository
	instances   persistence.WorkflowInstanceRepository
	notifier    eventbus.EventPublisher
	ids         identity.Generator
	logger      *slog.Logger
	now         func() time.Time
}

// NewPublisher creates a new publisher. notifier may be nil.
func NewPublisher(store persistence.Persistence, notifier eventbus.EventPublisher, ids identity.Generator, logger *slog.Logger) *Publisher {
	return &Publisher{
		definitions: store.WorkflowDefinitionRepository(),
		instances:   store.WorkflowInstanceRepository(),
		notifier:    notifier,
		ids:         ids,
		logger:      logger.With("module", "workflow_publisher"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// EmptyDefinitionData is the graph of a new definition: a root sequence with no children.
func EmptyDefinitionData(rootID string) string {
	return fmt.Sprintf(`{"type":"Sequence","id":%q,"activities":[]}`, rootID)
}

// New returns an unsaved version 1 draft with a fresh identity, flagged latest.
func (p *Publisher) New() *models.WorkflowDefinition {
	return &models.WorkflowDefinition{
		ID:                 p.ids.NewID(),
		DefinitionID:       p.ids.NewID(),
		Version:            1,
		IsLatest:           true,
		IsPublished:        false,
		CreatedAt:          p.now(),
		StringData:         EmptyDefinitionData("root"),
		MaterializerName:   DefaultMaterializerName,
		ActivationStrategy: models.ActivationStrategyDefault,
	}
}

// PublishDefinition publishes the latest version of definitionID. It returns (nil, nil) when
// the definition does not exist.
func (p *Publisher) PublishDefinition(ctx context.Context, definitionID string) (*models.WorkflowDefinition, error) {
	definition, err := p.definitions.FindByDefinitionID(ctx, definitionID, models.VersionLatest)
	if err != nil {
		return nil, NewPublishError("Publish", definitionID, err)
	}

	if definition == nil {
		return nil, nil
	}

	return p.Publish(ctx, definition)
}

// Publish demotes every latest or published version, then publishes definition as the latest
// version. Publishing an already published definition creates the next version.
func (p *Publisher) Publish(ctx context.Context, definition *models.WorkflowDefinition) (*models.WorkflowDefinition, error) {
	definitionID := definition.DefinitionID

	flagged, err := p.definitions.FindLatestAndPublished(ctx, definitionID)
	if err != nil {
		return nil, NewPublishError("Publish", definitionID, err)
	}

	highest := definition.Version

	for _, row := range flagged {
		highest = max(highest, row.Version)

		row.IsPublished = false
		row.IsLatest = false

		err = p.definitions.Save(ctx, row)
		if err != nil {
			return nil, NewPublishError("Publish", definitionID, fmt.Errorf("failed to demote version %d: %w", row.Version, err))
		}
	}

	if definition.IsPublished {
		// The published row stays behind as the previous version.
		definition = definition.ShallowClone()
		definition.ID = p.ids.NewID()
		definition.Version = highest + 1
		definition.CreatedAt = p.now()
	} else {
		definition.IsPublished = true
	}

	definition.IsLatest = true
	p.initialize(definition)

	p.notify(ctx, events.WorkflowDefinitionPublishingEvent, definition)

	err = p.definitions.Save(ctx, definition)
	if err != nil {
		return nil, NewPublishError("Publish", definitionID, err)
	}

	p.notify(ctx, events.WorkflowDefinitionPublishedEvent, definition)

	p.logger.InfoContext(ctx, "Published workflow definition", "definition_id", definition.DefinitionID, "version", definition.Version)

	return definition, nil
}

// RetractDefinition retracts the published version of definitionID. It returns (nil, nil)
// when no version is published.
func (p *Publisher) RetractDefinition(ctx context.Context, definitionID string) (*models.WorkflowDefinition, error) {
	definition, err := p.definitions.FindByDefinitionID(ctx, definitionID, models.VersionPublished)
	if err != nil {
		return nil, NewPublishError("Retract", definitionID, err)
	}

	if definition == nil {
		return nil, nil
	}

	return p.Retract(ctx, definition)
}

// Retract clears the published flag. The latest flag is left untouched.
func (p *Publisher) Retract(ctx context.Context, definition *models.WorkflowDefinition) (*models.WorkflowDefinition, error) {
	if !definition.IsPublished {
		return nil, NewPublishError("Retract", definition.DefinitionID, ErrCannotRetractUnpublished)
	}

	definition.IsPublished = false
	p.initialize(definition)

	p.notify(ctx, events.WorkflowDefinitionRetractingEvent, definition)

	err := p.definitions.Save(ctx, definition)
	if err != nil {
		return nil, NewPublishError("Retract", definition.DefinitionID, err)
	}

	p.notify(ctx, events.WorkflowDefinitionRetractedEvent, definition)

	p.logger.InfoContext(ctx, "Retracted workflow definition", "definition_id", definition.DefinitionID, "version", definition.Version)

	return definition, nil
}

// GetDraft returns the editable version of definitionID. An unpublished latest version is the
// draft itself; a published one is cloned into the next version, which is not saved.
func (p *Publisher) GetDraft(ctx context.Context, definitionID string) (*models.WorkflowDefinition, error) {
	definition, err := p.definitions.FindByDefinitionID(ctx, definitionID, models.VersionLatest)
	if err != nil {
		return nil, NewPublishError("GetDraft", definitionID, err)
	}

	if definition == nil {
		return nil, nil
	}

	if !definition.IsPublished {
		return definition, nil
	}

	draft := definition.ShallowClone()
	draft.Version++
	draft.ID = p.ids.NewID()
	draft.IsLatest = true
	draft.IsPublished = false
	draft.CreatedAt = p.now()

	return draft, nil
}

// SaveDraft stores definition as the unpublished latest version, demoting a published latest
// version first.
func (p *Publisher) SaveDraft(ctx context.Context, definition *models.WorkflowDefinition) (*models.WorkflowDefinition, error) {
	p.initialize(definition)

	latest, err := p.definitions.FindByDefinitionID(ctx, definition.DefinitionID, models.VersionLatest)
	if err != nil {
		return nil, NewPublishError("SaveDraft", definition.DefinitionID, err)
	}

	if latest != nil && latest.IsPublished && latest.IsLatest && latest.ID != definition.ID {
		latest.IsLatest = false

		err = p.definitions.Save(ctx, latest)
		if err != nil {
			return nil, NewPublishError("SaveDraft", definition.DefinitionID, fmt.Errorf("failed to demote version %d: %w", latest.Version, err))
		}
	}

	definition.IsLatest = true
	definition.IsPublished = false

	err = p.definitions.Save(ctx, definition)
	if err != nil {
		return nil, NewPublishError("SaveDraft", definition.DefinitionID, err)
	}

	return definition, nil
}

// DeleteDefinition deletes every instance of definitionID, then every version.
func (p *Publisher) DeleteDefinition(ctx context.Context, definitionID string) error {
	instances, err := p.instances.DeleteByDefinitionID(ctx, definitionID)
	if err != nil {
		return NewPublishError("Delete", definitionID, fmt.Errorf("failed to delete instances: %w", err))
	}

	versions, err := p.definitions.DeleteByDefinitionID(ctx, definitionID)
	if err != nil {
		return NewPublishError("Delete", definitionID, fmt.Errorf("failed to delete versions: %w", err))
	}

	p.logger.InfoContext(ctx, "Deleted workflow definition", "definition_id", definitionID, "versions", versions, "instances", instances)

	if p.notifier != nil {
		event := events.WorkflowDefinitionDeleted{
			BaseEvent:        events.NewBaseEvent(events.WorkflowDefinitionDeletedEvent, definitionID),
			DeletedVersions:  versions,
			DeletedInstances: instances,
		}

		err = p.notifier.Publish(ctx, definitionID, event)
		if err != nil {
			p.logger.ErrorContext(ctx, "Failed to publish event", "event_type", event.GetType(), "error", err)
		}
	}

	return nil
}

func (p *Publisher) Delete(ctx context.Context, definition *models.WorkflowDefinition) error {
	return p.DeleteDefinition(ctx, definition.DefinitionID)
}

func (p *Publisher) initialize(definition *models.WorkflowDefinition) {
	if definition.ID == "" {
		definition.ID = p.ids.NewID()
	}

	if definition.DefinitionID == "" {
		definition.DefinitionID = p.ids.NewID()
	}

	if definition.Version == 0 {
		definition.Version = 1
	}

	if definition.CreatedAt.IsZero() {
		definition.CreatedAt = p.now()
	}

	if definition.MaterializerName == "" {
		definition.MaterializerName = DefaultMaterializerName
	}
}

func (p *Publisher) notify(ctx context.Context, eventType events.EventType, definition *models.WorkflowDefinition) {
	if p.notifier == nil {
		return
	}

	err := p.notifier.Publish(ctx, definition.DefinitionID, events.NewDefinitionEvent(eventType, definition))
	if err != nil {
		p.logger.ErrorContext(ctx, "Failed to publish event", "event_type", eventType, "definition_id", definition.DefinitionID, "error", err)
	}
}
