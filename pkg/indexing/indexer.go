// Package indexing keeps the trigger index in step with the published definitions.
package indexing

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/novotx/elsa-core/pkg/bookmarks"
	"github.com/novotx/elsa-core/pkg/eventbus"
	"github.com/novotx/elsa-core/pkg/events"
	"github.com/novotx/elsa-core/pkg/identity"
	"github.com/novotx/elsa-core/pkg/metrics"
	"github.com/novotx/elsa-core/pkg/models"
	"github.com/novotx/elsa-core/pkg/persistence"
	"github.com/novotx/elsa-core/pkg/workflow"
)

// Indexer computes the triggers of a definition and replaces them in the trigger index.
type Indexer struct {
	definitions persistence.WorkflowDefinitionRepository
	triggers    persistence.TriggerRepository
	workflows   *workflow.Repository
	hasher      bookmarks.Hasher
	ids         identity.Generator
	notifier    eventbus.EventPublisher
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// Config holds the optional collaborators of the indexer.
type Config struct {
	Hasher   bookmarks.Hasher
	IDs      identity.Generator
	Notifier eventbus.EventPublisher
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

func NewIndexer(store persistence.Persistence, workflows *workflow.Repository, cfg Config) *Indexer {
	i := &Indexer{
		definitions: store.WorkflowDefinitionRepository(),
		triggers:    store.TriggerRepository(),
		workflows:   workflows,
		hasher:      cfg.Hasher,
		ids:         cfg.IDs,
		notifier:    cfg.Notifier,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
	}

	if i.hasher == nil {
		i.hasher = bookmarks.NewHasher()
	}

	if i.ids == nil {
		i.ids = identity.Default
	}

	if i.logger == nil {
		i.logger = slog.Default()
	}

	i.logger = i.logger.With("module", "trigger_indexer")

	return i
}

// Triggers computes the triggers of definition without storing them: one per payload of every
// start activity. Trigger activities further down the graph only ever create bookmarks.
func (i *Indexer) Triggers(ctx context.Context, definition *models.WorkflowDefinition) ([]*models.Trigger, error) {
	wf, err := i.workflows.Materialize(ctx, definition)
	if err != nil {
		return nil, err
	}

	triggers := make([]*models.Trigger, 0)

	for _, activity := range wf.StartActivities() {
		source, ok := activity.(workflow.TriggerSource)
		if !ok {
			continue
		}

		for _, payload := range source.TriggerPayloads() {
			hash, err := i.hasher.Hash(activity.Type(), payload)
			if err != nil {
				return nil, fmt.Errorf("failed to hash trigger of activity %s: %w", activity.ID(), err)
			}

			data, err := bookmarks.Canonicalize(payload)
			if err != nil {
				return nil, fmt.Errorf("failed to encode trigger of activity %s: %w", activity.ID(), err)
			}

			triggers = append(triggers, &models.Trigger{
				ID:                   i.ids.NewID(),
				WorkflowDefinitionID: definition.DefinitionID,
				ActivityID:           activity.ID(),
				ActivityTypeName:     activity.Type(),
				Hash:                 hash,
				Payload:              string(data),
			})
		}
	}

	return triggers, nil
}

// IndexDefinition replaces the stored triggers of definition's DefinitionID.
func (i *Indexer) IndexDefinition(ctx context.Context, definition *models.WorkflowDefinition) ([]*models.Trigger, error) {
	triggers, err := i.Triggers(ctx, definition)
	if err != nil {
		return nil, fmt.Errorf("failed to index definition %s v%d: %w", definition.DefinitionID, definition.Version, err)
	}

	err = i.triggers.ReplaceByDefinitionID(ctx, definition.DefinitionID, triggers)
	if err != nil {
		return nil, fmt.Errorf("failed to store triggers of %s: %w", definition.DefinitionID, err)
	}

	i.metrics.TriggersIndexed(len(triggers))
	i.logger.InfoContext(ctx, "Indexed triggers", "definition_id", definition.DefinitionID, "version", definition.Version, "triggers", len(triggers))
	i.notify(ctx, definition.DefinitionID, triggers)

	return triggers, nil
}

// Clear removes every trigger of definitionID.
func (i *Indexer) Clear(ctx context.Context, definitionID string) error {
	err := i.triggers.DeleteByDefinitionID(ctx, definitionID)
	if err != nil {
		return fmt.Errorf("failed to clear triggers of %s: %w", definitionID, err)
	}

	i.workflows.Evict(definitionID)
	i.logger.InfoContext(ctx, "Cleared triggers", "definition_id", definitionID)
	i.notify(ctx, definitionID, nil)

	return nil
}

// IndexAll re-indexes every published definition and returns the number of triggers written.
// A definition that fails to index is logged and skipped.
func (i *Indexer) IndexAll(ctx context.Context) (int, error) {
	published, err := i.definitions.ListPublished(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list published definitions: %w", err)
	}

	total := 0

	for _, definition := range published {
		triggers, err := i.IndexDefinition(ctx, definition)
		if err != nil {
			i.logger.ErrorContext(ctx, "Failed to index definition", "definition_id", definition.DefinitionID, "error", err)

			continue
		}

		total += len(triggers)
	}

	return total, nil
}

// Subscribe re-indexes on publish and clears on retract and delete.
func (i *Indexer) Subscribe(subscriber eventbus.EventSubscriber) error {
	handlers := map[events.EventType]eventbus.EventHandler{
		events.WorkflowDefinitionPublishedEvent: i.handlePublished,
		events.WorkflowDefinitionRetractedEvent: i.handleRemoved,
		events.WorkflowDefinitionDeletedEvent:   i.handleRemoved,
	}

	for eventType, handler := range handlers {
		err := subscriber.Handle(eventType, handler)
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", eventType, err)
		}
	}

	return nil
}

func (i *Indexer) handlePublished(ctx context.Context, event any) error {
	var definition models.WorkflowDefinition

	switch e := event.(type) {
	case *events.WorkflowDefinitionPublished:
		definition = e.Definition
	case events.WorkflowDefinitionPublished:
		definition = e.Definition
	default:
		return fmt.Errorf("unexpected event %T", event)
	}

	_, err := i.IndexDefinition(ctx, &definition)

	return err
}

func (i *Indexer) handleRemoved(ctx context.Context, event any) error {
	var definitionID string

	switch e := event.(type) {
	case *events.WorkflowDefinitionRetracted:
		definitionID = e.Definition.DefinitionID
	case events.WorkflowDefinitionRetracted:
		definitionID = e.Definition.DefinitionID
	case *events.WorkflowDefinitionDeleted:
		definitionID = e.DefinitionID
	case events.WorkflowDefinitionDeleted:
		definitionID = e.DefinitionID
	default:
		return fmt.Errorf("unexpected event %T", event)
	}

	return i.Clear(ctx, definitionID)
}

func (i *Indexer) notify(ctx context.Context, definitionID string, triggers []*models.Trigger) {
	if i.notifier == nil {
		return
	}

	event := events.NewTriggersIndexed(definitionID, triggers)

	err := i.notifier.Publish(ctx, definitionID, event)
	if err != nil {
		i.logger.ErrorContext(ctx, "Failed to publish event", "event_type", event.GetType(), "error", err)
	}
}
