package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/novotx/elsa-core/pkg/events"
	"github.com/novotx/elsa-core/pkg/models"
	"github.com/novotx/elsa-core/pkg/workflow"
)

// workflowGrain owns one instance. Its state is reloaded from the instance store on activation
// and saved after every start, resume and import.
type workflowGrain struct {
	runtime    *Runtime
	instanceID string
	state      *models.WorkflowState
	logger     *slog.Logger
}

func newWorkflowGrain(r *Runtime, instanceID string) *workflowGrain {
	return &workflowGrain{
		runtime:    r,
		instanceID: instanceID,
		logger:     r.logger.With("grain", WorkflowGrainKind, "instance_id", instanceID),
	}
}

func (g *workflowGrain) Activate(ctx context.Context) error {
	state, err := g.runtime.store.WorkflowInstanceRepository().FindByID(ctx, g.instanceID)
	if err != nil {
		return fmt.Errorf("failed to load instance %s: %w", g.instanceID, err)
	}

	g.state = state

	return nil
}

func (g *workflowGrain) Receive(ctx context.Context, msg any) (any, error) {
	switch m := msg.(type) {
	case CanStartWorkflowRequest:
		return g.canStart(ctx, m)
	case StartWorkflowRequest:
		return g.start(ctx, m)
	case ResumeWorkflowRequest:
		return g.resume(ctx, m)
	case ExportWorkflowStateRequest:
		return g.export()
	case ImportWorkflowStateRequest:
		return g.importState(ctx, m)
	default:
		return nil, fmt.Errorf("%s cannot handle %T", WorkflowGrainKind, msg)
	}
}

func (g *workflowGrain) findDefinition(ctx context.Context, definitionID, version string) (*models.WorkflowDefinition, error) {
	opts, err := models.ParseVersionOptions(version)
	if err != nil {
		return nil, err
	}

	return g.runtime.workflows.FindDefinition(ctx, definitionID, opts)
}

func (g *workflowGrain) canStart(ctx context.Context, m CanStartWorkflowRequest) (CanStartWorkflowResponse, error) {
	if g.state != nil {
		return CanStartWorkflowResponse{CanStart: false}, nil
	}

	definition, err := g.findDefinition(ctx, m.DefinitionID, m.VersionOptions)
	if err != nil || definition == nil {
		return CanStartWorkflowResponse{CanStart: false}, err
	}

	admitted, err := g.admits(ctx, definition, m.CorrelationID)
	if err != nil {
		return CanStartWorkflowResponse{}, err
	}

	return CanStartWorkflowResponse{CanStart: admitted}, nil
}

// admits evaluates the definition's activation strategy against the running instances.
func (g *workflowGrain) admits(ctx context.Context, definition *models.WorkflowDefinition, correlationID string) (bool, error) {
	var args CountRunningWorkflowsArgs

	switch definition.ActivationStrategy {
	case models.ActivationStrategySingleton:
		args = CountRunningWorkflowsArgs{DefinitionID: definition.DefinitionID}
	case models.ActivationStrategyCorrelation:
		if correlationID == "" {
			return true, nil
		}

		args = CountRunningWorkflowsArgs{DefinitionID: definition.DefinitionID, CorrelationID: correlationID}
	default:
		return true, nil
	}

	count, err := g.runtime.CountRunningWorkflows(ctx, args)
	if err != nil {
		return false, fmt.Errorf("failed to count running instances of %s: %w", definition.DefinitionID, err)
	}

	return count == 0, nil
}

func decodeInput(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var input map[string]any

	err := json.Unmarshal(raw, &input)
	if err != nil {
		return nil, fmt.Errorf("failed to decode input: %w", err)
	}

	return input, nil
}

func (g *workflowGrain) start(ctx context.Context, m StartWorkflowRequest) (StartWorkflowResponse, error) {
	// A replayed start returns the instance as it is.
	if g.state != nil {
		return StartWorkflowResponse{Result: resultOf(g.state)}, nil
	}

	definition, err := g.findDefinition(ctx, m.DefinitionID, m.VersionOptions)
	if err != nil {
		return StartWorkflowResponse{}, err
	}

	if definition == nil {
		return StartWorkflowResponse{}, fmt.Errorf("%w: %s (%s)", workflow.ErrDefinitionNotFound, m.DefinitionID, m.VersionOptions)
	}

	admitted, err := g.admits(ctx, definition, m.CorrelationID)
	if err != nil {
		return StartWorkflowResponse{}, err
	}

	if !admitted {
		return StartWorkflowResponse{}, fmt.Errorf("%w: %s has the %s activation strategy", workflow.ErrCannotStart, m.DefinitionID, definition.ActivationStrategy)
	}

	wf, err := g.runtime.workflows.Materialize(ctx, definition)
	if err != nil {
		return StartWorkflowResponse{}, err
	}

	input, err := decodeInput(m.Input)
	if err != nil {
		return StartWorkflowResponse{}, err
	}

	wctx, err := g.runtime.executor.Start(ctx, wf, workflow.StartOptions{
		InstanceID:        g.instanceID,
		CorrelationID:     m.CorrelationID,
		Input:             input,
		TriggerActivityID: m.TriggerActivityID,
	})
	if err != nil {
		return StartWorkflowResponse{}, err
	}

	state := wctx.State()

	err = g.commit(ctx, state, nil)
	if err != nil {
		return StartWorkflowResponse{}, err
	}

	g.runtime.metrics.WorkflowRan("start", string(state.Status))
	g.publish(ctx, events.WorkflowStarted{WorkflowInstanceEvent: events.NewWorkflowInstanceEvent(events.WorkflowStartedEvent, state)})
	g.publishOutcome(ctx, state)

	return StartWorkflowResponse{Result: resultOf(state)}, nil
}

func (g *workflowGrain) resume(ctx context.Context, m ResumeWorkflowRequest) (ResumeWorkflowResponse, error) {
	if g.state == nil {
		return ResumeWorkflowResponse{}, fmt.Errorf("%w: %s", workflow.ErrInstanceNotFound, g.instanceID)
	}

	if m.CorrelationID != "" && m.CorrelationID != g.state.CorrelationID {
		return ResumeWorkflowResponse{}, fmt.Errorf("%w: correlation id %q does not match instance %s", workflow.ErrBookmarkNotFound, m.CorrelationID, g.instanceID)
	}

	wf, err := g.runtime.workflows.Load(ctx, g.state.DefinitionID, models.SpecificVersion(g.state.DefinitionVersion))
	if err != nil {
		return ResumeWorkflowResponse{}, err
	}

	input, err := decodeInput(m.Input)
	if err != nil {
		return ResumeWorkflowResponse{}, err
	}

	wctx, err := g.runtime.executor.Resume(ctx, wf, g.state, workflow.ResumeOptions{
		BookmarkID:         m.BookmarkID,
		ActivityInstanceID: m.ActivityInstanceID,
		ActivityID:         m.ActivityID,
		Hash:               m.Hash,
		Input:              input,
	})
	if err != nil {
		return ResumeWorkflowResponse{}, err
	}

	state := wctx.State()

	err = g.commit(ctx, state, g.state.Bookmarks)
	if err != nil {
		return ResumeWorkflowResponse{}, err
	}

	g.runtime.metrics.WorkflowRan("resume", string(state.Status))

	resumed := events.WorkflowResumed{
		WorkflowInstanceEvent: events.NewWorkflowInstanceEvent(events.WorkflowResumedEvent, state),
		BookmarkID:            m.BookmarkID,
	}
	g.publish(ctx, resumed)
	g.publishOutcome(ctx, state)

	return ResumeWorkflowResponse{Result: resultOf(state)}, nil
}

func (g *workflowGrain) export() (ExportWorkflowStateResponse, error) {
	if g.state == nil {
		return ExportWorkflowStateResponse{}, nil
	}

	data, err := g.state.Marshal()
	if err != nil {
		return ExportWorkflowStateResponse{}, fmt.Errorf("failed to encode state of %s: %w", g.instanceID, err)
	}

	return ExportWorkflowStateResponse{State: data}, nil
}

func (g *workflowGrain) importState(ctx context.Context, m ImportWorkflowStateRequest) (ImportWorkflowStateResponse, error) {
	state, err := models.UnmarshalWorkflowState(m.State)
	if err != nil {
		return ImportWorkflowStateResponse{}, fmt.Errorf("failed to decode imported state: %w", err)
	}

	if state.ID != g.instanceID {
		return ImportWorkflowStateResponse{}, fmt.Errorf("state of instance %s sent to %s", state.ID, g.instanceID)
	}

	var previous []models.Bookmark
	if g.state != nil {
		previous = g.state.Bookmarks
	}

	err = g.commit(ctx, state, previous)
	if err != nil {
		return ImportWorkflowStateResponse{}, err
	}

	g.logger.InfoContext(ctx, "Imported workflow state", "status", state.Status, "bookmarks", len(state.Bookmarks))

	return ImportWorkflowStateResponse{}, nil
}

// commit saves state, then applies the bookmark diff against previous to the index and reports
// the status to the running workflows grain. Each step is idempotent so a failed commit can be
// replayed.
func (g *workflowGrain) commit(ctx context.Context, state *models.WorkflowState, previous []models.Bookmark) error {
	err := g.runtime.store.WorkflowInstanceRepository().Save(ctx, state)
	if err != nil {
		return fmt.Errorf("failed to save instance %s: %w", state.ID, err)
	}

	g.state = state

	err = g.runtime.UpdateBookmarks(ctx, state.ID, models.DiffBookmarks(previous, state.Bookmarks), state.CorrelationID)
	if err != nil {
		return err
	}

	_, err = request[Ack](ctx, g.runtime, RunningWorkflowsGrainKind, "", WorkflowStatusChanged{
		InstanceID:    state.ID,
		DefinitionID:  state.DefinitionID,
		Version:       state.DefinitionVersion,
		CorrelationID: state.CorrelationID,
		Status:        state.Status,
	})
	if err != nil {
		return fmt.Errorf("failed to report status of %s: %w", state.ID, err)
	}

	return nil
}

func (g *workflowGrain) publish(ctx context.Context, event events.Event) {
	if g.runtime.notifier == nil || event == nil {
		return
	}

	err := g.runtime.notifier.Publish(ctx, g.instanceID, event)
	if err != nil {
		g.logger.ErrorContext(ctx, "Failed to publish event", "event_type", event.GetType(), "error", err)
	}
}

func (g *workflowGrain) publishOutcome(ctx context.Context, state *models.WorkflowState) {
	g.publish(ctx, events.OutcomeEvent(state))
}
