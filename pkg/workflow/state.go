package workflow

import (
	"fmt"
	"slices"

	"github.com/novotx/elsa-core/pkg/bookmarks"
	"github.com/novotx/elsa-core/pkg/identity"
	"github.com/novotx/elsa-core/pkg/models"
)

// State captures the instance as a serializable snapshot.
func (w *WorkflowExecutionContext) State() *models.WorkflowState {
	state := &models.WorkflowState{
		ID:                        w.ID,
		DefinitionID:              w.DefinitionID,
		DefinitionVersion:         w.Version,
		CorrelationID:             w.CorrelationID,
		Status:                    w.Status,
		Bookmarks:                 slices.Clone(w.Bookmarks),
		ActivityExecutionContexts: make([]models.ActivityExecutionContextState, 0, len(w.contexts)),
		ScheduledWork:             make([]models.WorkItemState, 0, len(w.scheduled)),
		Variables:                 w.register.Snapshot(),
		Input:                     w.Input,
		Output:                    w.Output,
		CreatedAt:                 w.CreatedAt,
		UpdatedAt:                 w.UpdatedAt,
		FinishedAt:                w.FinishedAt,
	}

	if state.Bookmarks == nil {
		state.Bookmarks = make([]models.Bookmark, 0)
	}

	if w.Fault != nil {
		fault := *w.Fault
		state.Fault = &fault
	}

	for _, c := range w.contexts {
		state.ActivityExecutionContexts = append(state.ActivityExecutionContexts, models.ActivityExecutionContextState{
			Handle:             c.Handle,
			ParentHandle:       c.ParentHandle,
			ActivityID:         c.Activity.ID(),
			ActivityInstanceID: c.InstanceID,
			Status:             c.Status,
			Properties:         c.Properties,
			Register:           c.register.Snapshot(),
			Output:             c.Output,
		})
	}

	for _, item := range w.scheduled {
		variables := make(map[string]any, len(item.Variables))
		for _, ref := range item.Variables {
			variables[ref.Name] = ref.Default
		}

		state.ScheduledWork = append(state.ScheduledWork, models.WorkItemState{
			ActivityID:  item.ActivityID,
			OwnerHandle: item.OwnerHandle,
			Variables:   variables,
		})
	}

	return state
}

// FromState rebuilds the execution context of an instance of wf from a snapshot. The context
// works on a copy; running it never changes state.
func FromState(wf *Workflow, snapshot *models.WorkflowState, ids identity.Generator, hasher bookmarks.Hasher) (*WorkflowExecutionContext, error) {
	state, err := snapshot.Clone()
	if err != nil {
		return nil, fmt.Errorf("failed to copy snapshot of instance %s: %w", snapshot.ID, err)
	}

	w := newWorkflowExecutionContext(wf, state.ID, ids, hasher)

	w.CorrelationID = state.CorrelationID
	w.Status = state.Status
	w.Bookmarks = slices.Clone(state.Bookmarks)
	w.CreatedAt = state.CreatedAt
	w.UpdatedAt = state.UpdatedAt
	w.FinishedAt = state.FinishedAt
	w.register = RegisterFromSnapshot(state.Variables)

	if w.Bookmarks == nil {
		w.Bookmarks = make([]models.Bookmark, 0)
	}

	if state.Input != nil {
		w.Input = state.Input
	}

	if state.Output != nil {
		w.Output = state.Output
	}

	if state.Fault != nil {
		fault := *state.Fault
		w.Fault = &fault
	}

	for i, cs := range state.ActivityExecutionContexts {
		if cs.Handle != i {
			return nil, fmt.Errorf("activity context %s has handle %d at position %d", cs.ActivityInstanceID, cs.Handle, i)
		}

		if cs.ParentHandle != RootHandle && (cs.ParentHandle < 0 || cs.ParentHandle >= i) {
			return nil, fmt.Errorf("activity context %s has invalid parent handle %d", cs.ActivityInstanceID, cs.ParentHandle)
		}

		activity, ok := wf.Activity(cs.ActivityID)
		if !ok {
			return nil, fmt.Errorf("activity %s of instance %s not found in definition %s v%d",
				cs.ActivityID, state.ID, wf.DefinitionID, wf.Version)
		}

		properties := cs.Properties
		if properties == nil {
			properties = make(map[string]any)
		}

		w.contexts = append(w.contexts, &ActivityExecutionContext{
			Handle:       cs.Handle,
			ParentHandle: cs.ParentHandle,
			Activity:     activity,
			InstanceID:   cs.ActivityInstanceID,
			Status:       cs.Status,
			Properties:   properties,
			Output:       cs.Output,
			workflow:     w,
			register:     RegisterFromSnapshot(cs.Register),
		})
	}

	for _, item := range state.ScheduledWork {
		refs := make([]LocationReference, 0, len(item.Variables))
		for name, value := range item.Variables {
			refs = append(refs, LocationReference{Name: name, Default: value})
		}

		w.scheduled = append(w.scheduled, workItem{ActivityID: item.ActivityID, OwnerHandle: item.OwnerHandle, Variables: refs})
	}

	return w, nil
}
