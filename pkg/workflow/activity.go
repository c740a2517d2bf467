// Package workflow executes workflow graphs: the activity execution contexts, the invoker and its
// middleware pipeline, the executor driving scheduled work, and the definition publisher.
package workflow

import (
	"context"
	"fmt"

	"github.com/novotx/elsa-core/pkg/models"
)

// Activity is one node of a workflow graph.
type Activity interface {
	ID() string
	Type() string
	Execute(ctx context.Context, actx *ActivityExecutionContext) error
}

// Resumable is implemented by activities whose bookmarks use models.ResumeInvoke.
type Resumable interface {
	Resume(ctx context.Context, actx *ActivityExecutionContext, input map[string]any) error
}

// Container is implemented by activities that own child activities.
type Container interface {
	Children() []Activity
}

// ChildCompletionHandler is notified when a child scheduled by the activity completes.
// Activities that do not implement it complete together with their first completed child.
type ChildCompletionHandler interface {
	OnChildCompleted(ctx context.Context, actx *ActivityExecutionContext, child *ActivityExecutionContext) error
}

// EntryContainer is implemented by containers that run EntryChildren first when they start.
type EntryContainer interface {
	EntryChildren() []Activity
}

// TriggerSource is implemented by activities that can start a new workflow instance.
// Each payload is hashed with the activity type into a trigger index key.
type TriggerSource interface {
	TriggerPayloads() []any
}

// Workflow is a materialized definition: the activity tree plus declared workflow variables.
type Workflow struct {
	DefinitionVersionID string
	DefinitionID        string
	Version             int
	Root                Activity
	Variables           []LocationReference

	activities map[string]Activity
	startable  map[string]struct{}
}

// NewWorkflow indexes the activity tree rooted at root. Activity ids must be unique.
func NewWorkflow(def *models.WorkflowDefinition, root Activity, variables ...LocationReference) (*Workflow, error) {
	w := &Workflow{
		Root:       root,
		Variables:  variables,
		activities: make(map[string]Activity),
		startable:  make(map[string]struct{}),
	}

	if def != nil {
		w.DefinitionVersionID = def.ID
		w.DefinitionID = def.DefinitionID
		w.Version = def.Version
	}

	var err error

	Walk(root, func(a Activity) {
		if _, exists := w.activities[a.ID()]; exists && err == nil {
			err = fmt.Errorf("duplicate activity id %q", a.ID())
		}

		w.activities[a.ID()] = a
	})

	if err != nil {
		return nil, err
	}

	return w, nil
}

// Activity returns the activity with the given id.
func (w *Workflow) Activity(id string) (Activity, bool) {
	a, ok := w.activities[id]

	return a, ok
}

// AllowStart marks activities anywhere in the graph as able to start an instance.
func (w *Workflow) AllowStart(ids ...string) error {
	for _, id := range ids {
		if _, ok := w.activities[id]; !ok {
			return fmt.Errorf("activity %q not found", id)
		}

		w.startable[id] = struct{}{}
	}

	return nil
}

// StartActivities returns, in depth-first order, the activities an instance can be started from:
// the root, the entry children reached from it, and activities marked with AllowStart.
func (w *Workflow) StartActivities() []Activity {
	entries := make(map[string]struct{}, len(w.startable)+1)
	for id := range w.startable {
		entries[id] = struct{}{}
	}

	var enter func(a Activity)
	enter = func(a Activity) {
		entries[a.ID()] = struct{}{}

		if c, ok := a.(EntryContainer); ok {
			for _, child := range c.EntryChildren() {
				enter(child)
			}
		}
	}

	if w.Root != nil {
		enter(w.Root)
	}

	starts := make([]Activity, 0, len(entries))
	Walk(w.Root, func(a Activity) {
		if _, ok := entries[a.ID()]; ok {
			starts = append(starts, a)
		}
	})

	return starts
}

// Activities returns every activity of the graph in depth-first order.
func (w *Workflow) Activities() []Activity {
	all := make([]Activity, 0, len(w.activities))
	Walk(w.Root, func(a Activity) {
		all = append(all, a)
	})

	return all
}

// Walk visits a and its descendants depth-first.
func Walk(a Activity, visit func(Activity)) {
	if a == nil {
		return
	}

	visit(a)

	if c, ok := a.(Container); ok {
		for _, child := range c.Children() {
			Walk(child, visit)
		}
	}
}
