package activities

import (
	"context"
	"fmt"

	"github.com/novotx/elsa-core/pkg/workflow"
)

// Sequence runs its children one after the other and completes after the last one.
type Sequence struct {
	base

	Activities []workflow.Activity
}

func NewSequence(id string, children ...workflow.Activity) *Sequence {
	return &Sequence{base: base{id: id}, Activities: children}
}

func newSequence(id string, _ map[string]any, children []workflow.Activity) (workflow.Activity, error) {
	return NewSequence(id, children...), nil
}

func (s *Sequence) Type() string {
	return TypeSequence
}

func (s *Sequence) Children() []workflow.Activity {
	return s.Activities
}

func (s *Sequence) EntryChildren() []workflow.Activity {
	if len(s.Activities) == 0 {
		return nil
	}

	return s.Activities[:1]
}

func (s *Sequence) Execute(ctx context.Context, actx *workflow.ActivityExecutionContext) error {
	if len(s.Activities) == 0 {
		return actx.Complete(ctx, nil)
	}

	actx.Properties["index"] = 0
	actx.ScheduleActivity(s.Activities[0])

	return nil
}

func (s *Sequence) OnChildCompleted(ctx context.Context, actx, child *workflow.ActivityExecutionContext) error {
	next := actx.IntProperty("index") + 1
	if next >= len(s.Activities) {
		return actx.Complete(ctx, child.Output)
	}

	actx.Properties["index"] = next
	actx.ScheduleActivity(s.Activities[next])

	return nil
}

// Parallel schedules all children at once and completes when every child has completed.
type Parallel struct {
	base

	Activities []workflow.Activity
}

func NewParallel(id string, children ...workflow.Activity) *Parallel {
	return &Parallel{base: base{id: id}, Activities: children}
}

func newParallel(id string, _ map[string]any, children []workflow.Activity) (workflow.Activity, error) {
	return NewParallel(id, children...), nil
}

func (p *Parallel) Type() string {
	return TypeParallel
}

func (p *Parallel) Children() []workflow.Activity {
	return p.Activities
}

func (p *Parallel) EntryChildren() []workflow.Activity {
	return p.Activities
}

func (p *Parallel) Execute(ctx context.Context, actx *workflow.ActivityExecutionContext) error {
	if len(p.Activities) == 0 {
		return actx.Complete(ctx, nil)
	}

	actx.Properties["completed"] = 0

	for _, child := range p.Activities {
		actx.ScheduleActivity(child)
	}

	return nil
}

func (p *Parallel) OnChildCompleted(ctx context.Context, actx, _ *workflow.ActivityExecutionContext) error {
	completed := actx.IntProperty("completed") + 1
	actx.Properties["completed"] = completed

	if completed < len(p.Activities) {
		return nil
	}

	return actx.Complete(ctx, nil)
}

// ForEach runs Body once per item. Each iteration gets its own scope in which the current item
// is declared under Variable.
type ForEach struct {
	base

	Items    any
	Variable string
	Body     workflow.Activity
}

func NewForEach(id string, items any, variable string, body workflow.Activity) *ForEach {
	if variable == "" {
		variable = "CurrentValue"
	}

	return &ForEach{base: base{id: id}, Items: items, Variable: variable, Body: body}
}

func newForEach(id string, config map[string]any, children []workflow.Activity) (workflow.Activity, error) {
	if len(children) != 1 {
		return nil, fmt.Errorf("%w: %s requires exactly one body activity", ErrInvalidConfig, TypeForEach)
	}

	items, ok := config["items"]
	if !ok {
		return nil, fmt.Errorf("%w: %s requires %q", ErrInvalidConfig, TypeForEach, "items")
	}

	return NewForEach(id, items, optionalString(config, "variable", ""), children[0]), nil
}

func (f *ForEach) Type() string {
	return TypeForEach
}

func (f *ForEach) Children() []workflow.Activity {
	return []workflow.Activity{f.Body}
}

func (f *ForEach) Execute(ctx context.Context, actx *workflow.ActivityExecutionContext) error {
	evaluated, err := actx.Evaluate(f.Items)
	if err != nil {
		return fmt.Errorf("failed to evaluate items: %w", err)
	}

	items, ok := evaluated.([]any)
	if !ok {
		return fmt.Errorf("%w: %s items evaluated to %T, want a list", ErrInvalidConfig, TypeForEach, evaluated)
	}

	if len(items) == 0 {
		return actx.Complete(ctx, nil)
	}

	actx.Properties["items"] = items
	actx.Properties["index"] = 0
	f.scheduleIteration(actx, items[0])

	return nil
}

func (f *ForEach) OnChildCompleted(ctx context.Context, actx, _ *workflow.ActivityExecutionContext) error {
	items, _ := actx.Properties["items"].([]any)

	next := actx.IntProperty("index") + 1
	if next >= len(items) {
		return actx.Complete(ctx, nil)
	}

	actx.Properties["index"] = next
	f.scheduleIteration(actx, items[next])

	return nil
}

func (f *ForEach) scheduleIteration(actx *workflow.ActivityExecutionContext, item any) {
	actx.ScheduleActivity(f.Body, workflow.LocationReference{Name: f.Variable, Default: item})
}
