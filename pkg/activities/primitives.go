package activities

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/novotx/elsa-core/pkg/workflow"
)

// WriteLine renders Text and writes it as one line to its writer.
type WriteLine struct {
	base

	Text any
	out  io.Writer
}

func NewWriteLine(id string, text any, out io.Writer) *WriteLine {
	if out == nil {
		out = io.Discard
	}

	return &WriteLine{base: base{id: id}, Text: text, out: out}
}

func newWriteLine(id string, config map[string]any, out io.Writer) (workflow.Activity, error) {
	text, ok := config["text"]
	if !ok {
		return nil, fmt.Errorf("%w: %s requires %q", ErrInvalidConfig, TypeWriteLine, "text")
	}

	return NewWriteLine(id, text, out), nil
}

func (w *WriteLine) Type() string {
	return TypeWriteLine
}

func (w *WriteLine) Execute(ctx context.Context, actx *workflow.ActivityExecutionContext) error {
	text, err := actx.Evaluate(w.Text)
	if err != nil {
		return fmt.Errorf("failed to evaluate text: %w", err)
	}

	line := fmt.Sprint(text)

	_, err = fmt.Fprintln(w.out, line)
	if err != nil {
		return fmt.Errorf("failed to write line: %w", err)
	}

	return actx.Complete(ctx, line)
}

// SetVariable assigns the evaluated Value to the nearest variable named Variable.
type SetVariable struct {
	base

	Variable string
	Value    any
}

func NewSetVariable(id, variable string, value any) *SetVariable {
	return &SetVariable{base: base{id: id}, Variable: variable, Value: value}
}

func newSetVariable(id string, config map[string]any, children []workflow.Activity) (workflow.Activity, error) {
	err := noChildren(TypeSetVariable, children)
	if err != nil {
		return nil, err
	}

	variable, err := requiredString(TypeSetVariable, config, "variable")
	if err != nil {
		return nil, err
	}

	return NewSetVariable(id, variable, config["value"]), nil
}

func (s *SetVariable) Type() string {
	return TypeSetVariable
}

func (s *SetVariable) Execute(ctx context.Context, actx *workflow.ActivityExecutionContext) error {
	value, err := actx.Evaluate(s.Value)
	if err != nil {
		return fmt.Errorf("failed to evaluate value of %s: %w", s.Variable, err)
	}

	actx.Set(s.Variable, value)

	return actx.Complete(ctx, value)
}

// Fault fails with Message.
type Fault struct {
	base

	Message string
}

func NewFault(id, message string) *Fault {
	return &Fault{base: base{id: id}, Message: message}
}

func newFault(id string, config map[string]any, _ []workflow.Activity) (workflow.Activity, error) {
	return NewFault(id, optionalString(config, "message", "fault")), nil
}

func (f *Fault) Type() string {
	return TypeFault
}

func (f *Fault) Execute(_ context.Context, actx *workflow.ActivityExecutionContext) error {
	message, err := actx.Evaluate(f.Message)
	if err != nil {
		return err
	}

	return errors.New(fmt.Sprint(message))
}
