package workflow

import "github.com/novotx/elsa-core/pkg/template"

// ExpressionContext evaluates expressions against one scope of the register chain. It is
// chained to the expression context of the parent scope; the workflow scope ends the chain.
type ExpressionContext struct {
	workflow *WorkflowExecutionContext
	handle   int
}

// Parent returns the enclosing expression context, or nil at the workflow scope.
func (e *ExpressionContext) Parent() *ExpressionContext {
	if e.handle == RootHandle {
		return nil
	}

	_, parent, ok := e.workflow.registerAt(e.handle)
	if !ok {
		return nil
	}

	return &ExpressionContext{workflow: e.workflow, handle: parent}
}

// Get resolves a variable through the chain.
func (e *ExpressionContext) Get(name string) (any, bool) {
	return e.workflow.get(e.handle, name)
}

// Variables returns every variable visible from this scope.
func (e *ExpressionContext) Variables() map[string]any {
	return e.workflow.variablesAt(e.handle)
}

// Evaluate renders the templated strings in value. Templates see .vars, .input and .workflow.
func (e *ExpressionContext) Evaluate(value any) (any, error) {
	return template.RenderValue(value, e.data())
}

func (e *ExpressionContext) data() map[string]any {
	w := e.workflow

	return map[string]any{
		"vars":  e.Variables(),
		"input": w.Input,
		"workflow": map[string]any{
			"id":             w.ID,
			"definition_id":  w.DefinitionID,
			"version":        w.Version,
			"correlation_id": w.CorrelationID,
		},
	}
}
