package workflow

import "context"

// Invoker runs activities through the execution pipeline.
type Invoker struct {
	pipeline Middleware
}

// NewInvoker builds an invoker whose pipeline is the given middleware, outermost first.
func NewInvoker(mws ...Middleware) *Invoker {
	return &Invoker{pipeline: Chain(mws...)}
}

// Invoke creates a context for activity under owner, declares refs into its register,
// appends it to the workflow's arena and runs it through the pipeline.
func (i *Invoker) Invoke(
	ctx context.Context,
	wctx *WorkflowExecutionContext,
	activity Activity,
	owner int,
	refs []LocationReference,
) (*ActivityExecutionContext, error) {
	actx := wctx.newActivityContext(activity, owner, refs)

	return actx, i.InvokeContext(ctx, actx)
}

// InvokeContext re-enters the pipeline for an existing context.
func (i *Invoker) InvokeContext(ctx context.Context, actx *ActivityExecutionContext) error {
	return i.pipeline(ctx, actx, executeActivity)
}
