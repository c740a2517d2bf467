package workflow

import (
	"context"
	"fmt"

	"github.com/novotx/elsa-core/pkg/models"
)

// ActivityHandler runs the behavior at the end of the pipeline.
type ActivityHandler func(ctx context.Context, actx *ActivityExecutionContext) error

// Middleware wraps activity execution. A middleware may skip next to short-circuit the
// invocation, but it must pass ctx through so cancellation reaches the activity.
type Middleware func(ctx context.Context, actx *ActivityExecutionContext, next ActivityHandler) error

// Chain composes middleware; the first one is the outermost.
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, actx *ActivityExecutionContext, next ActivityHandler) error {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			inner := h
			h = func(ctx context.Context, actx *ActivityExecutionContext) error {
				return mw(ctx, actx, inner)
			}
		}

		return h(ctx, actx)
	}
}

// executeActivity is the terminal handler: it runs the activity, or dispatches a pending resume.
func executeActivity(ctx context.Context, actx *ActivityExecutionContext) error {
	bookmark := actx.resumeBookmark
	if bookmark == nil {
		return actx.Activity.Execute(ctx, actx)
	}

	actx.resumeBookmark = nil

	switch bookmark.Callback {
	case models.ResumeInvoke:
		resumable, ok := actx.Activity.(Resumable)
		if !ok {
			return fmt.Errorf("activity %s (%s) cannot be resumed", actx.Activity.ID(), actx.Activity.Type())
		}

		return resumable.Resume(ctx, actx, actx.resumeInput)
	default:
		return actx.Complete(ctx, actx.resumeInput)
	}
}
