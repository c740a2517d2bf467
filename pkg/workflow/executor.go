package workflow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/novotx/elsa-core/pkg/bookmarks"
	"github.com/novotx/elsa-core/pkg/identity"
	"github.com/novotx/elsa-core/pkg/models"
)

// StartOptions configures a new instance.
type StartOptions struct {
	InstanceID        string
	CorrelationID     string
	Input             map[string]any
	TriggerActivityID string
}

// ResumeOptions selects the bookmark to resume: by bookmark id, else activity instance id,
// else activity id.
type ResumeOptions struct {
	BookmarkID         string
	ActivityInstanceID string
	ActivityID         string
	// Hash, when set, must equal the hash of the selected bookmark.
	Hash  string
	Input map[string]any
}

// Executor drives an instance's scheduled work through the invoker until it runs out.
type Executor struct {
	invoker *Invoker
	ids     identity.Generator
	hasher  bookmarks.Hasher
	logger  *slog.Logger
}

// NewExecutor creates a new executor.
func NewExecutor(invoker *Invoker, ids identity.Generator, hasher bookmarks.Hasher, logger *slog.Logger) *Executor {
	return &Executor{
		invoker: invoker,
		ids:     ids,
		hasher:  hasher,
		logger:  logger.With("module", "workflow_executor"),
	}
}

// Start creates an instance of wf and runs it from the root until it finishes, faults or suspends.
func (e *Executor) Start(ctx context.Context, wf *Workflow, opts StartOptions) (*WorkflowExecutionContext, error) {
	instanceID := opts.InstanceID
	if instanceID == "" {
		instanceID = e.ids.NewID()
	}

	wctx := newWorkflowExecutionContext(wf, instanceID, e.ids, e.hasher)
	wctx.CorrelationID = opts.CorrelationID
	wctx.TriggerActivityID = opts.TriggerActivityID

	if opts.Input != nil {
		wctx.Input = opts.Input
	}

	logger := e.logger.With("instance_id", instanceID, "definition_id", wf.DefinitionID, "version", wf.Version)
	logger.InfoContext(ctx, "Starting workflow instance", "trigger_activity_id", opts.TriggerActivityID)

	wctx.Schedule(wf.Root, RootHandle)

	err := e.drain(ctx, wctx)
	if err != nil {
		return nil, err
	}

	logger.InfoContext(ctx, "Workflow instance ran", "status", wctx.Status, "bookmarks", len(wctx.Bookmarks))

	return wctx, nil
}

// Resume rebuilds the instance from state and re-enters the pipeline at the suspended activity
// selected by opts. It returns ErrBookmarkNotFound when no bookmark matches.
func (e *Executor) Resume(ctx context.Context, wf *Workflow, state *models.WorkflowState, opts ResumeOptions) (*WorkflowExecutionContext, error) {
	wctx, err := FromState(wf, state, e.ids, e.hasher)
	if err != nil {
		return nil, fmt.Errorf("failed to restore workflow instance %s: %w", state.ID, err)
	}

	bookmark, ok := wctx.FindBookmark(opts.BookmarkID, opts.ActivityInstanceID, opts.ActivityID)
	if !ok || (opts.Hash != "" && bookmark.Hash != opts.Hash) {
		return nil, ErrBookmarkNotFound
	}

	actx, ok := wctx.ContextByInstanceID(bookmark.ActivityInstanceID)
	if !ok {
		return nil, fmt.Errorf("activity context %s of bookmark %s not found", bookmark.ActivityInstanceID, bookmark.ID)
	}

	logger := e.logger.With("instance_id", wctx.ID, "bookmark_id", bookmark.ID, "activity_id", bookmark.ActivityID)
	logger.InfoContext(ctx, "Resuming workflow instance")

	if bookmark.AutoBurn {
		wctx.removeBookmark(bookmark.ID)
	}

	wctx.Status = models.WorkflowStatusRunning
	actx.Status = models.ActivityStatusRunning
	actx.resumeBookmark = &bookmark
	actx.resumeInput = opts.Input

	if actx.resumeInput == nil {
		actx.resumeInput = make(map[string]any)
	}

	err = e.invoker.InvokeContext(ctx, actx)
	if err != nil {
		return nil, err
	}

	err = e.drain(ctx, wctx)
	if err != nil {
		return nil, err
	}

	logger.InfoContext(ctx, "Workflow instance ran", "status", wctx.Status, "bookmarks", len(wctx.Bookmarks))

	return wctx, nil
}

func (e *Executor) drain(ctx context.Context, wctx *WorkflowExecutionContext) error {
	for wctx.HasScheduledWork() {
		err := ctx.Err()
		if err != nil {
			return fmt.Errorf("workflow instance %s canceled: %w", wctx.ID, err)
		}

		item := wctx.popWork()

		activity, ok := wctx.Workflow.Activity(item.ActivityID)
		if !ok {
			return fmt.Errorf("scheduled activity %s not found in workflow %s", item.ActivityID, wctx.DefinitionID)
		}

		_, err = e.invoker.Invoke(ctx, wctx, activity, item.OwnerHandle, item.Variables)
		if err != nil {
			return err
		}
	}

	wctx.finalize()

	return nil
}
