package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/novotx/elsa-core/pkg/bookmarks"
	"github.com/novotx/elsa-core/pkg/identity"
	"github.com/novotx/elsa-core/pkg/models"
)

// RootHandle is the parent handle of the root activity context. It designates the workflow
// scope, whose register holds the workflow variables.
const RootHandle = -1

type workItem struct {
	ActivityID  string
	OwnerHandle int
	Variables   []LocationReference
}

// WorkflowExecutionContext is the live state of one workflow instance. Activity execution
// contexts live in an append-only arena and refer to their parent by handle.
type WorkflowExecutionContext struct {
	ID                string
	DefinitionID      string
	Version           int
	CorrelationID     string
	Status            models.WorkflowStatus
	Fault             *models.WorkflowFault
	Bookmarks         []models.Bookmark
	Input             map[string]any
	Output            map[string]any
	TriggerActivityID string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	FinishedAt        *time.Time

	Workflow *Workflow

	contexts     []*ActivityExecutionContext
	scheduled    []workItem
	register     *Register
	rootComplete bool
	ids          identity.Generator
	hasher       bookmarks.Hasher
}

func newWorkflowExecutionContext(wf *Workflow, id string, ids identity.Generator, hasher bookmarks.Hasher) *WorkflowExecutionContext {
	now := time.Now().UTC()

	w := &WorkflowExecutionContext{
		ID:           id,
		DefinitionID: wf.DefinitionID,
		Version:      wf.Version,
		Status:       models.WorkflowStatusRunning,
		Bookmarks:    make([]models.Bookmark, 0),
		Input:        make(map[string]any),
		Output:       make(map[string]any),
		CreatedAt:    now,
		UpdatedAt:    now,
		Workflow:     wf,
		contexts:     make([]*ActivityExecutionContext, 0),
		register:     NewRegister(),
		ids:          ids,
		hasher:       hasher,
	}

	w.register.Declare(wf.Variables)

	return w
}

// Contexts returns the arena in creation order.
func (w *WorkflowExecutionContext) Contexts() []*ActivityExecutionContext {
	return w.contexts
}

// Context returns the activity context at handle.
func (w *WorkflowExecutionContext) Context(handle int) (*ActivityExecutionContext, bool) {
	if handle < 0 || handle >= len(w.contexts) {
		return nil, false
	}

	return w.contexts[handle], true
}

// ContextByInstanceID finds an activity context by its activity instance id.
func (w *WorkflowExecutionContext) ContextByInstanceID(instanceID string) (*ActivityExecutionContext, bool) {
	for _, c := range w.contexts {
		if c.InstanceID == instanceID {
			return c, true
		}
	}

	return nil, false
}

// Register returns the workflow scope register.
func (w *WorkflowExecutionContext) Register() *Register {
	return w.register
}

// Variable resolves a workflow variable.
func (w *WorkflowExecutionContext) Variable(name string) (any, bool) {
	return w.get(RootHandle, name)
}

// Expressions returns the expression context of the workflow scope.
func (w *WorkflowExecutionContext) Expressions() *ExpressionContext {
	return &ExpressionContext{workflow: w, handle: RootHandle}
}

// HasScheduledWork reports whether work items are pending.
func (w *WorkflowExecutionContext) HasScheduledWork() bool {
	return len(w.scheduled) > 0
}

// Schedule enqueues an activity to be invoked with owner as its parent context.
func (w *WorkflowExecutionContext) Schedule(activity Activity, owner int, variables ...LocationReference) {
	w.scheduled = append(w.scheduled, workItem{ActivityID: activity.ID(), OwnerHandle: owner, Variables: variables})
}

func (w *WorkflowExecutionContext) popWork() workItem {
	item := w.scheduled[0]
	w.scheduled = w.scheduled[1:]

	return item
}

func (w *WorkflowExecutionContext) newActivityContext(activity Activity, owner int, refs []LocationReference) *ActivityExecutionContext {
	register := NewRegister()
	register.Declare(refs)

	actx := &ActivityExecutionContext{
		Handle:       len(w.contexts),
		ParentHandle: owner,
		Activity:     activity,
		InstanceID:   w.ids.NewID(),
		Status:       models.ActivityStatusRunning,
		Properties:   make(map[string]any),
		workflow:     w,
		register:     register,
	}

	w.contexts = append(w.contexts, actx)

	return actx
}

// registerAt returns the register of the scope at handle and the handle of its enclosing scope.
func (w *WorkflowExecutionContext) registerAt(handle int) (*Register, int, bool) {
	if handle == RootHandle {
		return w.register, RootHandle, true
	}

	c, ok := w.Context(handle)
	if !ok {
		return nil, RootHandle, false
	}

	return c.register, c.ParentHandle, true
}

func (w *WorkflowExecutionContext) lookup(handle int, name string) (*Location, bool) {
	for {
		register, parent, ok := w.registerAt(handle)
		if !ok {
			return nil, false
		}

		if loc, found := register.Lookup(name); found {
			return loc, true
		}

		if handle == RootHandle {
			return nil, false
		}

		handle = parent
	}
}

func (w *WorkflowExecutionContext) get(handle int, name string) (any, bool) {
	loc, ok := w.lookup(handle, name)
	if !ok {
		return nil, false
	}

	return loc.Value, true
}

// variablesAt flattens the lookup chain starting at handle; nearer scopes shadow outer ones.
func (w *WorkflowExecutionContext) variablesAt(handle int) map[string]any {
	chain := make([]*Register, 0)

	for {
		register, parent, ok := w.registerAt(handle)
		if !ok {
			break
		}

		chain = append(chain, register)

		if handle == RootHandle {
			break
		}

		handle = parent
	}

	values := make(map[string]any)
	for i := len(chain) - 1; i >= 0; i-- {
		for name, value := range chain[i].Snapshot() {
			values[name] = value
		}
	}

	return values
}

func (w *WorkflowExecutionContext) removeBookmarksOf(activityInstanceID string) {
	kept := make([]models.Bookmark, 0, len(w.Bookmarks))

	for _, b := range w.Bookmarks {
		if b.ActivityInstanceID != activityInstanceID {
			kept = append(kept, b)
		}
	}

	w.Bookmarks = kept
}

func (w *WorkflowExecutionContext) removeBookmark(id string) {
	kept := make([]models.Bookmark, 0, len(w.Bookmarks))

	for _, b := range w.Bookmarks {
		if b.ID != id {
			kept = append(kept, b)
		}
	}

	w.Bookmarks = kept
}

// FindBookmark locates a bookmark by id, activity instance id or activity id, in that order of preference.
func (w *WorkflowExecutionContext) FindBookmark(bookmarkID, activityInstanceID, activityID string) (models.Bookmark, bool) {
	for _, b := range w.Bookmarks {
		switch {
		case bookmarkID != "":
			if b.ID == bookmarkID {
				return b, true
			}
		case activityInstanceID != "":
			if b.ActivityInstanceID == activityInstanceID {
				return b, true
			}
		case activityID != "":
			if b.ActivityID == activityID {
				return b, true
			}
		}
	}

	return models.Bookmark{}, false
}

func (w *WorkflowExecutionContext) completeRoot(output any) {
	w.rootComplete = true

	switch v := output.(type) {
	case nil:
	case map[string]any:
		for key, value := range v {
			w.Output[key] = value
		}
	default:
		w.Output["result"] = v
	}
}

func (w *WorkflowExecutionContext) recordFault(actx *ActivityExecutionContext, err error) {
	if w.Fault != nil {
		return
	}

	w.Fault = &models.WorkflowFault{
		Message:            err.Error(),
		ActivityID:         actx.Activity.ID(),
		ActivityInstanceID: actx.InstanceID,
		OccurredAt:         time.Now().UTC(),
	}
}

// finalize derives the workflow status once scheduled work is drained.
func (w *WorkflowExecutionContext) finalize() {
	now := time.Now().UTC()
	w.UpdatedAt = now

	switch {
	case w.Fault != nil:
		w.Status = models.WorkflowStatusFaulted
	case w.rootComplete:
		w.Status = models.WorkflowStatusFinished
	case len(w.Bookmarks) > 0:
		w.Status = models.WorkflowStatusSuspended
	default:
		w.Status = models.WorkflowStatusFinished
	}

	if w.Status == models.WorkflowStatusFinished || w.Status == models.WorkflowStatusFaulted {
		w.FinishedAt = &now
	}
}

// ActivityExecutionContext is the execution state of one activity instance.
type ActivityExecutionContext struct {
	Handle       int
	ParentHandle int
	Activity     Activity
	InstanceID   string
	Status       models.ActivityStatus
	Properties   map[string]any
	Output       any

	workflow       *WorkflowExecutionContext
	register       *Register
	resumeBookmark *models.Bookmark
	resumeInput    map[string]any
}

// BookmarkOptions describes a suspension point created by an activity.
type BookmarkOptions struct {
	// Payload is hashed with the activity type to form the index key.
	Payload any
	Data    string
	// KeepAlive keeps the bookmark after it is resumed. By default bookmarks are burned on use.
	KeepAlive bool
	Callback  models.ResumeHandler
}

// WorkflowContext returns the owning workflow execution context.
func (a *ActivityExecutionContext) WorkflowContext() *WorkflowExecutionContext {
	return a.workflow
}

// Parent returns the parent activity context, or false for the root activity.
func (a *ActivityExecutionContext) Parent() (*ActivityExecutionContext, bool) {
	return a.workflow.Context(a.ParentHandle)
}

// Register returns the locations declared by this context.
func (a *ActivityExecutionContext) Register() *Register {
	return a.register
}

// Expressions returns the expression context chained to the parent's.
func (a *ActivityExecutionContext) Expressions() *ExpressionContext {
	return &ExpressionContext{workflow: a.workflow, handle: a.Handle}
}

// Evaluate renders templated strings inside value against this context's scope.
func (a *ActivityExecutionContext) Evaluate(value any) (any, error) {
	return a.Expressions().Evaluate(value)
}

// Get resolves name through this context's register and then its ancestors'.
func (a *ActivityExecutionContext) Get(name string) (any, bool) {
	return a.workflow.get(a.Handle, name)
}

// Set assigns the nearest declared location named name, or declares it in this context.
func (a *ActivityExecutionContext) Set(name string, value any) {
	if loc, ok := a.workflow.lookup(a.Handle, name); ok {
		loc.Value = value

		return
	}

	a.register.Set(name, value)
}

// IsResuming reports whether the pending invocation resumes a bookmark.
func (a *ActivityExecutionContext) IsResuming() bool {
	return a.resumeBookmark != nil
}

// ResumeInput returns the input delivered with the bookmark being resumed.
func (a *ActivityExecutionContext) ResumeInput() map[string]any {
	return a.resumeInput
}

// IntProperty reads a numeric property regardless of whether it was restored from JSON.
func (a *ActivityExecutionContext) IntProperty(name string) int {
	switch v := a.Properties[name].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// IsTriggerOfWorkflow reports, once, whether this activity is the trigger that started the instance.
func (a *ActivityExecutionContext) IsTriggerOfWorkflow() bool {
	if a.workflow.TriggerActivityID == "" || a.workflow.TriggerActivityID != a.Activity.ID() {
		return false
	}

	a.workflow.TriggerActivityID = ""

	return true
}

// ScheduleActivity enqueues child to run with this context as its parent.
func (a *ActivityExecutionContext) ScheduleActivity(child Activity, variables ...LocationReference) {
	a.workflow.Schedule(child, a.Handle, variables...)
}

// CreateBookmark suspends the activity until an event hashing like opts.Payload arrives.
func (a *ActivityExecutionContext) CreateBookmark(opts BookmarkOptions) (models.Bookmark, error) {
	hash, err := a.workflow.hasher.Hash(a.Activity.Type(), opts.Payload)
	if err != nil {
		return models.Bookmark{}, err
	}

	callback := opts.Callback
	if callback == "" {
		callback = models.ResumeComplete
	}

	bookmark := models.Bookmark{
		ID:                 a.workflow.ids.NewID(),
		Name:               a.Activity.Type(),
		Hash:               hash,
		Data:               opts.Data,
		ActivityID:         a.Activity.ID(),
		ActivityInstanceID: a.InstanceID,
		AutoBurn:           !opts.KeepAlive,
		Callback:           callback,
		CreatedAt:          time.Now().UTC(),
	}

	a.workflow.Bookmarks = append(a.workflow.Bookmarks, bookmark)
	a.Status = models.ActivityStatusSuspended

	return bookmark, nil
}

// Complete marks the activity completed, drops its bookmarks and notifies the parent.
func (a *ActivityExecutionContext) Complete(ctx context.Context, output any) error {
	if a.Status == models.ActivityStatusCompleted {
		return nil
	}

	a.Status = models.ActivityStatusCompleted
	a.Output = output
	a.workflow.removeBookmarksOf(a.InstanceID)

	if a.ParentHandle == RootHandle {
		a.workflow.completeRoot(output)

		return nil
	}

	parent, ok := a.Parent()
	if !ok {
		return fmt.Errorf("parent context %d of activity %s not found", a.ParentHandle, a.Activity.ID())
	}

	if handler, ok := parent.Activity.(ChildCompletionHandler); ok {
		return handler.OnChildCompleted(ctx, parent, a)
	}

	return parent.Complete(ctx, output)
}

// Fail marks the activity faulted and records the fault on the workflow.
func (a *ActivityExecutionContext) Fail(err error) {
	a.Status = models.ActivityStatusFaulted
	a.workflow.recordFault(a, err)
}
