// Package runtime is the distributed workflow runtime: instance-oriented operations on top of
// the grain cluster. Each instance is owned by the grain "WorkflowGrain-<instance id>", bookmarks
// are indexed by "BookmarkGrain-<hash>" and running instances are counted by
// "RunningWorkflowsGrain".
package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/novotx/elsa-core/pkg/bookmarks"
	"github.com/novotx/elsa-core/pkg/cluster"
	"github.com/novotx/elsa-core/pkg/eventbus"
	"github.com/novotx/elsa-core/pkg/identity"
	"github.com/novotx/elsa-core/pkg/metrics"
	"github.com/novotx/elsa-core/pkg/models"
	"github.com/novotx/elsa-core/pkg/otelhelper"
	"github.com/novotx/elsa-core/pkg/persistence"
	"github.com/novotx/elsa-core/pkg/workflow"
	"github.com/novotx/elsa-core/pkg/workflow/pipeline"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// WorkflowExecutionResult describes an instance after one start or resume.
type WorkflowExecutionResult struct {
	InstanceID    string                `json:"instance_id"`
	DefinitionID  string                `json:"definition_id"`
	Version       int                   `json:"version"`
	CorrelationID string                `json:"correlation_id,omitempty"`
	Status        models.WorkflowStatus `json:"status"`
	Bookmarks     []models.Bookmark     `json:"bookmarks"`
	Fault         *models.WorkflowFault `json:"fault,omitempty"`
}

func resultOf(state *models.WorkflowState) WorkflowExecutionResult {
	bookmarks := state.Bookmarks
	if bookmarks == nil {
		bookmarks = []models.Bookmark{}
	}

	return WorkflowExecutionResult{
		InstanceID:    state.ID,
		DefinitionID:  state.DefinitionID,
		Version:       state.DefinitionVersion,
		CorrelationID: state.CorrelationID,
		Status:        state.Status,
		Bookmarks:     bookmarks,
		Fault:         state.Fault,
	}
}

// StartWorkflowOptions configures StartWorkflow and CanStartWorkflow. A zero VersionOptions
// selects the published version.
type StartWorkflowOptions struct {
	InstanceID        string
	VersionOptions    models.VersionOptions
	CorrelationID     string
	Input             map[string]any
	TriggerActivityID string
}

// ResumeWorkflowOptions selects the bookmark to resume: by id, else activity instance id, else
// activity id. A non-empty CorrelationID must match the instance's.
type ResumeWorkflowOptions struct {
	BookmarkID         string
	ActivityID         string
	ActivityInstanceID string
	// Hash restricts the resume to a bookmark with this hash.
	Hash          string
	CorrelationID string
	Input              map[string]any
}

// ResumeWorkflowsOptions narrows a hash-based resume to a correlation id or a single instance.
type ResumeWorkflowsOptions struct {
	CorrelationID      string
	WorkflowInstanceID string
	Input              map[string]any
}

type TriggerWorkflowsOptions struct {
	CorrelationID string
	Input         map[string]any
}

// CountRunningWorkflowsArgs filters the running count. Empty fields match everything.
type CountRunningWorkflowsArgs struct {
	DefinitionID  string
	Version       int
	CorrelationID string
}

// Runtime implements the instance operations by messaging grains.
type Runtime struct {
	cluster   *cluster.Cluster
	store     persistence.Persistence
	workflows *workflow.Repository
	executor  *workflow.Executor

	middleware []workflow.Middleware
	ids        identity.Generator
	hasher     bookmarks.Hasher
	notifier   eventbus.EventPublisher
	tracer     trace.Tracer
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

type Option func(*Runtime)

func WithTracer(tracer trace.Tracer) Option {
	return func(r *Runtime) { r.tracer = tracer }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runtime) { r.metrics = m }
}

// WithNotifier publishes instance and activity notifications on the event bus.
func WithNotifier(notifier eventbus.EventPublisher) Option {
	return func(r *Runtime) { r.notifier = notifier }
}

func WithIdentity(ids identity.Generator) Option {
	return func(r *Runtime) { r.ids = ids }
}

func WithHasher(hasher bookmarks.Hasher) Option {
	return func(r *Runtime) { r.hasher = hasher }
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Runtime) { r.logger = logger }
}

// WithMiddleware replaces the default activity pipeline.
func WithMiddleware(mws ...workflow.Middleware) Option {
	return func(r *Runtime) { r.middleware = mws }
}

// New creates the runtime and registers its grain kinds on c.
func New(c *cluster.Cluster, store persistence.Persistence, workflows *workflow.Repository, opts ...Option) *Runtime {
	r := &Runtime{
		cluster:   c,
		store:     store,
		workflows: workflows,
		ids:       identity.Default,
		hasher:    bookmarks.NewHasher(),
		tracer:    otelhelper.NoopTracer(),
		logger:    slog.Default(),
	}

	for _, o := range opts {
		o(r)
	}

	r.logger = r.logger.With("module", "workflow_runtime")

	if r.middleware == nil {
		r.middleware = pipeline.Default(pipeline.Config{
			Logger:   r.logger,
			Tracer:   r.tracer,
			Metrics:  r.metrics,
			Notifier: r.notifier,
		})
	}

	r.executor = workflow.NewExecutor(workflow.NewInvoker(r.middleware...), r.ids, r.hasher, r.logger)

	c.Register(WorkflowGrainKind, func(instanceID string) (cluster.Grain, error) {
		return newWorkflowGrain(r, instanceID), nil
	})
	c.Register(BookmarkGrainKind, func(hash string) (cluster.Grain, error) {
		return newBookmarkGrain(r, hash), nil
	})
	c.Register(RunningWorkflowsGrainKind, func(string) (cluster.Grain, error) {
		return newRunningWorkflowsGrain(r), nil
	})

	return r
}

// Hasher returns the hasher shared by bookmarks and triggers.
func (r *Runtime) Hasher() bookmarks.Hasher {
	return r.hasher
}

// request sends msg to a grain and asserts the response type.
func request[T any](ctx context.Context, r *Runtime, kind, identity string, msg any) (T, error) {
	var zero T

	value, err := r.cluster.Request(ctx, kind, identity, msg)
	if err != nil {
		return zero, err
	}

	response, ok := value.(T)
	if !ok {
		return zero, fmt.Errorf("unexpected response %T from %s", value, cluster.Address(kind, identity))
	}

	return response, nil
}

func encodeInput(input map[string]any) (json.RawMessage, error) {
	if input == nil {
		return nil, nil
	}

	data, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("failed to encode input: %w", err)
	}

	return data, nil
}

func versionOptions(opts models.VersionOptions) string {
	if opts == (models.VersionOptions{}) {
		return models.VersionPublished.String()
	}

	return opts.String()
}

// CanStartWorkflow asks a fresh instance grain whether the definition's activation strategy
// admits a new instance. An unknown definition cannot start.
func (r *Runtime) CanStartWorkflow(ctx context.Context, definitionID string, opts StartWorkflowOptions) (bool, error) {
	instanceID := opts.InstanceID
	if instanceID == "" {
		instanceID = r.ids.NewID()
	}

	response, err := request[CanStartWorkflowResponse](ctx, r, WorkflowGrainKind, instanceID, CanStartWorkflowRequest{
		InstanceID:     instanceID,
		DefinitionID:   definitionID,
		VersionOptions: versionOptions(opts.VersionOptions),
		CorrelationID:  opts.CorrelationID,
	})
	if err != nil {
		return false, err
	}

	return response.CanStart, nil
}

// StartWorkflow creates and runs a new instance. It returns (nil, nil) when no version of the
// definition matches, and ErrCannotStart when the activation strategy rejects the start.
func (r *Runtime) StartWorkflow(ctx context.Context, definitionID string, opts StartWorkflowOptions) (*WorkflowExecutionResult, error) {
	instanceID := opts.InstanceID
	if instanceID == "" {
		instanceID = r.ids.NewID()
	}

	ctx, span := otelhelper.StartSpan(ctx, r.tracer, "runtime.start_workflow",
		attribute.String(otelhelper.DefinitionIDKey, definitionID),
		attribute.String(otelhelper.InstanceIDKey, instanceID),
		attribute.String(otelhelper.CorrelationIDKey, opts.CorrelationID),
	)
	defer span.End()

	input, err := encodeInput(opts.Input)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	response, err := request[StartWorkflowResponse](ctx, r, WorkflowGrainKind, instanceID, StartWorkflowRequest{
		InstanceID:        instanceID,
		DefinitionID:      definitionID,
		VersionOptions:    versionOptions(opts.VersionOptions),
		CorrelationID:     opts.CorrelationID,
		Input:             input,
		TriggerActivityID: opts.TriggerActivityID,
	})
	if workflow.IsDefinitionNotFound(err) {
		return nil, nil
	}

	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	span.SetAttributes(attribute.String(otelhelper.StatusKey, string(response.Result.Status)))

	return &response.Result, nil
}

// ResumeWorkflow resumes one suspended activity of an instance. It returns (nil, nil) when the
// instance does not exist and ErrBookmarkNotFound when no bookmark matches opts.
func (r *Runtime) ResumeWorkflow(ctx context.Context, instanceID string, opts ResumeWorkflowOptions) (*WorkflowExecutionResult, error) {
	ctx, span := otelhelper.StartSpan(ctx, r.tracer, "runtime.resume_workflow",
		attribute.String(otelhelper.InstanceIDKey, instanceID),
		attribute.String(otelhelper.BookmarkIDKey, opts.BookmarkID),
	)
	defer span.End()

	input, err := encodeInput(opts.Input)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	response, err := request[ResumeWorkflowResponse](ctx, r, WorkflowGrainKind, instanceID, ResumeWorkflowRequest{
		InstanceID:         instanceID,
		BookmarkID:         opts.BookmarkID,
		ActivityID:         opts.ActivityID,
		ActivityInstanceID: opts.ActivityInstanceID,
		Hash:               opts.Hash,
		CorrelationID:      opts.CorrelationID,
		Input:              input,
	})
	if workflow.IsInstanceNotFound(err) {
		return nil, nil
	}

	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	span.SetAttributes(attribute.String(otelhelper.StatusKey, string(response.Result.Status)))

	return &response.Result, nil
}

// ResumeWorkflows resumes every instance holding a bookmark on hash(activityTypeName, payload),
// once per instance.
func (r *Runtime) ResumeWorkflows(ctx context.Context, activityTypeName string, payload any, opts ResumeWorkflowsOptions) ([]WorkflowExecutionResult, error) {
	hash, err := r.hasher.Hash(activityTypeName, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to hash %s payload: %w", activityTypeName, err)
	}

	ctx, span := otelhelper.StartSpan(ctx, r.tracer, "runtime.resume_workflows",
		attribute.String(otelhelper.ActivityTypeKey, activityTypeName),
		attribute.String(otelhelper.BookmarkHashKey, hash),
	)
	defer span.End()

	stored, err := r.resolveBookmarks(ctx, hash, activityTypeName, opts.CorrelationID)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	results, err := r.resumeStored(ctx, stored, opts, nil)
	if err != nil {
		otelhelper.SetError(span, err)
	}

	return results, err
}

func (r *Runtime) resolveBookmarks(ctx context.Context, hash, activityTypeName, correlationID string) ([]*models.StoredBookmark, error) {
	response, err := request[ResolveBookmarksResponse](ctx, r, BookmarkGrainKind, hash, ResolveBookmarksRequest{
		Hash:             hash,
		ActivityTypeName: activityTypeName,
		CorrelationID:    correlationID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to resolve bookmarks %s: %w", hash, err)
	}

	return response.Bookmarks, nil
}

// resumeStored resumes the first bookmark of each instance in stored, skipping instances in
// exclude. Stale index entries are skipped.
func (r *Runtime) resumeStored(ctx context.Context, stored []*models.StoredBookmark, opts ResumeWorkflowsOptions, exclude map[string]bool) ([]WorkflowExecutionResult, error) {
	results := make([]WorkflowExecutionResult, 0, len(stored))
	seen := make(map[string]bool, len(stored))

	for _, b := range stored {
		if seen[b.WorkflowInstanceID] || exclude[b.WorkflowInstanceID] {
			continue
		}

		if opts.WorkflowInstanceID != "" && b.WorkflowInstanceID != opts.WorkflowInstanceID {
			continue
		}

		seen[b.WorkflowInstanceID] = true

		result, err := r.ResumeWorkflow(ctx, b.WorkflowInstanceID, ResumeWorkflowOptions{
			BookmarkID: b.BookmarkID,
			Input:      opts.Input,
		})
		if errors.Is(err, workflow.ErrBookmarkNotFound) || (err == nil && result == nil) {
			r.logger.WarnContext(ctx, "Skipping stale bookmark", "bookmark_id", b.BookmarkID, "instance_id", b.WorkflowInstanceID)

			continue
		}

		if err != nil {
			return results, fmt.Errorf("failed to resume instance %s: %w", b.WorkflowInstanceID, err)
		}

		results = append(results, *result)
	}

	return results, nil
}

// TriggerWorkflows starts every definition whose trigger matches hash(activityTypeName, payload)
// and admits a new instance, then resumes every instance holding a matching bookmark.
// Bookmarks are resolved before the starts so new instances are not resumed by the same event.
func (r *Runtime) TriggerWorkflows(ctx context.Context, activityTypeName string, payload any, opts TriggerWorkflowsOptions) ([]WorkflowExecutionResult, error) {
	hash, err := r.hasher.Hash(activityTypeName, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to hash %s payload: %w", activityTypeName, err)
	}

	ctx, span := otelhelper.StartSpan(ctx, r.tracer, "runtime.trigger_workflows",
		attribute.String(otelhelper.ActivityTypeKey, activityTypeName),
		attribute.String(otelhelper.BookmarkHashKey, hash),
	)
	defer span.End()

	triggers, err := r.store.TriggerRepository().FindByHash(ctx, hash)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, fmt.Errorf("failed to find triggers %s: %w", hash, err)
	}

	stored, err := r.resolveBookmarks(ctx, hash, activityTypeName, opts.CorrelationID)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	results := make([]WorkflowExecutionResult, 0, len(triggers)+len(stored))
	started := make(map[string]bool, len(triggers))

	for _, trigger := range triggers {
		startOpts := StartWorkflowOptions{
			InstanceID:        r.ids.NewID(),
			VersionOptions:    models.VersionPublished,
			CorrelationID:     opts.CorrelationID,
			Input:             opts.Input,
			TriggerActivityID: trigger.ActivityID,
		}

		canStart, err := r.CanStartWorkflow(ctx, trigger.WorkflowDefinitionID, startOpts)
		if err != nil {
			otelhelper.SetError(span, err)

			return results, fmt.Errorf("failed to check start of %s: %w", trigger.WorkflowDefinitionID, err)
		}

		if !canStart {
			r.logger.DebugContext(ctx, "Trigger skipped by activation strategy", "definition_id", trigger.WorkflowDefinitionID)

			continue
		}

		result, err := r.StartWorkflow(ctx, trigger.WorkflowDefinitionID, startOpts)
		if workflow.IsCannotStart(err) {
			continue
		}

		if err != nil {
			otelhelper.SetError(span, err)

			return results, fmt.Errorf("failed to start %s: %w", trigger.WorkflowDefinitionID, err)
		}

		if result == nil {
			continue
		}

		started[result.InstanceID] = true
		results = append(results, *result)
	}

	resumed, err := r.resumeStored(ctx, stored, ResumeWorkflowsOptions{CorrelationID: opts.CorrelationID, Input: opts.Input}, started)
	results = append(results, resumed...)

	if err != nil {
		otelhelper.SetError(span, err)

		return results, err
	}

	r.logger.InfoContext(ctx, "Triggered workflows", "activity_type", activityTypeName, "started", len(started), "resumed", len(resumed))

	return results, nil
}

// ExportWorkflowState returns the instance snapshot, or nil when the instance does not exist.
func (r *Runtime) ExportWorkflowState(ctx context.Context, instanceID string) (*models.WorkflowState, error) {
	response, err := request[ExportWorkflowStateResponse](ctx, r, WorkflowGrainKind, instanceID, ExportWorkflowStateRequest{InstanceID: instanceID})
	if err != nil {
		return nil, err
	}

	if response.State == nil {
		return nil, nil
	}

	state, err := models.UnmarshalWorkflowState(response.State)
	if err != nil {
		return nil, fmt.Errorf("failed to decode state of %s: %w", instanceID, err)
	}

	return state, nil
}

// ImportWorkflowState replaces the instance addressed by state.ID with state.
func (r *Runtime) ImportWorkflowState(ctx context.Context, state *models.WorkflowState) error {
	if state == nil || state.ID == "" {
		return fmt.Errorf("cannot import state: %w", persistence.ErrMissingID)
	}

	data, err := state.Marshal()
	if err != nil {
		return fmt.Errorf("failed to encode state of %s: %w", state.ID, err)
	}

	_, err = request[ImportWorkflowStateResponse](ctx, r, WorkflowGrainKind, state.ID, ImportWorkflowStateRequest{State: data})

	return err
}

// UpdateBookmarks applies diff to the bookmark index: every removal first, then every addition,
// each grouped by hash and sent to the grain owning that hash.
func (r *Runtime) UpdateBookmarks(ctx context.Context, instanceID string, diff models.BookmarkDiff, correlationID string) error {
	order, removed := models.GroupBookmarksByHash(diff.Removed)
	for _, hash := range order {
		ids := make([]string, 0, len(removed[hash]))
		for _, b := range removed[hash] {
			ids = append(ids, b.ID)
		}

		_, err := request[Ack](ctx, r, BookmarkGrainKind, hash, RemoveBookmarksByWorkflowRequest{
			Hash:        hash,
			InstanceID:  instanceID,
			BookmarkIDs: ids,
		})
		if err != nil {
			return fmt.Errorf("failed to remove bookmarks %s of %s: %w", hash, instanceID, err)
		}
	}

	order, added := models.GroupBookmarksByHash(diff.Added)
	for _, hash := range order {
		_, err := request[Ack](ctx, r, BookmarkGrainKind, hash, StoreBookmarksRequest{
			Hash:          hash,
			InstanceID:    instanceID,
			CorrelationID: correlationID,
			Bookmarks:     added[hash],
		})
		if err != nil {
			return fmt.Errorf("failed to store bookmarks %s of %s: %w", hash, instanceID, err)
		}
	}

	return nil
}

// CountRunningWorkflows counts running and suspended instances matching args.
func (r *Runtime) CountRunningWorkflows(ctx context.Context, args CountRunningWorkflowsArgs) (int, error) {
	response, err := request[CountRunningWorkflowsResponse](ctx, r, RunningWorkflowsGrainKind, "", CountRunningWorkflowsRequest{
		DefinitionID:  args.DefinitionID,
		Version:       args.Version,
		CorrelationID: args.CorrelationID,
	})
	if err != nil {
		return 0, err
	}

	return response.Count, nil
}
