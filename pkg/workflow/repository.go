package workflow

import (
	"context"
	"fmt"
	"sync"

	"github.com/novotx/elsa-core/pkg/models"
	"github.com/novotx/elsa-core/pkg/persistence"
)

// Materializer turns the serialized graph of a definition into an executable Workflow.
type Materializer interface {
	Name() string
	Materialize(ctx context.Context, definition *models.WorkflowDefinition) (*Workflow, error)
}

type cachedWorkflow struct {
	data     string
	workflow *Workflow
}

// Repository loads definitions from the store and materializes them. Materialized workflows are
// cached per definition version and reused while the stored graph is unchanged.
type Repository struct {
	persistence   persistence.Persistence
	materializers map[string]Materializer

	mu    sync.RWMutex
	cache map[string]cachedWorkflow
}

func NewRepository(persistence persistence.Persistence, materializers ...Materializer) *Repository {
	r := &Repository{
		persistence:   persistence,
		materializers: make(map[string]Materializer, len(materializers)),
		cache:         make(map[string]cachedWorkflow),
	}

	for _, m := range materializers {
		r.materializers[m.Name()] = m
	}

	return r
}

func (r *Repository) HealthCheck(ctx context.Context) (string, bool) {
	if r.persistence == nil {
		return "Persistence layer not initialized", false
	}

	if err := r.persistence.HealthCheck(ctx); err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// FindDefinition returns the version of definitionID selected by opts, or nil when none matches.
func (r *Repository) FindDefinition(ctx context.Context, definitionID string, opts models.VersionOptions) (*models.WorkflowDefinition, error) {
	definition, err := r.persistence.WorkflowDefinitionRepository().FindByDefinitionID(ctx, definitionID, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find definition %s (%s): %w", definitionID, opts, err)
	}

	return definition, nil
}

// Load finds and materializes the version of definitionID selected by opts.
// It returns ErrDefinitionNotFound when no version matches.
func (r *Repository) Load(ctx context.Context, definitionID string, opts models.VersionOptions) (*Workflow, error) {
	definition, err := r.FindDefinition(ctx, definitionID, opts)
	if err != nil {
		return nil, err
	}

	if definition == nil {
		return nil, fmt.Errorf("%w: %s (%s)", ErrDefinitionNotFound, definitionID, opts)
	}

	return r.Materialize(ctx, definition)
}

// Materialize builds the workflow of definition with the materializer it names.
func (r *Repository) Materialize(ctx context.Context, definition *models.WorkflowDefinition) (*Workflow, error) {
	r.mu.RLock()
	cached, ok := r.cache[definition.ID]
	r.mu.RUnlock()

	if ok && cached.data == definition.StringData && cached.workflow.Version == definition.Version {
		return cached.workflow, nil
	}

	materializer, ok := r.materializers[definition.MaterializerName]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrMaterializerNotFound, definition.MaterializerName)
	}

	wf, err := materializer.Materialize(ctx, definition)
	if err != nil {
		return nil, fmt.Errorf("failed to materialize definition %s v%d: %w", definition.DefinitionID, definition.Version, err)
	}

	r.mu.Lock()
	r.cache[definition.ID] = cachedWorkflow{data: definition.StringData, workflow: wf}
	r.mu.Unlock()

	return wf, nil
}

// Evict drops every cached version of definitionID.
func (r *Repository) Evict(definitionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, cached := range r.cache {
		if cached.workflow.DefinitionID == definitionID {
			delete(r.cache, id)
		}
	}
}
