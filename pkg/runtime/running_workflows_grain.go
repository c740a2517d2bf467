package runtime

import (
	"context"
	"fmt"

	"github.com/novotx/elsa-core/pkg/models"
)

type runningEntry struct {
	definitionID  string
	version       int
	correlationID string
}

// runningWorkflowsGrain keeps the set of running and suspended instances so counts never scan
// instance grains. It seeds itself from the instance store on activation.
type runningWorkflowsGrain struct {
	runtime *Runtime
	running map[string]runningEntry
}

func newRunningWorkflowsGrain(r *Runtime) *runningWorkflowsGrain {
	return &runningWorkflowsGrain{runtime: r, running: make(map[string]runningEntry)}
}

func (g *runningWorkflowsGrain) Activate(ctx context.Context) error {
	states, err := g.runtime.store.WorkflowInstanceRepository().Find(ctx, models.InstanceFilter{
		Statuses: []models.WorkflowStatus{models.WorkflowStatusRunning, models.WorkflowStatusSuspended},
	})
	if err != nil {
		return fmt.Errorf("failed to load running instances: %w", err)
	}

	for _, s := range states {
		g.running[s.ID] = runningEntry{definitionID: s.DefinitionID, version: s.DefinitionVersion, correlationID: s.CorrelationID}
	}

	return nil
}

func (g *runningWorkflowsGrain) Receive(_ context.Context, msg any) (any, error) {
	switch m := msg.(type) {
	case WorkflowStatusChanged:
		if m.Status.IsRunning() {
			g.running[m.InstanceID] = runningEntry{definitionID: m.DefinitionID, version: m.Version, correlationID: m.CorrelationID}
		} else {
			delete(g.running, m.InstanceID)
		}

		return Ack{}, nil
	case CountRunningWorkflowsRequest:
		count := 0

		for _, e := range g.running {
			if m.DefinitionID != "" && e.definitionID != m.DefinitionID {
				continue
			}

			if m.Version > 0 && e.version != m.Version {
				continue
			}

			if m.CorrelationID != "" && e.correlationID != m.CorrelationID {
				continue
			}

			count++
		}

		return CountRunningWorkflowsResponse{Count: count}, nil
	default:
		return nil, fmt.Errorf("%s cannot handle %T", RunningWorkflowsGrainKind, msg)
	}
}
