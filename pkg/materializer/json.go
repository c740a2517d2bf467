// Package materializer builds executable workflows from the JSON graph stored with a definition.
package materializer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/novotx/elsa-core/pkg/models"
	"github.com/novotx/elsa-core/pkg/registry"
	"github.com/novotx/elsa-core/pkg/workflow"
	"github.com/xeipuuv/gojsonschema"
)

// Name is the materializer name of JSON graphs.
const Name = "json"

// CanStartWorkflowProperty marks an activity outside the entry path as a start activity.
const CanStartWorkflowProperty = "can_start_workflow"

var ErrInvalidGraph = errors.New("invalid workflow graph")

const graphSchema = `{
  "definitions": {
    "node": {
      "type": "object",
      "required": ["type", "id"],
      "properties": {
        "type": {"type": "string", "minLength": 1},
        "id": {"type": "string", "minLength": 1},
        "properties": {
          "type": "object",
          "properties": {"can_start_workflow": {"type": "boolean"}}
        },
        "activities": {"type": "array", "items": {"$ref": "#/definitions/node"}}
      }
    }
  },
  "allOf": [{"$ref": "#/definitions/node"}],
  "properties": {
    "variables": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name"],
        "properties": {"name": {"type": "string", "minLength": 1}}
      }
    }
  }
}`

// Node is one activity of a JSON graph. Variables are only read on the root node.
type Node struct {
	Type       string                       `json:"type"`
	ID         string                       `json:"id"`
	Properties map[string]any               `json:"properties,omitempty"`
	Activities []Node                       `json:"activities,omitempty"`
	Variables  []workflow.LocationReference `json:"variables,omitempty"`
}

// JSONMaterializer validates a graph against its schema and builds it through the activity registry.
type JSONMaterializer struct {
	registry *registry.Registry
	schema   *gojsonschema.Schema
}

func NewJSONMaterializer(reg *registry.Registry) (*JSONMaterializer, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(graphSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to compile graph schema: %w", err)
	}

	return &JSONMaterializer{registry: reg, schema: schema}, nil
}

func (m *JSONMaterializer) Name() string {
	return Name
}

func (m *JSONMaterializer) Materialize(_ context.Context, definition *models.WorkflowDefinition) (*workflow.Workflow, error) {
	root, err := m.Parse(definition.StringData)
	if err != nil {
		return nil, err
	}

	activity, err := m.build(root)
	if err != nil {
		return nil, err
	}

	wf, err := workflow.NewWorkflow(definition, activity, root.Variables...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidGraph, err)
	}

	err = wf.AllowStart(root.startable()...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidGraph, err)
	}

	return wf, nil
}

// startable collects the ids of nodes flagged with CanStartWorkflowProperty.
func (n *Node) startable() []string {
	var ids []string

	if flag, _ := n.Properties[CanStartWorkflowProperty].(bool); flag {
		ids = append(ids, n.ID)
	}

	for i := range n.Activities {
		ids = append(ids, n.Activities[i].startable()...)
	}

	return ids
}

// Parse validates data and decodes its root node.
func (m *JSONMaterializer) Parse(data string) (*Node, error) {
	result, err := m.schema.Validate(gojsonschema.NewStringLoader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidGraph, err)
	}

	if !result.Valid() {
		var errs []string
		for _, e := range result.Errors() {
			errs = append(errs, e.String())
		}

		return nil, fmt.Errorf("%w: %s", ErrInvalidGraph, strings.Join(errs, "; "))
	}

	var root Node

	err = json.Unmarshal([]byte(data), &root)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidGraph, err)
	}

	return &root, nil
}

func (m *JSONMaterializer) build(node *Node) (workflow.Activity, error) {
	children := make([]workflow.Activity, 0, len(node.Activities))

	for i := range node.Activities {
		child, err := m.build(&node.Activities[i])
		if err != nil {
			return nil, err
		}

		children = append(children, child)
	}

	activity, err := m.registry.Create(node.Type, node.ID, node.Properties, children)
	if err != nil {
		return nil, fmt.Errorf("failed to build activity %s: %w", node.ID, err)
	}

	return activity, nil
}
