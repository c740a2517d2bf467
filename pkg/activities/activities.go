// Package activities provides the built-in activity types and their factories.
package activities

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/novotx/elsa-core/pkg/registry"
	"github.com/novotx/elsa-core/pkg/workflow"
)

// Activity type names.
const (
	TypeSequence    = "Sequence"
	TypeParallel    = "Parallel"
	TypeForEach     = "ForEach"
	TypeWriteLine   = "WriteLine"
	TypeWriteFile   = "WriteFile"
	TypeSetVariable = "SetVariable"
	TypeEvent       = "Event"
	TypeWebhook     = "Webhook"
	TypeCron        = "Cron"
	TypeFault       = "Fault"
	TypeHTTPRequest = "SendHttpRequest"
)

var ErrInvalidConfig = errors.New("invalid activity configuration")

// base carries the activity id shared by every built-in.
type base struct {
	id string
}

func (b base) ID() string {
	return b.id
}

// RegisterBuiltins registers every built-in activity type. WriteLine writes to out.
func RegisterBuiltins(reg *registry.Registry, out io.Writer, logger *slog.Logger) {
	reg.Register(factory{TypeSequence, newSequence})
	reg.Register(factory{TypeParallel, newParallel})
	reg.Register(factory{TypeForEach, newForEach})
	reg.Register(factory{TypeWriteLine, func(id string, config map[string]any, _ []workflow.Activity) (workflow.Activity, error) {
		return newWriteLine(id, config, out)
	}})
	reg.Register(factory{TypeWriteFile, newWriteFile})
	reg.Register(factory{TypeSetVariable, newSetVariable})
	reg.Register(factory{TypeEvent, newEvent})
	reg.Register(factory{TypeWebhook, newWebhook})
	reg.Register(factory{TypeCron, newCron})
	reg.Register(factory{TypeFault, newFault})
	reg.Register(factory{TypeHTTPRequest, func(id string, config map[string]any, _ []workflow.Activity) (workflow.Activity, error) {
		return NewHTTPRequest(id, config, logger)
	}})
}

type createFunc func(id string, config map[string]any, children []workflow.Activity) (workflow.Activity, error)

type factory struct {
	typeName string
	create   createFunc
}

func (f factory) ID() string {
	return f.typeName
}

func (f factory) Create(id string, config map[string]any, children []workflow.Activity) (workflow.Activity, error) {
	return f.create(id, config, children)
}

func requiredString(typeName string, config map[string]any, key string) (string, error) {
	value, ok := config[key].(string)
	if !ok || value == "" {
		return "", fmt.Errorf("%w: %s requires a non-empty %q", ErrInvalidConfig, typeName, key)
	}

	return value, nil
}

func optionalString(config map[string]any, key, fallback string) string {
	value, ok := config[key].(string)
	if !ok || value == "" {
		return fallback
	}

	return value
}

func noChildren(typeName string, children []workflow.Activity) error {
	if len(children) > 0 {
		return fmt.Errorf("%w: %s cannot have child activities", ErrInvalidConfig, typeName)
	}

	return nil
}
