// Package registry maps activity type names to the factories that build them.
package registry

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"plugin"
	"slices"
	"sync"

	"github.com/novotx/elsa-core/pkg/workflow"
)

var ErrUnknownActivityType = errors.New("activity type not registered")

// ActivityFactory builds activities of one type from their graph node.
type ActivityFactory interface {
	ID() string
	Create(id string, config map[string]any, children []workflow.Activity) (workflow.Activity, error)
}

type Registry struct {
	logger    *slog.Logger
	mu        sync.RWMutex
	factories map[string]ActivityFactory
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		logger:    log.With("module", "activity_registry"),
		factories: make(map[string]ActivityFactory),
	}
}

func (r *Registry) Register(factory ActivityFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.factories[factory.ID()] = factory
}

func (r *Registry) Create(activityType, id string, config map[string]any, children []workflow.Activity) (workflow.Activity, error) {
	r.mu.RLock()
	factory, ok := r.factories[activityType]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownActivityType, activityType)
	}

	if config == nil {
		config = map[string]any{}
	}

	return factory.Create(id, config, children)
}

// Types returns the registered type names, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}

	slices.Sort(types)

	return types
}

// LoadPlugins registers the factories exported as "Activity" by every .so file under
// <pluginsPath>/activities.
func (r *Registry) LoadPlugins(pluginsPath string) (int, error) {
	factories, err := loadPlugin[ActivityFactory](r.logger, pluginsPath, "Activity")
	if err != nil {
		return 0, err
	}

	for _, f := range factories {
		r.Register(f)
	}

	return len(factories), nil
}

func loadPlugin[T any](logger *slog.Logger, pluginsPath string, symbolName string) ([]T, error) {
	rootPath := filepath.Join(pluginsPath, "activities")

	pluginPathList, err := fs.Glob(os.DirFS(rootPath), "*.so")
	if err != nil {
		return nil, err
	}

	l := logger.With(slog.String("path", rootPath), slog.String("symbol", symbolName))
	l.Info("Loading plugins", "count", len(pluginPathList))

	pluginList := make([]T, 0, len(pluginPathList))

	for _, p := range pluginPathList {
		plg, err := plugin.Open(filepath.Join(rootPath, p))
		if err != nil {
			return nil, fmt.Errorf("failed to open plugin %s: %w", p, err)
		}

		v, err := plg.Lookup(symbolName)
		if err != nil {
			return nil, fmt.Errorf("failed to lookup %s in plugin %s: %w", symbolName, p, err)
		}

		castV, ok := v.(T)
		if !ok {
			ptr, isPtr := v.(*T)
			if !isPtr {
				return nil, fmt.Errorf("plugin %s: symbol %s has type %T", p, symbolName, v)
			}

			castV = *ptr
		}

		pluginList = append(pluginList, castV)

		l.Info("Loaded activity plugin", slog.String("plugin", p))
	}

	return pluginList, nil
}
