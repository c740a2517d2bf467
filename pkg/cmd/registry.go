// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/novotx/elsa-core/pkg/activities"
	"github.com/novotx/elsa-core/pkg/registry"
)

// NewRegistry registers the built-in activities, then the activity plugins under pluginsPath.
// WriteLine activities print to out.
func NewRegistry(logger *slog.Logger, out io.Writer, pluginsPath string) (*registry.Registry, error) {
	reg := registry.NewRegistry(logger)

	activities.RegisterBuiltins(reg, out, logger)

	loaded, err := reg.LoadPlugins(pluginsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load activity plugins from %s: %w", pluginsPath, err)
	}

	logger.Info("Registered activities", "types", len(reg.Types()), "plugins", loaded)

	return reg, nil
}
