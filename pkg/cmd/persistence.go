package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/novotx/elsa-core/pkg/persistence"
	"github.com/novotx/elsa-core/pkg/persistence/file"
	"github.com/novotx/elsa-core/pkg/persistence/memory"
	"github.com/novotx/elsa-core/pkg/persistence/postgresql"
	"github.com/novotx/elsa-core/pkg/persistence/redis"
	"github.com/novotx/elsa-core/pkg/persistence/sqlite"
)

var ErrUnsupportedProvider = errors.New("unsupported provider")

// ParsePersistenceProvider returns the backend named by the scheme of databaseURL. A URL
// without a scheme is a file store directory.
func ParsePersistenceProvider(databaseURL string) string {
	scheme, _, found := strings.Cut(databaseURL, "://")
	if !found {
		if databaseURL == "memory" {
			return "memory"
		}

		return "file"
	}

	switch scheme {
	case "postgres", "postgresql":
		return "postgresql"
	default:
		return scheme
	}
}

// NewPersistence opens the store named by databaseURL: memory, file://<dir>, sqlite://<path>
// or postgres://...
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	switch provider := ParsePersistenceProvider(databaseURL); provider {
	case "memory":
		return memory.NewPersistence(), nil
	case "file":
		return file.NewPersistence(databaseURL)
	case "sqlite":
		return sqlite.NewPersistence(ctx, logger, strings.TrimPrefix(databaseURL, "sqlite://"))
	case "postgresql":
		return postgresql.NewPersistence(ctx, logger, databaseURL)
	default:
		return nil, fmt.Errorf("%w: persistence %q", ErrUnsupportedProvider, provider)
	}
}

// NewIndex wraps store with the bookmark and trigger index at indexURL. An empty URL keeps
// the store's own index.
func NewIndex(ctx context.Context, logger *slog.Logger, store persistence.Persistence, indexURL string) (persistence.Persistence, error) {
	if indexURL == "" {
		return store, nil
	}

	switch provider := ParsePersistenceProvider(indexURL); provider {
	case "redis", "rediss":
		index, err := redis.NewFromURL(ctx, indexURL, redis.WithLogger(logger))
		if err != nil {
			return nil, err
		}

		return persistence.WithIndex(store, index), nil
	default:
		return nil, fmt.Errorf("%w: index %q", ErrUnsupportedProvider, provider)
	}
}
