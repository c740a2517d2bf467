package cmd_test

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/novotx/elsa-core/pkg/activities"
	"github.com/novotx/elsa-core/pkg/channels/kafka"
	"github.com/novotx/elsa-core/pkg/cmd"
	"github.com/novotx/elsa-core/pkg/persistence/file"
	"github.com/novotx/elsa-core/pkg/persistence/memory"
	"github.com/novotx/elsa-core/pkg/persistence/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParsePersistenceProvider(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{url: "memory", want: "memory"},
		{url: "./data", want: "file"},
		{url: "file:///var/lib/elsa", want: "file"},
		{url: "sqlite:///tmp/elsa.db", want: "sqlite"},
		{url: "postgres://user@localhost/elsa", want: "postgresql"},
		{url: "postgresql://user@localhost/elsa", want: "postgresql"},
		{url: "redis://localhost:6379/0", want: "redis"},
		{url: "mongodb://localhost", want: "mongodb"},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, cmd.ParsePersistenceProvider(tt.url))
		})
	}
}

func TestNewPersistence(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	tests := []struct {
		name string
		url  string
		want any
	}{
		{name: "memory", url: "memory", want: &memory.Persistence{}},
		{name: "file", url: "file://" + filepath.Join(dir, "files"), want: &file.Persistence{}},
		{name: "sqlite", url: "sqlite://" + filepath.Join(dir, "elsa.db"), want: &sqlite.Persistence{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := cmd.NewPersistence(ctx, discardLogger(), tt.url)
			require.NoError(t, err)

			t.Cleanup(func() { _ = store.Close(ctx) })

			assert.IsType(t, tt.want, store)
			assert.NoError(t, store.HealthCheck(ctx))
		})
	}

	_, err := cmd.NewPersistence(ctx, discardLogger(), "mongodb://localhost")
	assert.ErrorIs(t, err, cmd.ErrUnsupportedProvider)
}

func TestNewIndex(t *testing.T) {
	ctx := context.Background()
	store := memory.NewPersistence()

	same, err := cmd.NewIndex(ctx, discardLogger(), store, "")
	require.NoError(t, err)
	assert.Same(t, store, same)

	_, err = cmd.NewIndex(ctx, discardLogger(), store, "memcached://localhost")
	assert.ErrorIs(t, err, cmd.ErrUnsupportedProvider)
}

func TestNewEventBus(t *testing.T) {
	bus, err := cmd.NewEventBus("memory", "", discardLogger())
	require.NoError(t, err)
	assert.NoError(t, bus.Close())

	_, err = cmd.NewEventBus("kafka", " , ", discardLogger())
	assert.ErrorIs(t, err, kafka.ErrNoBrokers)

	_, err = cmd.NewEventBus("rabbitmq", "", discardLogger())
	assert.ErrorIs(t, err, cmd.ErrUnsupportedProvider)
}

func TestNewRegistry(t *testing.T) {
	reg, err := cmd.NewRegistry(discardLogger(), io.Discard, t.TempDir())
	require.NoError(t, err)

	assert.Contains(t, reg.Types(), activities.TypeSequence)
	assert.Contains(t, reg.Types(), activities.TypeEvent)
}
