package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/novotx/elsa-core/pkg/activities"
	"github.com/novotx/elsa-core/pkg/cmd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cronGraph = `{"type":"Sequence","id":"root","activities":[
	{"type":"Cron","id":"tick","properties":{"expression":"*/5 * * * *"}},
	{"type":"WriteLine","id":"log","properties":{"text":"tick"}}
]}`

func setupTestServer(t *testing.T, config Config) *Server {
	t.Helper()

	if config.DatabaseURL == "" {
		config.DatabaseURL = "memory"
	}

	config.PluginsPath = t.TempDir()

	server, err := NewServer(t.Context(), slog.New(slog.NewTextHandler(io.Discard, nil)), config)
	require.NoError(t, err)

	t.Cleanup(func() { server.Close(context.Background()) })

	return server
}

func setupTestApp(t *testing.T) *fiber.App {
	t.Helper()

	s := setupTestServer(t, Config{})

	return NewAPI(s.logger, s.publisher, s.workflows, s.runtime, s.registry, s.metrics).App()
}

func TestAPI_Endpoints(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)

	tests := []struct {
		method string
		target string
		status int
		body   string
	}{
		{http.MethodGet, "/", http.StatusOK, "Elsa workflow server"},
		{http.MethodGet, "/livez", http.StatusOK, ""},
		{http.MethodGet, "/readyz", http.StatusOK, ""},
		{http.MethodGet, "/health", http.StatusOK, "healthy"},
		{http.MethodGet, "/metrics", http.StatusOK, "go_goroutines"},
		{http.MethodGet, "/activities", http.StatusOK, activities.TypeWriteLine},
		{http.MethodGet, "/instances/count", http.StatusOK, `{"count":0}`},
		{http.MethodPost, "/webhooks/none", http.StatusNotFound, "webhook_not_found"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.target, func(t *testing.T) {
			resp, err := app.Test(httptest.NewRequest(tt.method, tt.target, nil))
			require.NoError(t, err)

			defer func() { _ = resp.Body.Close() }()

			assert.Equal(t, tt.status, resp.StatusCode)

			data, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			assert.Contains(t, string(data), tt.body)
		})
	}
}

func TestNewServer_UnsupportedProviders(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		config Config
	}{
		{"database", Config{DatabaseURL: "mongodb://localhost"}},
		{"event bus", Config{DatabaseURL: "memory", EventBus: "nats"}},
		{"index", Config{DatabaseURL: "memory", IndexURL: "memcached://localhost"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			tt.config.PluginsPath = t.TempDir()

			_, err := NewServer(t.Context(), slog.New(slog.NewTextHandler(io.Discard, nil)), tt.config)
			assert.ErrorIs(t, err, cmd.ErrUnsupportedProvider)
		})
	}
}

func TestServer_PublishIndexesAndSchedules(t *testing.T) {
	t.Parallel()

	s := setupTestServer(t, Config{})

	require.NoError(t, s.indexer.Subscribe(s.bus))
	require.NoError(t, s.scheduler.Subscribe(s.bus))
	require.NoError(t, s.bus.Subscribe(t.Context()))
	require.NoError(t, s.scheduler.Start(t.Context()))

	definition := s.publisher.New()
	definition.StringData = cronGraph

	_, err := s.publisher.Publish(t.Context(), definition)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		triggers, err := s.store.TriggerRepository().FindByActivityType(t.Context(), activities.TypeCron)

		return err == nil && len(triggers) == 1
	}, 5*time.Second, 20*time.Millisecond)

	assert.Eventually(t, func() bool {
		return s.scheduler.Len() == 1
	}, 5*time.Second, 20*time.Millisecond)
}

func TestServer_KafkaReceiverRequiresBrokers(t *testing.T) {
	t.Parallel()

	_, err := NewServer(t.Context(), slog.New(slog.NewTextHandler(io.Discard, nil)), Config{
		DatabaseURL:  "memory",
		KafkaBrokers: " , ",
		KafkaTopics:  []string{"events"},
		PluginsPath:  t.TempDir(),
	})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "broker"), err.Error())
}
