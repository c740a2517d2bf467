package activities_test

import (
	"bytes"
	"io"
	"log/slog"
	"testing"

	"github.com/novotx/elsa-core/pkg/activities"
	"github.com/novotx/elsa-core/pkg/registry"
	"github.com/novotx/elsa-core/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newBuiltinRegistry(out io.Writer) *registry.Registry {
	reg := registry.NewRegistry(discardLogger())
	activities.RegisterBuiltins(reg, out, discardLogger())

	return reg
}

func TestRegisterBuiltins(t *testing.T) {
	reg := newBuiltinRegistry(io.Discard)

	assert.Equal(t, []string{
		activities.TypeCron,
		activities.TypeEvent,
		activities.TypeFault,
		activities.TypeForEach,
		activities.TypeParallel,
		activities.TypeHTTPRequest,
		activities.TypeSequence,
		activities.TypeSetVariable,
		activities.TypeWebhook,
		activities.TypeWriteFile,
		activities.TypeWriteLine,
	}, reg.Types())
}

func TestFactories(t *testing.T) {
	reg := newBuiltinRegistry(io.Discard)
	child := activities.NewWriteLine("child", "x", nil)

	tests := []struct {
		name         string
		activityType string
		config       map[string]any
		children     []workflow.Activity
		wantErr      bool
	}{
		{name: "sequence", activityType: activities.TypeSequence, children: []workflow.Activity{child}},
		{name: "parallel", activityType: activities.TypeParallel, children: []workflow.Activity{child}},
		{name: "for each", activityType: activities.TypeForEach, config: map[string]any{"items": []any{1}}, children: []workflow.Activity{child}},
		{name: "for each without body", activityType: activities.TypeForEach, config: map[string]any{"items": []any{1}}, wantErr: true},
		{name: "for each without items", activityType: activities.TypeForEach, children: []workflow.Activity{child}, wantErr: true},
		{name: "write line", activityType: activities.TypeWriteLine, config: map[string]any{"text": "hi"}},
		{name: "write line without text", activityType: activities.TypeWriteLine, wantErr: true},
		{name: "set variable", activityType: activities.TypeSetVariable, config: map[string]any{"variable": "x", "value": 1}},
		{name: "set variable without name", activityType: activities.TypeSetVariable, config: map[string]any{"value": 1}, wantErr: true},
		{name: "set variable with children", activityType: activities.TypeSetVariable, config: map[string]any{"variable": "x"}, children: []workflow.Activity{child}, wantErr: true},
		{name: "event", activityType: activities.TypeEvent, config: map[string]any{"name": "approved"}},
		{name: "event without name", activityType: activities.TypeEvent, wantErr: true},
		{name: "webhook", activityType: activities.TypeWebhook, config: map[string]any{"path": "/orders"}},
		{name: "webhook without path", activityType: activities.TypeWebhook, config: map[string]any{"path": ""}, wantErr: true},
		{name: "cron", activityType: activities.TypeCron, config: map[string]any{"expression": "*/5 * * * *"}},
		{name: "cron with invalid expression", activityType: activities.TypeCron, config: map[string]any{"expression": "every day"}, wantErr: true},
		{name: "fault", activityType: activities.TypeFault},
		{name: "http request", activityType: activities.TypeHTTPRequest, config: map[string]any{"url": "http://localhost"}},
		{name: "http request without url", activityType: activities.TypeHTTPRequest, wantErr: true},
		{name: "write file", activityType: activities.TypeWriteFile, config: map[string]any{"file_name": "out.json"}},
		{name: "write file without name", activityType: activities.TypeWriteFile, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			activity, err := reg.Create(tt.activityType, "a1", tt.config, tt.children)
			if tt.wantErr {
				require.ErrorIs(t, err, activities.ErrInvalidConfig)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, "a1", activity.ID())
			assert.Equal(t, tt.activityType, activity.Type())
		})
	}
}

func TestTriggerPayloads(t *testing.T) {
	cron, err := activities.NewCron("c", "0 * * * *")
	require.NoError(t, err)

	tests := []struct {
		name     string
		activity workflow.TriggerSource
		want     []any
	}{
		{name: "event", activity: activities.NewEvent("e", "approved"), want: []any{map[string]any{"name": "approved"}}},
		{name: "webhook", activity: activities.NewWebhook("w", "/orders"), want: []any{map[string]any{"path": "/orders"}}},
		{name: "cron", activity: cron, want: []any{map[string]any{"expression": "0 * * * *"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.activity.TriggerPayloads())
		})
	}
}

func TestParseCronPayload(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
		wantErr bool
	}{
		{name: "valid", payload: `{"expression":"*/5 * * * *"}`, want: "*/5 * * * *"},
		{name: "invalid expression", payload: `{"expression":"every minute"}`, wantErr: true},
		{name: "missing expression", payload: `{}`, wantErr: true},
		{name: "not json", payload: `nope`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := activities.ParseCronPayload(tt.payload)
			if tt.wantErr {
				require.ErrorIs(t, err, activities.ErrInvalidConfig)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestContainers(t *testing.T) {
	a := activities.NewWriteLine("a", "x", nil)
	b := activities.NewWriteLine("b", "y", nil)

	assert.Equal(t, []workflow.Activity{a, b}, activities.NewSequence("s", a, b).Children())
	assert.Equal(t, []workflow.Activity{a, b}, activities.NewParallel("p", a, b).Children())

	loop := activities.NewForEach("f", []any{1}, "", a)
	assert.Equal(t, []workflow.Activity{a}, loop.Children())
	assert.Equal(t, "CurrentValue", loop.Variable)
}

func TestWriteLine_UsesConfiguredWriter(t *testing.T) {
	var out bytes.Buffer

	reg := newBuiltinRegistry(&out)

	activity, err := reg.Create(activities.TypeWriteLine, "w", map[string]any{"text": "hello"}, nil)
	require.NoError(t, err)

	wctx := runActivity(t, activity, nil)

	assert.Equal(t, "hello\n", out.String())
	assert.Equal(t, "hello", wctx.Output["result"])
}
