package activities_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/novotx/elsa-core/pkg/activities"
	"github.com/novotx/elsa-core/pkg/models"
	"github.com/novotx/elsa-core/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFile_Execute(t *testing.T) {
	tests := []struct {
		name    string
		config  map[string]any
		input   map[string]any
		file    string
		want    string
		wantRaw bool
	}{
		{
			name:   "workflow input as json",
			config: map[string]any{"file_name": "order-{{ .input.id }}.json"},
			input:  map[string]any{"id": "a1"},
			file:   "order-a1.json",
			want:   `{"id":"a1"}`,
		},
		{
			name:    "templated text",
			config:  map[string]any{"file_name": "note.txt", "content": "hello {{ .input.name }}"},
			input:   map[string]any{"name": "ada"},
			file:    "note.txt",
			want:    "hello ada",
			wantRaw: true,
		},
		{
			name:   "templated object",
			config: map[string]any{"file_name": "out.json", "content": map[string]any{"who": "{{ .input.name }}"}},
			input:  map[string]any{"name": "ada"},
			file:   "out.json",
			want:   `{"who":"ada"}`,
		},
	}

	reg := newBuiltinRegistry(nil)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			tt.config["directory"] = dir
			tt.config["result"] = "written"

			activity, err := reg.Create(activities.TypeWriteFile, "write", tt.config, nil)
			require.NoError(t, err)

			wctx := runActivity(t, activity, tt.input, workflow.LocationReference{Name: "written"})
			require.Equal(t, models.WorkflowStatusFinished, wctx.Status)

			data, err := os.ReadFile(filepath.Join(dir, tt.file))
			require.NoError(t, err)

			if tt.wantRaw {
				assert.Equal(t, tt.want, string(data))
			} else {
				assert.JSONEq(t, tt.want, string(data))
			}

			written, ok := wctx.Variable("written")
			require.True(t, ok)
			assert.Equal(t, filepath.Join(dir, tt.file), written.(map[string]any)["file_path"])
		})
	}
}

func TestWriteFile_NoOverwrite(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "taken.txt"), []byte("old"), 0o600))

	reg := newBuiltinRegistry(nil)

	tests := []struct {
		name       string
		overwrite  bool
		wantStatus models.WorkflowStatus
		wantData   string
	}{
		{name: "existing file kept", overwrite: false, wantStatus: models.WorkflowStatusFaulted, wantData: "old"},
		{name: "existing file replaced", overwrite: true, wantStatus: models.WorkflowStatusFinished, wantData: "new"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			activity, err := reg.Create(activities.TypeWriteFile, "write", map[string]any{
				"file_name": "taken.txt",
				"directory": dir,
				"content":   "new",
				"overwrite": tt.overwrite,
			}, nil)
			require.NoError(t, err)

			wctx := runActivity(t, activity, nil)
			assert.Equal(t, tt.wantStatus, wctx.Status)

			data, err := os.ReadFile(filepath.Join(dir, "taken.txt"))
			require.NoError(t, err)
			assert.Equal(t, tt.wantData, string(data))
		})
	}
}
