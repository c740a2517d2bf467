package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender_SimpleExpression(t *testing.T) {
	data := map[string]any{
		"name":  "John",
		"age":   30,
		"isNew": true,
	}

	result, err := Render("{{ .name }}", data)
	require.NoError(t, err)
	assert.Equal(t, "John", result)

	result, err = Render("{{ .isNew }}", data)
	require.NoError(t, err)
	assert.Equal(t, true, result)

	// numbers always decode to float64
	result, err = Render("{{ .age }}", data)
	require.NoError(t, err)
	assert.Equal(t, 30.0, result)
}

func TestRender_ComplexExpression(t *testing.T) {
	data := map[string]any{
		"vars": map[string]any{
			"user": map[string]any{
				"name":  "Alice",
				"email": "alice@example.com",
			},
			"orders": []any{
				map[string]any{"id": 1, "total": 100.50},
				map[string]any{"id": 2, "total": 75.25},
			},
		},
	}

	result, err := Render("{{ .vars.user.name }}", data)
	require.NoError(t, err)
	assert.Equal(t, "Alice", result)

	result, err = Render(`{
		"user_name": "{{ .vars.user.name }}",
		"total_orders": {{ len .vars.orders }}
	}`, data)
	require.NoError(t, err)

	resultMap, ok := result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Alice", resultMap["user_name"])
	assert.Equal(t, 2.0, resultMap["total_orders"])
}

func TestRender_Conditional(t *testing.T) {
	data := map[string]any{"input": map[string]any{"status": 200}}

	result, err := Render("{{ if eq .input.status 200 }}success{{ else }}failed{{ end }}", data)
	require.NoError(t, err)
	assert.Equal(t, "success", result)
}

func TestRender_Functions(t *testing.T) {
	data := map[string]any{"vars": map[string]any{"name": ""}}

	result, err := Render(`{{ default "anonymous" .vars.name }}`, data)
	require.NoError(t, err)
	assert.Equal(t, "anonymous", result)

	result, err = Render(`{{ json .vars }}`, data)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": ""}, result)
}

func TestRender_ErrorHandling(t *testing.T) {
	data := map[string]any{"test": "value"}

	_, err := Render("{ invalid..expression }}", data)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse json")

	_, err = Render("{{ nonexistent.field }}", data)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "function \"nonexistent\" not defined")
}

func TestRender_StringInterpolation(t *testing.T) {
	data := map[string]any{
		"user": map[string]any{
			"name": "John",
			"id":   123,
		},
		"action": "login",
	}

	result, err := Render("User {{.user.name}} performed {{.action}}", data)
	require.NoError(t, err)
	assert.Equal(t, "User John performed login", result)

	result, err = Render("https://api.example.com/users/{{.user.id}}", data)
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com/users/123", result)
}

func TestRenderValue(t *testing.T) {
	data := map[string]any{"vars": map[string]any{"greeting": "hello", "count": 2}}

	tests := []struct {
		name  string
		value any
		want  any
	}{
		{name: "plain string", value: "no template", want: "no template"},
		{name: "number", value: 42, want: 42},
		{name: "templated string", value: "{{ .vars.greeting }} world", want: "hello world"},
		{
			name:  "nested map",
			value: map[string]any{"text": "{{ .vars.greeting }}", "n": "{{ .vars.count }}"},
			want:  map[string]any{"text": "hello", "n": 2.0},
		},
		{
			name:  "slice",
			value: []any{"{{ .vars.greeting }}", true},
			want:  []any{"hello", true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RenderValue(tt.value, data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
