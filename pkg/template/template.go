// Package template evaluates the text/template expressions embedded in activity properties.
package template

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"text/template"
	"time"
)

// NeedsTemplating reports whether input contains a template action.
func NeedsTemplating(input string) bool {
	return strings.Contains(input, "{{")
}

// Render executes templateStr against data. Output that looks like JSON, a number or a boolean
// is decoded into the matching Go value; anything else is returned as a string.
func Render(templateStr string, data any) (any, error) {
	tmpl, err := template.
		New("expression").
		Funcs(template.FuncMap{
			"now": func() string {
				return time.Now().UTC().Format(time.RFC3339)
			},
			"json": func(v any) (string, error) {
				out, err := json.Marshal(v)

				return string(out), err
			},
			"default": func(fallback, v any) any {
				if v == nil || v == "" {
					return fallback
				}

				return v
			},
		}).Parse(templateStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template '%s': %w", templateStr, err)
	}

	var buf strings.Builder

	err = tmpl.Execute(&buf, data)
	if err != nil {
		return nil, fmt.Errorf("failed to execute template '%s': %w", templateStr, err)
	}

	return coerce(buf.String(), templateStr)
}

// RenderValue renders every templated string inside value, descending into maps and slices.
// Non-string leaves are returned unchanged.
func RenderValue(value any, data any) (any, error) {
	switch v := value.(type) {
	case string:
		if !NeedsTemplating(v) {
			return v, nil
		}

		return Render(v, data)
	case map[string]any:
		out := make(map[string]any, len(v))

		for key, item := range v {
			rendered, err := RenderValue(item, data)
			if err != nil {
				return nil, err
			}

			out[key] = rendered
		}

		return out, nil
	case []any:
		out := make([]any, len(v))

		for i, item := range v {
			rendered, err := RenderValue(item, data)
			if err != nil {
				return nil, err
			}

			out[i] = rendered
		}

		return out, nil
	default:
		return value, nil
	}
}

func coerce(rendered, templateStr string) (any, error) {
	result := strings.TrimSpace(rendered)

	if (strings.HasPrefix(result, "{") && strings.HasSuffix(result, "}")) ||
		(strings.HasPrefix(result, "[") && strings.HasSuffix(result, "]")) {
		var jsonResult any

		err := json.Unmarshal([]byte(result), &jsonResult)
		if err != nil {
			return nil, fmt.Errorf("failed to parse json '%s': %w", templateStr, err)
		}

		return jsonResult, nil
	}

	if num, err := strconv.ParseFloat(result, 64); err == nil {
		return num, nil
	}

	if b, err := strconv.ParseBool(result); err == nil {
		return b, nil
	}

	return rendered, nil
}
