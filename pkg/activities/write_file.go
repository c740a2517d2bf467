package activities

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/novotx/elsa-core/pkg/workflow"
)

var ErrFileExists = errors.New("file already exists")

// WriteFile writes Content to Directory/FileName. String content is written as is, anything
// else as indented JSON. An empty Content writes the workflow input.
type WriteFile struct {
	base

	FileName  string
	Directory string
	Overwrite bool
	Content   any
	Result    string
}

func newWriteFile(id string, config map[string]any, children []workflow.Activity) (workflow.Activity, error) {
	err := noChildren(TypeWriteFile, children)
	if err != nil {
		return nil, err
	}

	fileName, err := requiredString(TypeWriteFile, config, "file_name")
	if err != nil {
		return nil, err
	}

	overwrite, _ := config["overwrite"].(bool)

	return &WriteFile{
		base:      base{id: id},
		FileName:  fileName,
		Directory: optionalString(config, "directory", os.TempDir()),
		Overwrite: overwrite,
		Content:   config["content"],
		Result:    optionalString(config, "result", ""),
	}, nil
}

func (a *WriteFile) Type() string {
	return TypeWriteFile
}

func (a *WriteFile) Execute(ctx context.Context, actx *workflow.ActivityExecutionContext) error {
	fileName, err := actx.Evaluate(a.FileName)
	if err != nil {
		return fmt.Errorf("failed to evaluate file name: %w", err)
	}

	data, err := a.render(actx)
	if err != nil {
		return err
	}

	fullPath := filepath.Join(a.Directory, fmt.Sprint(fileName))

	if !a.Overwrite {
		_, err = os.Stat(fullPath)
		if err == nil {
			return fmt.Errorf("%w: %s", ErrFileExists, fullPath)
		}
	}

	err = os.MkdirAll(a.Directory, 0o755)
	if err != nil {
		return fmt.Errorf("failed to create directory %s: %w", a.Directory, err)
	}

	err = os.WriteFile(fullPath, data, 0o644)
	if err != nil {
		return fmt.Errorf("failed to write file %s: %w", fullPath, err)
	}

	result := map[string]any{
		"file_path":     fullPath,
		"bytes_written": len(data),
	}

	if a.Result != "" {
		actx.Set(a.Result, result)
	}

	return actx.Complete(ctx, result)
}

func (a *WriteFile) render(actx *workflow.ActivityExecutionContext) ([]byte, error) {
	var content any = actx.WorkflowContext().Input

	if a.Content != nil {
		evaluated, err := actx.Evaluate(a.Content)
		if err != nil {
			return nil, fmt.Errorf("failed to evaluate content: %w", err)
		}

		content = evaluated
	}

	if s, ok := content.(string); ok {
		return []byte(s), nil
	}

	data, err := json.MarshalIndent(content, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode content: %w", err)
	}

	return data, nil
}
